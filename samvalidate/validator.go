package samvalidate

import "sync"

// Config drives which findings a Validator actually surfaces.
type Config struct {
	// Ignore lists finding types that should not be recorded at all.
	Ignore []Type
	// IgnoreWarnings suppresses every Warning-severity finding, regardless
	// of Ignore.
	IgnoreWarnings bool
	// MaxOutput caps how many verbose Finding lines are retained; the
	// per-type histogram counts every occurrence regardless of this cap.
	MaxOutput int
}

// Validator accumulates validation Findings into a per-type histogram plus
// an optional capped verbose log, the way dedup.MetricsCollection
// accumulates its optical-distance histogram.
type Validator struct {
	cfg     Config
	ignored map[Type]bool

	mu        sync.Mutex
	Histogram map[Type]int64
	Verbose   []Finding
}

// New creates a Validator driven by cfg.
func New(cfg Config) *Validator {
	ignored := make(map[Type]bool, len(cfg.Ignore))
	for _, t := range cfg.Ignore {
		ignored[t] = true
	}
	return &Validator{
		cfg:       cfg,
		ignored:   ignored,
		Histogram: make(map[Type]int64),
	}
}

// record applies the Ignore/IgnoreWarnings/MaxOutput policy to f, updating
// the histogram and (if under the cap) the verbose log.
func (v *Validator) record(f Finding) {
	if v.ignored[f.Type] {
		return
	}
	if v.cfg.IgnoreWarnings && f.Severity == Warning {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Histogram[f.Type]++
	if v.cfg.MaxOutput <= 0 || len(v.Verbose) < v.cfg.MaxOutput {
		v.Verbose = append(v.Verbose, f)
	}
}

// Count returns how many findings of type t have been recorded (including
// ones dropped from Verbose once MaxOutput was reached).
func (v *Validator) Count(t Type) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Histogram[t]
}

// HasErrors reports whether any Error-severity finding has been recorded.
func (v *Validator) HasErrors() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for t, n := range v.Histogram {
		if n > 0 && severityOf(t) == Error {
			return true
		}
	}
	return false
}

// Merge folds other's histogram and verbose log into v, for combining
// per-shard validators run in parallel.
func (v *Validator) Merge(other *Validator) {
	other.mu.Lock()
	hist := make(map[Type]int64, len(other.Histogram))
	for t, n := range other.Histogram {
		hist[t] = n
	}
	verbose := append([]Finding(nil), other.Verbose...)
	other.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	for t, n := range hist {
		v.Histogram[t] += n
	}
	for _, f := range verbose {
		if v.cfg.MaxOutput <= 0 || len(v.Verbose) < v.cfg.MaxOutput {
			v.Verbose = append(v.Verbose, f)
		}
	}
}
