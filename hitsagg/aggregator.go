package hitsagg

import (
	"math/rand"
	"sort"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/sam"
)

// Source is the minimal record stream hitsagg consumes: the teacher's
// bamprovider.Iterator shape (Scan/Record/Err), so any BAM iterator or an
// in-memory/sorted-collection replay satisfies it without adapters.
type Source interface {
	Scan() bool
	Record() *sam.Record
	Err() error
}

var hiQueryTag = sam.Tag{'H', 'I'}

// Aggregator groups a query-name-sorted Source into HitsForInsert values
// and selects a primary alignment per group.
type Aggregator struct {
	src      Source
	strategy Strategy
	rng      *rand.Rand

	lookahead  *sam.Record
	haveLook   bool
	lastName   string
	haveLast   bool
	current    *HitsForInsert
	err        error
	sourceDone bool
}

// New creates an Aggregator reading from src, choosing primaries with
// strategy. rngSeed makes tie-breaking reproducible across runs of the same
// input, per spec.md's determinism requirement.
func New(src Source, strategy Strategy, rngSeed int64) *Aggregator {
	return &Aggregator{src: src, strategy: strategy, rng: rand.New(rand.NewSource(rngSeed))}
}

func refConsumedLen(cigar sam.Cigar) int {
	n := 0
	for _, op := range cigar {
		if op.Type().Consumes().Reference != 0 {
			n += op.Len()
		}
	}
	return n
}

// passesBaseFilter implements rule 1: drop records whose read is unmapped
// and whose CIGAR maps zero bases to the reference.
func passesBaseFilter(r *sam.Record) bool {
	if r.Flags&sam.Unmapped == 0 {
		return true
	}
	return refConsumedLen(r.Cigar) > 0
}

func (a *Aggregator) next() (*sam.Record, bool, error) {
	if a.haveLook {
		a.haveLook = false
		return a.lookahead, true, nil
	}
	for a.src.Scan() {
		r := a.src.Record()
		if !passesBaseFilter(r) {
			continue
		}
		return r, true, nil
	}
	return nil, false, a.src.Err()
}

func (a *Aggregator) pushback(r *sam.Record) {
	a.lookahead = r
	a.haveLook = true
}

type hiBucket struct {
	hi            int
	first, second *sam.Record
	supFirst      []*sam.Record
	supSecond     []*sam.Record
}

func hiOf(r *sam.Record) int {
	aux := r.AuxFields.Get(hiQueryTag)
	if aux == nil {
		return 0
	}
	switch v := aux.Value().(type) {
	case int8:
		return int(v)
	case uint8:
		return int(v)
	case int16:
		return int(v)
	case uint16:
		return int(v)
	case int32:
		return int(v)
	case uint32:
		return int(v)
	}
	return 0
}

// Scan advances to the next template's HitsForInsert, returning false once
// the source is exhausted or an error (including *NotSortedError) has
// occurred.
func (a *Aggregator) Scan() bool {
	if a.err != nil || a.sourceDone {
		return false
	}
	r, ok, err := a.next()
	if err != nil {
		a.err = err
		return false
	}
	if !ok {
		a.sourceDone = true
		return false
	}
	name := r.Name
	if a.haveLast && name < a.lastName {
		a.err = &NotSortedError{Name: name, Prev: a.lastName}
		return false
	}

	paired := r.Flags&sam.Paired != 0
	buckets := map[int]*hiBucket{}
	var order []int
	bucket := func(hi int) *hiBucket {
		b, ok := buckets[hi]
		if !ok {
			b = &hiBucket{hi: hi}
			buckets[hi] = b
			order = append(order, hi)
		}
		return b
	}

	// Records with no HI tag each open a slot of their own after every tagged
	// slot; untagged supplementary records join the first untagged slot.
	const untaggedBase = 1 << 30
	var untaggedFirst, untaggedSecond int
	accumulate := func(rec *sam.Record) error {
		if (rec.Flags&sam.Paired != 0) != paired {
			return fault.Errorf(fault.ContractViolation, "hitsagg: mixed paired/unpaired arrivals for read %q", name)
		}
		supplementary := rec.Flags&sam.Supplementary != 0
		second := paired && rec.Flags&sam.Read2 != 0
		hi := hiOf(rec)
		if rec.AuxFields.Get(hiQueryTag) == nil {
			switch {
			case supplementary:
				hi = untaggedBase
			case second:
				hi, untaggedSecond = untaggedBase+untaggedSecond, untaggedSecond+1
			default:
				hi, untaggedFirst = untaggedBase+untaggedFirst, untaggedFirst+1
			}
		}
		b := bucket(hi)
		switch {
		case supplementary && !second:
			b.supFirst = append(b.supFirst, rec)
		case supplementary && second:
			b.supSecond = append(b.supSecond, rec)
		case !second:
			b.first = rec
		default:
			b.second = rec
		}
		return nil
	}

	if err := accumulate(r); err != nil {
		a.err = err
		return false
	}
	for {
		next, ok, err := a.next()
		if err != nil {
			a.err = err
			return false
		}
		if !ok {
			a.sourceDone = true
			break
		}
		if next.Name != name {
			a.pushback(next)
			break
		}
		if err := accumulate(next); err != nil {
			a.err = err
			return false
		}
	}
	a.lastName = name
	a.haveLast = true

	sort.Ints(order)
	h := &HitsForInsert{Paired: paired, PrimaryIndex: -1}
	var supSecondCount, supFirstCount int
	for rank, hi := range order {
		b := buckets[hi]
		h.First = append(h.First, b.first)
		if paired {
			h.Second = append(h.Second, b.second)
		}
		for range b.supFirst {
			h.SupplementaryFirstHI = append(h.SupplementaryFirstHI, rank)
		}
		for range b.supSecond {
			h.SupplementarySecondHI = append(h.SupplementarySecondHI, rank)
		}
		h.SupplementaryFirst = append(h.SupplementaryFirst, b.supFirst...)
		h.SupplementarySecond = append(h.SupplementarySecond, b.supSecond...)
		supFirstCount += len(b.supFirst)
		supSecondCount += len(b.supSecond)
	}
	if supSecondCount > 0 && supSecondCount != supFirstCount {
		a.err = fault.Errorf(fault.ContractViolation,
			"hitsagg: read %q has %d second-of-pair supplementary records but %d first-of-pair/fragment", name, supSecondCount, supFirstCount)
		return false
	}

	if h.NumHits() == 1 {
		h.finalize(0)
	} else {
		h.finalize(a.strategy.Pick(h, a.rng))
	}
	a.current = h
	return true
}

// Hits returns the current HitsForInsert. It must be called only after Scan
// returns true.
func (a *Aggregator) Hits() *HitsForInsert {
	return a.current
}

// Err returns the error that stopped iteration, if any.
func (a *Aggregator) Err() error {
	return a.err
}
