package mergebam

import (
	"io"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// recordSource is the hitsagg.Source shape, adopted directly so every
// decorator below is already usable as the aligned side of an
// hitsagg.Aggregator.
type recordSource interface {
	Scan() bool
	Record() *sam.Record
	Err() error
}

// bamSource adapts a *bam.Reader to recordSource, treating io.EOF as clean
// exhaustion rather than an error.
type bamSource struct {
	r   *bam.Reader
	rec *sam.Record
	err error
}

func newBAMSource(r *bam.Reader) *bamSource {
	return &bamSource{r: r}
}

func (s *bamSource) Scan() bool {
	if s.err != nil {
		return false
	}
	rec, err := s.r.Read()
	if err != nil {
		if err != io.EOF {
			s.err = fault.Errorf(fault.IO, "mergebam: reading aligned input: %v", err)
		}
		s.rec = nil
		return false
	}
	s.rec = rec
	return true
}

func (s *bamSource) Record() *sam.Record { return s.rec }
func (s *bamSource) Err() error          { return s.err }

// taggedSource ORs extra onto every record a wrapped source yields, used to
// mark which of Read1Aligned/Read2Aligned a single-end alignment came from
// before the two streams are merged together.
type taggedSource struct {
	recordSource
	extra sam.Flags
}

func (s *taggedSource) Record() *sam.Record {
	r := s.recordSource.Record()
	if r != nil {
		r.Flags |= s.extra
	}
	return r
}

// mergedSource performs a simple O(n)-per-Scan k-way merge by record name
// across a small number of sources, each of which is assumed to already be
// name-ordered internally. Global order is therefore only as good as each
// input's own order; hitsagg.Aggregator is the authoritative detector of a
// source that actually arrives out of order.
type mergedSource struct {
	sources []recordSource
	ready   []bool
	cur     *sam.Record
	err     error
}

func mergeSources(sources []recordSource) recordSource {
	if len(sources) == 1 {
		return sources[0]
	}
	m := &mergedSource{sources: sources, ready: make([]bool, len(sources))}
	for i, s := range sources {
		m.ready[i] = s.Scan()
	}
	return m
}

func (m *mergedSource) Scan() bool {
	best := -1
	for i, ok := range m.ready {
		if !ok {
			continue
		}
		if best == -1 || m.sources[i].Record().Name < m.sources[best].Record().Name {
			best = i
		}
	}
	if best == -1 {
		m.cur = nil
		return false
	}
	m.cur = m.sources[best].Record()
	m.ready[best] = m.sources[best].Scan()
	if err := m.sources[best].Err(); err != nil {
		m.err = err
	}
	return true
}

func (m *mergedSource) Record() *sam.Record { return m.cur }
func (m *mergedSource) Err() error          { return m.err }
