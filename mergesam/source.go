package mergesam

import (
	"io"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/samheader"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

var (
	rgTag = sam.NewTag("RG")
	pgTag = sam.NewTag("PG")
)

// recordSource is the narrow scan/record/err shape every stage of the
// merge pipeline is built against, the same contract mergebam's
// recordSource uses for its own decorator chain.
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
			s.err = fault.Errorf(fault.IO, "mergesam: reading input: %v", err)
		}
		s.rec = nil
		return false
	}
	s.rec = rec
	return true
}

func (s *bamSource) Record() *sam.Record { return s.rec }
func (s *bamSource) Err() error          { return s.err }

// translatingSource rewrites every record a wrapped source yields so it is
// valid against the merged header: its Ref/MateRef are swapped for the
// merged header's Reference with the same name, and its RG/PG aux tags are
// rewritten through that input's id-translation table from
// samheader.MergedHeader, the same remap samheader.Merge already built
// while reconciling read-group and program-group collisions.
type translatingSource struct {
	recordSource
	refByName map[string]*sam.Reference
	rgRemap   map[string]string
	pgRemap   map[string]string
}

func newTranslatingSource(src recordSource, mh *samheader.MergedHeader, index int) *translatingSource {
	refByName := make(map[string]*sam.Reference, len(mh.Header.Refs()))
	for _, ref := range mh.Header.Refs() {
		refByName[ref.Name()] = ref
	}
	return &translatingSource{
		recordSource: src,
		refByName:    refByName,
		rgRemap:      mh.ReadGroupRemap[index],
		pgRemap:      mh.ProgramRemap[index],
	}
}

func (s *translatingSource) Record() *sam.Record {
	r := s.recordSource.Record()
	if r == nil {
		return nil
	}
	if r.Ref != nil {
		r.Ref = s.refByName[r.Ref.Name()]
	}
	if r.MateRef != nil {
		r.MateRef = s.refByName[r.MateRef.Name()]
	}
	remapTag(r, rgTag, s.rgRemap)
	remapTag(r, pgTag, s.pgRemap)
	return r
}

// remapTag rewrites r's aux field for tag through remap, if both the tag
// is present and remap actually renames it (the common case is a no-op:
// most inputs' read-group and program-group ids survive a merge
// untouched).
func remapTag(r *sam.Record, tag sam.Tag, remap map[string]string) {
	if len(remap) == 0 {
		return
	}
	aux := r.AuxFields.Get(tag)
	if aux == nil {
		return
	}
	old, ok := aux.Value().(string)
	if !ok {
		return
	}
	newID, ok := remap[old]
	if !ok || newID == old {
		return
	}
	newAux, err := sam.NewAux(tag, newID)
	if err != nil {
		return
	}
	for i, a := range r.AuxFields {
		if a.Tag() == tag {
			r.AuxFields[i] = newAux
			return
		}
	}
}

// kWayMergeSource performs an O(n)-per-Scan k-way merge over sources that
// are each individually trusted to already be ordered by less (the
// AssumeSorted contract); global order is therefore only as good as each
// input's own claim, exactly mirroring mergebam.mergedSource's posture for
// a query-name merge generalized here to an arbitrary comparator.
type kWayMergeSource struct {
	sources []recordSource
	less    func(a, b *sam.Record) bool
	ready   []bool
	cur     *sam.Record
	err     error
}

func newKWayMergeSource(sources []recordSource, less func(a, b *sam.Record) bool) recordSource {
	if len(sources) == 1 {
		return sources[0]
	}
	m := &kWayMergeSource{sources: sources, less: less, ready: make([]bool, len(sources))}
	for i, s := range sources {
		m.ready[i] = s.Scan()
	}
	return m
}

func (m *kWayMergeSource) Scan() bool {
	best := -1
	for i, ok := range m.ready {
		if !ok {
			continue
		}
		if best == -1 || m.less(m.sources[i].Record(), m.sources[best].Record()) {
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

func (m *kWayMergeSource) Record() *sam.Record { return m.cur }
func (m *kWayMergeSource) Err() error          { return m.err }

func coordinateLess(a, b *sam.Record) bool {
	aRef, bRef := refIndex(a.Ref), refIndex(b.Ref)
	if aRef != bRef {
		if aRef == -1 {
			return false
		}
		if bRef == -1 {
			return true
		}
		return aRef < bRef
	}
	if aRef == -1 {
		return false
	}
	return a.Pos < b.Pos
}

func nameLess(a, b *sam.Record) bool {
	return a.Name < b.Name
}

func refIndex(ref *sam.Reference) int {
	if ref == nil {
		return -1
	}
	return ref.ID()
}

func lessForSortOrder(order sam.SortOrder) func(a, b *sam.Record) bool {
	if order == sam.QueryName {
		return nameLess
	}
	return coordinateLess
}
