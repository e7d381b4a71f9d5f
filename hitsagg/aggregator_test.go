package hitsagg_test

import (
	"testing"

	"github.com/grailbio/bamkit/hitsagg"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	records []*sam.Record
	idx     int
}

func (s *sliceSource) Scan() bool {
	if s.idx >= len(s.records) {
		return false
	}
	s.idx++
	return true
}

func (s *sliceSource) Record() *sam.Record { return s.records[s.idx-1] }
func (s *sliceSource) Err() error          { return nil }

func newFragment(name string, mapq byte) *sam.Record {
	return &sam.Record{Name: name, Flags: 0, MapQ: mapq, Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)}}
}

func TestSingleHitClearsHIAndMarksPrimary(t *testing.T) {
	r := newFragment("read-a", 30)
	src := &sliceSource{records: []*sam.Record{r}}
	agg := hitsagg.New(src, hitsagg.BestMAPQ{}, 1)

	require.True(t, agg.Scan())
	h := agg.Hits()
	assert.Equal(t, 1, h.NumHits())
	assert.Equal(t, 0, h.PrimaryIndex)
	assert.False(t, agg.Scan())
	require.NoError(t, agg.Err())
}

func TestMultiHitPicksBestMAPQ(t *testing.T) {
	a := newFragment("read-b", 10)
	b := newFragment("read-b", 40)
	src := &sliceSource{records: []*sam.Record{a, b}}
	agg := hitsagg.New(src, hitsagg.BestMAPQ{}, 1)

	require.True(t, agg.Scan())
	h := agg.Hits()
	assert.Equal(t, 2, h.NumHits())
	assert.Equal(t, 1, h.PrimaryIndex)
	assert.True(t, h.First[1].Flags&sam.Secondary == 0)
	assert.True(t, h.First[0].Flags&sam.Secondary != 0)
}

func TestOutOfOrderNamesFail(t *testing.T) {
	a := newFragment("b", 10)
	b := newFragment("a", 10)
	src := &sliceSource{records: []*sam.Record{a, b}}
	agg := hitsagg.New(src, hitsagg.BestMAPQ{}, 1)

	require.True(t, agg.Scan())
	assert.False(t, agg.Scan())
	require.Error(t, agg.Err())
	_, ok := agg.Err().(*hitsagg.NotSortedError)
	assert.True(t, ok)
}
