package mergebam

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRef(t *testing.T, name string, length int) *sam.Reference {
	ref, err := sam.NewReference(name, "", "", length, nil, nil)
	require.NoError(t, err)
	return ref
}

func TestClassifyPairOrientation(t *testing.T) {
	chr1 := mustRef(t, "chr1", 10000)
	fwd := &sam.Record{Ref: chr1, Pos: 10, Flags: sam.Paired}
	rev := &sam.Record{Ref: chr1, Pos: 100, Flags: sam.Paired | sam.Reverse}
	assert.Equal(t, FR, classifyPairOrientation(fwd, rev))

	revUpstream := &sam.Record{Ref: chr1, Pos: 10, Flags: sam.Paired | sam.Reverse}
	fwdDownstream := &sam.Record{Ref: chr1, Pos: 100, Flags: sam.Paired}
	assert.Equal(t, RF, classifyPairOrientation(revUpstream, fwdDownstream))

	sameStrand := &sam.Record{Ref: chr1, Pos: 50, Flags: sam.Paired}
	assert.Equal(t, TANDEM, classifyPairOrientation(fwd, sameStrand))
}

func TestClipReferenceEndSplitsOp(t *testing.T) {
	chr1 := mustRef(t, "chr1", 10000)
	r := &sam.Record{
		Ref:   chr1,
		Pos:   0,
		Flags: sam.Paired,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
	}
	clipReferenceEnd(r, 4)
	require.Len(t, r.Cigar, 2)
	assert.Equal(t, sam.CigarMatch, r.Cigar[0].Type())
	assert.Equal(t, 6, r.Cigar[0].Len())
	assert.Equal(t, sam.CigarSoftClipped, r.Cigar[1].Type())
	assert.Equal(t, 4, r.Cigar[1].Len())
}

func TestClipReferenceStartShiftsPos(t *testing.T) {
	chr1 := mustRef(t, "chr1", 10000)
	r := &sam.Record{
		Ref:   chr1,
		Pos:   100,
		Flags: sam.Paired,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
	}
	clipReferenceStart(r, 3)
	require.Len(t, r.Cigar, 2)
	assert.Equal(t, sam.CigarSoftClipped, r.Cigar[0].Type())
	assert.Equal(t, 3, r.Cigar[0].Len())
	assert.Equal(t, sam.CigarMatch, r.Cigar[1].Type())
	assert.Equal(t, 7, r.Cigar[1].Len())
	assert.Equal(t, 103, r.Pos)
}

func TestClipOverlapClipsInnieProtrusion(t *testing.T) {
	chr1 := mustRef(t, "chr1", 10000)
	// pos read covers [10,30), neg read covers [0,20): an innie pair where
	// each mate protrudes past the other's far end.
	pos := &sam.Record{
		Ref: chr1, Pos: 10, Flags: sam.Paired,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 20)}, // covers [10,30)
	}
	neg := &sam.Record{
		Ref: chr1, Pos: 0, Flags: sam.Paired | sam.Reverse,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 20)}, // covers [0,20)
	}
	cfg := &Config{}
	cfg.clipOverlap(pos, neg)

	// pos.End()=30, neg.End()=20: posDiff=10>0 -> clip 10 off pos's right end.
	posRefLen, _ := pos.Cigar.Lengths()
	assert.Equal(t, 10, posRefLen)
	// neg.Pos=0, pos.Pos=10: negDiff = pos.Pos - neg.Pos = 10>0 -> clip 10 off
	// neg's left end, advancing neg.Pos by 10.
	assert.Equal(t, 10, neg.Pos)
}

func TestInsertSizeSign(t *testing.T) {
	chr1 := mustRef(t, "chr1", 10000)
	left := &sam.Record{Ref: chr1, Pos: 10, Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 50)}}
	right := &sam.Record{Ref: chr1, Pos: 100, Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 50)}}
	assert.True(t, insertSize(left, right) > 0)
	assert.True(t, insertSize(right, left) < 0)
}
