package mergebam

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReservedTag(t *testing.T) {
	assert.True(t, isReservedTag(sam.NewTag("XT")))
	assert.True(t, isReservedTag(sam.NewTag("as")))
	assert.False(t, isReservedTag(sam.NewTag("RG")))
	assert.False(t, isReservedTag(sam.NewTag("NM")))
}

func TestCopyAttributesDropsReservedUnlessRetained(t *testing.T) {
	rgAux, err := sam.NewAux(sam.NewTag("RG"), "rg1")
	require.NoError(t, err)
	xtAux, err := sam.NewAux(sam.NewTag("XT"), 5)
	require.NoError(t, err)
	src := &sam.Record{AuxFields: sam.AuxFields{rgAux, xtAux}}
	dst := &sam.Record{}

	copyAttributes(dst, src, nil)
	require.Len(t, dst.AuxFields, 1)
	assert.Equal(t, "RG", dst.AuxFields[0].Tag().String())

	dst2 := &sam.Record{}
	copyAttributes(dst2, src, map[string]bool{"XT": true})
	assert.Len(t, dst2.AuxFields, 2)
}

func TestCloneTemplateIsIndependent(t *testing.T) {
	rec := &sam.Record{
		Name:  "a",
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 5)},
	}
	clone := cloneTemplate(rec)
	clone.Cigar[0] = sam.NewCigarOp(sam.CigarSoftClipped, 5)
	assert.Equal(t, sam.CigarMatch, rec.Cigar[0].Type())
	assert.Equal(t, sam.CigarSoftClipped, clone.Cigar[0].Type())
}

func TestReverseComplementInPlace(t *testing.T) {
	r := &sam.Record{
		Seq:  sam.NewSeq([]byte("ACGTN")),
		Qual: []byte{1, 2, 3, 4, 5},
	}
	reverseComplementInPlace(r)
	assert.Equal(t, "NACGT", string(r.Seq.Expand()))
	assert.Equal(t, []byte{5, 4, 3, 2, 1}, r.Qual)
}

func TestTransferHitMapsMappedAlignment(t *testing.T) {
	chr1 := mustRef(t, "chr1", 10000)
	cfg := &Config{Reference: fakeFasta{"chr1": 10000}}

	template := &sam.Record{
		Name:  "r1/1",
		Flags: sam.Paired | sam.Read1 | sam.Unmapped,
		Seq:   sam.NewSeq([]byte("ACGTACGTAC")),
		Qual:  []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	}
	aligned := &sam.Record{
		Ref:   chr1,
		Pos:   100,
		Flags: sam.Paired | sam.Read1,
		MapQ:  40,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
	}

	cfg.transferHit(template, aligned)

	assert.False(t, template.Flags&sam.Unmapped != 0)
	assert.Equal(t, chr1, template.Ref)
	assert.Equal(t, 100, template.Pos)
	assert.Equal(t, byte(40), template.MapQ)
	assert.Equal(t, "ACGTACGTAC", string(template.Seq.Expand()))
}

func TestTransferHitReverseStrandRevcomps(t *testing.T) {
	chr1 := mustRef(t, "chr1", 10000)
	cfg := &Config{Reference: fakeFasta{"chr1": 10000}}

	template := &sam.Record{
		Name:  "r1/1",
		Flags: sam.Paired | sam.Read1 | sam.Unmapped,
		Seq:   sam.NewSeq([]byte("AAAACCCCGG")),
		Qual:  make([]byte, 10),
	}
	aligned := &sam.Record{
		Ref:   chr1,
		Pos:   5,
		Flags: sam.Paired | sam.Read1 | sam.Reverse,
		MapQ:  10,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
	}

	cfg.transferHit(template, aligned)
	assert.Equal(t, "CCGGGGTTTT", string(template.Seq.Expand()))
}

func TestReconcileTrimPadsForwardStrand(t *testing.T) {
	cfg := &Config{Read1BasesTrimmed: 3}
	template := &sam.Record{
		Flags: sam.Paired | sam.Read1,
		Seq:   sam.NewSeq(make([]byte, 13)),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
	}
	cfg.reconcileTrim(template)
	require.Len(t, template.Cigar, 2)
	assert.Equal(t, sam.CigarSoftClipped, template.Cigar[0].Type())
	assert.Equal(t, 3, template.Cigar[0].Len())
	assert.Equal(t, sam.CigarMatch, template.Cigar[1].Type())
}

func TestReconcileTrimPadsReverseStrandOppositeEnd(t *testing.T) {
	cfg := &Config{Read1BasesTrimmed: 3}
	template := &sam.Record{
		Flags: sam.Paired | sam.Read1 | sam.Reverse,
		Seq:   sam.NewSeq(make([]byte, 13)),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
	}
	cfg.reconcileTrim(template)
	require.Len(t, template.Cigar, 2)
	assert.Equal(t, sam.CigarMatch, template.Cigar[0].Type())
	assert.Equal(t, sam.CigarSoftClipped, template.Cigar[1].Type())
	assert.Equal(t, 3, template.Cigar[1].Len())
}

func TestClipAdapterForwardStrandClipsQueryEnd(t *testing.T) {
	cfg := &Config{}
	xtAux, err := sam.NewAux(xtTag, 8)
	require.NoError(t, err)
	template := &sam.Record{
		Flags: sam.Paired,
		Seq:   sam.NewSeq(make([]byte, 10)),
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
	}
	aligned := &sam.Record{AuxFields: sam.AuxFields{xtAux}}

	cfg.clipAdapter(template, aligned)
	require.Len(t, template.Cigar, 2)
	assert.Equal(t, sam.CigarMatch, template.Cigar[0].Type())
	assert.Equal(t, 7, template.Cigar[0].Len())
	assert.Equal(t, sam.CigarSoftClipped, template.Cigar[1].Type())
	assert.Equal(t, 3, template.Cigar[1].Len())
}

type fakeFasta map[string]uint64

func (f fakeFasta) Get(name string, start, end uint64) (string, error) { return "", nil }
func (f fakeFasta) Len(name string) (uint64, error)                    { return f[name], nil }
func (f fakeFasta) SeqNames() []string {
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	return names
}
