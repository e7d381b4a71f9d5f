package reference_test

import (
	"strings"
	"testing"

	"github.com/grailbio/bamkit/encoding/fasta"
	"github.com/grailbio/bamkit/reference"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFasta(t *testing.T, name, seq string) fasta.Fasta {
	f, err := fasta.New(strings.NewReader(">" + name + "\n" + seq + "\n"))
	require.NoError(t, err)
	return f
}

func auxInt(r *sam.Record, tag sam.Tag) (int, bool) {
	aux := r.AuxFields.Get(tag)
	if aux == nil {
		return 0, false
	}
	switch v := aux.Value().(type) {
	case int8:
		return int(v), true
	case uint8:
		return int(v), true
	case int16:
		return int(v), true
	case uint16:
		return int(v), true
	case int32:
		return int(v), true
	case uint32:
		return int(v), true
	}
	return 0, false
}

func TestRecomputeNoMismatches(t *testing.T) {
	ref, err := sam.NewReference("chr1", "", "", 20, nil, nil)
	require.NoError(t, err)
	f := mustFasta(t, "chr1", "ACGTACGTACGTACGTACGT")

	r := &sam.Record{
		Ref:   ref,
		Pos:   0,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 8)},
		Seq:   sam.NewSeq([]byte("ACGTACGT")),
		Qual:  []byte{30, 30, 30, 30, 30, 30, 30, 30},
	}

	rc := reference.New(f, false)
	require.NoError(t, rc.Recompute(r))

	nm, ok := auxInt(r, sam.Tag{'N', 'M'})
	require.True(t, ok)
	assert.Equal(t, 0, nm)
	uq, ok := auxInt(r, sam.Tag{'U', 'Q'})
	require.True(t, ok)
	assert.Equal(t, 0, uq)
}

func TestRecomputeWithMismatchAndIndel(t *testing.T) {
	ref, err := sam.NewReference("chr1", "", "", 20, nil, nil)
	require.NoError(t, err)
	f := mustFasta(t, "chr1", "AAAACCCCGGGGTTTTAAAA")

	// Reference bases 0-6: AAAACCC. Read: AATACCC aligned, then a final G
	// that is a 1bp insertion, with a mismatch at position 2 (A -> T).
	r := &sam.Record{
		Ref:   ref,
		Pos:   0,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 7), sam.NewCigarOp(sam.CigarInsertion, 1)},
		Seq:   sam.NewSeq([]byte("AATACCCG")),
		Qual:  []byte{20, 20, 20, 20, 20, 20, 20, 20},
	}

	rc := reference.New(f, false)
	require.NoError(t, rc.Recompute(r))

	nm, ok := auxInt(r, sam.Tag{'N', 'M'})
	require.True(t, ok)
	// 1 mismatch (position 2) + 1 inserted base = 2.
	assert.Equal(t, 2, nm)
	uq, ok := auxInt(r, sam.Tag{'U', 'Q'})
	require.True(t, ok)
	assert.Equal(t, 20, uq)
}

func TestRecomputeBisulfiteTreatsCTAsMatch(t *testing.T) {
	ref, err := sam.NewReference("chr1", "", "", 20, nil, nil)
	require.NoError(t, err)
	f := mustFasta(t, "chr1", "CCCCCCCCCCCCCCCCCCCC")

	r := &sam.Record{
		Ref:   ref,
		Pos:   0,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 8)},
		Seq:   sam.NewSeq([]byte("TTTTTTTT")),
		Qual:  []byte{30, 30, 30, 30, 30, 30, 30, 30},
	}

	rc := reference.New(f, true)
	require.NoError(t, rc.Recompute(r))

	nm, ok := auxInt(r, sam.Tag{'N', 'M'})
	require.True(t, ok)
	assert.Equal(t, 0, nm)
}

func TestRecomputeSkipsUnmapped(t *testing.T) {
	f := mustFasta(t, "chr1", "ACGT")
	r := &sam.Record{Flags: sam.Unmapped}
	rc := reference.New(f, false)
	require.NoError(t, rc.Recompute(r))
	_, ok := auxInt(r, sam.Tag{'N', 'M'})
	assert.False(t, ok)
}
