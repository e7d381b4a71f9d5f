package mergebam

import (
	"bytes"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(t *testing.T) (*sam.Header, *sam.Reference) {
	ref, err := sam.NewReference("chr1", "", "", 10000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	return header, ref
}

func TestRecordCodecRoundTrip(t *testing.T) {
	header, ref := testHeader(t)
	codec := newRecordCodec(header)

	rgTag := sam.NewTag("RG")
	aux, err := sam.NewAux(rgTag, "rg1")
	require.NoError(t, err)

	rec := &sam.Record{
		Name:      "read1",
		Ref:       ref,
		Pos:       42,
		MateRef:   ref,
		MatePos:   142,
		TempLen:   200,
		Flags:     sam.Paired | sam.Read1,
		MapQ:      30,
		Cigar:     sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)},
		Seq:       sam.NewSeq([]byte("ACGTACGTAC")),
		Qual:      []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		AuxFields: sam.AuxFields{aux},
	}

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, rec))

	decoded, err := codec.Decode(&buf)
	require.NoError(t, err)
	got := decoded.(*sam.Record)

	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Pos, got.Pos)
	assert.Equal(t, rec.MatePos, got.MatePos)
	assert.Equal(t, rec.TempLen, got.TempLen)
	assert.Equal(t, rec.Flags, got.Flags)
	assert.Equal(t, rec.MapQ, got.MapQ)
	assert.Equal(t, rec.Cigar, got.Cigar)
	assert.Equal(t, rec.Seq.Expand(), got.Seq.Expand())
	assert.Equal(t, rec.Qual, got.Qual)
	assert.Equal(t, ref.Name(), got.Ref.Name())
	assert.Equal(t, ref.Name(), got.MateRef.Name())
	require.Len(t, got.AuxFields, 1)
	assert.Equal(t, "rg1", got.AuxFields[0].Value())
}

func TestRecordCodecUnmappedNilRef(t *testing.T) {
	header, _ := testHeader(t)
	codec := newRecordCodec(header)

	rec := &sam.Record{
		Name:  "unmapped1",
		Flags: sam.Unmapped,
		Cigar: sam.Cigar{},
		Seq:   sam.NewSeq([]byte("ACGT")),
		Qual:  []byte{1, 2, 3, 4},
	}

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, rec))
	decoded, err := codec.Decode(&buf)
	require.NoError(t, err)
	got := decoded.(*sam.Record)
	assert.Nil(t, got.Ref)
	assert.Nil(t, got.MateRef)
	assert.Equal(t, rec.Name, got.Name)
}
