package samvalidate

import (
	"testing"
	"time"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHeaderFlagsMissingDictionaryAndReadGroup(t *testing.T) {
	header, err := sam.NewHeader(nil, nil)
	require.NoError(t, err)

	v := New(Config{})
	v.ValidateHeader(header)

	assert.EqualValues(t, 1, v.Count(MissingSequenceDictionary))
	assert.EqualValues(t, 1, v.Count(MissingReadGroup))
}

func TestValidateHeaderCleanPasses(t *testing.T) {
	ref, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	rg, err := sam.NewReadGroup("rg1", "", "", "", "", "", "", "", "", "", time.Time{}, 0)
	require.NoError(t, err)
	require.NoError(t, header.AddReadGroup(rg))

	v := New(Config{})
	v.ValidateHeader(header)
	assert.Zero(t, v.Count(MissingSequenceDictionary))
	assert.Zero(t, v.Count(MissingReadGroup))
}

func TestValidateProgramGroupsAcceptsUniqueIDs(t *testing.T) {
	header, err := sam.NewHeader(nil, nil)
	require.NoError(t, err)
	pg1 := sam.NewProgram("bwa", "bwa", "bwa mem", "", "0.7.17")
	pg2 := sam.NewProgram("samtools", "samtools", "samtools sort", "bwa", "1.9")
	require.NoError(t, header.AddProgram(pg1))
	require.NoError(t, header.AddProgram(pg2))

	v := New(Config{})
	v.ValidateProgramGroups(header)
	assert.Zero(t, v.Count(DuplicateProgramGroupID))

	// header.AddProgram itself refuses a second program with the same uid,
	// so ValidateProgramGroups's duplicate check only ever fires on a
	// header assembled by something that bypasses that guard (e.g. parsed
	// directly from text).
	dup := sam.NewProgram("bwa", "bwa", "bwa mem", "", "0.7.18")
	assert.Error(t, header.AddProgram(dup))
}

func TestValidateRecordFlagsNMMismatch(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	nmAux, err := sam.NewAux(sam.NewTag("NM"), 5)
	require.NoError(t, err)

	r := &sam.Record{
		Name:      "r1",
		Ref:       chr1,
		Pos:       0,
		Cigar:     sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 4)},
		Seq:       sam.NewSeq([]byte("ACGT")),
		AuxFields: sam.AuxFields{nmAux},
	}

	v := New(Config{})
	v.ValidateRecord(r, fakeRefFasta{"chr1": "ACGT"}, false)
	assert.EqualValues(t, 1, v.Count(NMMismatch))
}

func TestValidateRecordAcceptsCorrectNM(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	nmAux, err := sam.NewAux(sam.NewTag("NM"), 0)
	require.NoError(t, err)

	r := &sam.Record{
		Name:      "r1",
		Ref:       chr1,
		Pos:       0,
		Cigar:     sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 4)},
		Seq:       sam.NewSeq([]byte("ACGT")),
		AuxFields: sam.AuxFields{nmAux},
	}

	v := New(Config{})
	v.ValidateRecord(r, fakeRefFasta{"chr1": "ACGT"}, false)
	assert.Zero(t, v.Count(NMMismatch))
}

func TestValidateRecordFlagsE2U2LengthMismatch(t *testing.T) {
	e2Aux, err := sam.NewAux(sam.NewTag("E2"), "ACG")
	require.NoError(t, err)
	r := &sam.Record{
		Name:      "r1",
		Flags:     sam.Unmapped,
		Seq:       sam.NewSeq([]byte("ACGT")),
		AuxFields: sam.AuxFields{e2Aux},
	}
	v := New(Config{})
	v.ValidateRecord(r, nil, false)
	assert.EqualValues(t, 1, v.Count(E2U2LengthMismatch))
}

func TestValidatePairFlagsMatePositionDisagreement(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	first := &sam.Record{Name: "r1", Ref: chr1, Pos: 10, MateRef: chr1, MatePos: 999, Flags: sam.Paired}
	second := &sam.Record{Name: "r1", Ref: chr1, Pos: 100, MateRef: chr1, MatePos: 10, Flags: sam.Paired}

	v := New(Config{})
	v.ValidatePair(first, second)
	assert.EqualValues(t, 1, v.Count(MateFieldDisagreement))
}

func TestValidatePairAcceptsConsistentMates(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	first := &sam.Record{Name: "r1", Ref: chr1, Pos: 10, MateRef: chr1, MatePos: 100, Flags: sam.Paired | sam.MateReverse, TempLen: 90}
	second := &sam.Record{Name: "r1", Ref: chr1, Pos: 100, MateRef: chr1, MatePos: 10, Flags: sam.Paired | sam.Reverse, TempLen: -90}

	v := New(Config{})
	v.ValidatePair(first, second)
	assert.Zero(t, v.Count(MateFieldDisagreement))
}

func TestIgnoreAndMaxOutput(t *testing.T) {
	v := New(Config{Ignore: []Type{MissingReadGroup}, MaxOutput: 1})
	header, err := sam.NewHeader(nil, nil)
	require.NoError(t, err)
	v.ValidateHeader(header)
	assert.EqualValues(t, 1, v.Count(MissingSequenceDictionary))
	assert.Zero(t, v.Count(MissingReadGroup))
	assert.Len(t, v.Verbose, 1)
}

type fakeRefFasta map[string]string

func (f fakeRefFasta) Get(name string, start, end uint64) (string, error) {
	return f[name][start:end], nil
}
func (f fakeRefFasta) Len(name string) (uint64, error) { return uint64(len(f[name])), nil }
func (f fakeRefFasta) SeqNames() []string {
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	return names
}
