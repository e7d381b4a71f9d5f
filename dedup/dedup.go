package dedup

import (
	"strings"

	"github.com/grailbio/base/simd"
	"github.com/grailbio/bamkit/encoding/bam"
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/readends"
	"github.com/grailbio/bamkit/sortcoll"
	"github.com/grailbio/bamkit/umi"
	"github.com/grailbio/hts/sam"
)

var rgTag = sam.Tag{'R', 'G'}

// Opts configures a Builder/Mark run.
type Opts struct {
	// ReadGroupLibrary maps a read group id to its library name, used for
	// LibraryID assignment and per-library metrics.
	ReadGroupLibrary map[string]string
	// LocationPattern is the regex used to parse optical tile/x/y out of
	// read names; empty uses DefaultLocationPattern.
	LocationPattern string
	// OpticalDistance is the maximum pixel distance (inclusive) between two
	// reads on the same tile for them to count as optical duplicates.
	OpticalDistance int
	// SpillDir is the directory sortcoll/readends use for external sort and
	// spill files.
	SpillDir string
	// MaxInMemory bounds how many ReadEnds each sortcoll.Collection buffers
	// before spilling a sorted run to disk.
	MaxInMemory int
	// RefCount is the number of reference sequences in the input's sequence
	// dictionary, passed through to readends.New so the pending-mate
	// collection (§4.B) picks the disk-backed or in-memory implementation
	// the same way the rest of the dictionary-sized state does.
	RefCount int
	// MaxOpenWriters bounds the pending-mate collection's spill-file LRU when
	// it is disk-backed; 0 selects spillmap.DefaultMaxOpenWriters.
	MaxOpenWriters int

	// UseUMIs folds each template's embedded UMI pair into duplicateKey
	// grouping, exactly as markduplicates' UseUmis option did, so that reads
	// sharing coordinates but carrying distinct UMIs aren't treated as PCR
	// duplicates of one another.
	UseUMIs bool
	// KnownUMIs, when set, snap-corrects each observed UMI against this
	// newline-separated list (umi.NewSnapCorrector) before it participates in
	// grouping, so single-edit sequencer errors in the UMI don't split one
	// true duplicate group into two.
	KnownUMIs []byte
}

// Builder accumulates ReadEnds for a coordinate-sorted stream of records,
// splitting its mapped primary alignments into a pair collection and a
// fragment collection for the two-pass external sort; secondary,
// supplementary and unmapped records are only counted in the library
// metrics (see Add).
type Builder struct {
	opts   Opts
	libIDs map[string]int32
	libs   []string
	rgIDs  map[string]int32
	parser *LocationParser

	pairs *sortcoll.Collection
	frags *sortcoll.Collection

	// pending holds the first end seen so far of each incomplete pair,
	// keyed by readends.Key(rg, name). Add looks a record up under its own
	// reference index and, on a miss, files it under its mate's reference
	// index, so the second mate's own refIndex lands on the region the
	// first mate filed itself under (see dedup.go's Add and DESIGN.md's
	// Open Question resolution for why the two directions differ).
	pending readends.Collection

	umiCorrector *umi.SnapCorrector

	// extra accumulates the counts Add resolves immediately rather than
	// through the sort-and-sweep (secondary/supplementary and unmapped
	// records never reach a ReadEnds), merged into the per-library Metrics
	// Mark produces.
	extra map[int32]*Metrics
}

// NewBuilder creates a Builder. fileIdx ordinals passed to Add should be the
// record's ordinal position in the original input stream.
func NewBuilder(opts Opts) (*Builder, error) {
	parser, err := NewLocationParser(opts.LocationPattern)
	if err != nil {
		return nil, fault.Errorf(fault.ContractViolation, "dedup: %v", err)
	}
	maxInMemory := opts.MaxInMemory
	if maxInMemory <= 0 {
		maxInMemory = 500000
	}
	b := &Builder{
		opts:    opts,
		libIDs:  map[string]int32{},
		rgIDs:   map[string]int32{},
		parser:  parser,
		pending: readends.New(opts.SpillDir, opts.RefCount, opts.MaxOpenWriters),
		extra:   map[int32]*Metrics{},
	}
	b.pairs = sortcoll.New(opts.SpillDir, readends.Codec(), adaptLess, maxInMemory)
	b.frags = sortcoll.New(opts.SpillDir, readends.Codec(), adaptLess, maxInMemory)
	if opts.UseUMIs && len(opts.KnownUMIs) > 0 {
		b.umiCorrector = umi.NewSnapCorrector(opts.KnownUMIs)
	}
	return b, nil
}

// parseUMIPair extracts the "umi1+umi2" suffix markduplicates' read-name
// convention embeds as the last colon-separated field (e.g.
// "A:1:1:1:1:1:1:AAC+CCG"): umi1 is always read1's own UMI and umi2 read2's,
// regardless of which mate's record name is being parsed, since both mates
// of a template share the identical embedded name suffix.
func parseUMIPair(name string) (umi1, umi2 string, ok bool) {
	idx := strings.LastIndexByte(name, ':')
	if idx < 0 {
		return "", "", false
	}
	suffix := name[idx+1:]
	parts := strings.SplitN(suffix, "+", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func toUMIBytes(s string) [16]byte {
	var out [16]byte
	copy(out[:], s)
	return out
}

// umiPair returns r's (possibly snap-corrected) UMI1/UMI2 fields, or the
// zero pair if UseUMIs is off or the read name doesn't carry one.
func (b *Builder) umiPair(r *sam.Record) (u1, u2 [16]byte) {
	if !b.opts.UseUMIs {
		return u1, u2
	}
	s1, s2, ok := parseUMIPair(r.Name)
	if !ok {
		return u1, u2
	}
	if b.umiCorrector != nil {
		if corrected, _, ok := b.umiCorrector.CorrectUMI(s1); ok {
			s1 = corrected
		}
		if corrected, _, ok := b.umiCorrector.CorrectUMI(s2); ok {
			s2 = corrected
		}
	}
	return toUMIBytes(s1), toUMIBytes(s2)
}

func adaptLess(a, b interface{}) bool {
	return less(a.(readends.ReadEnds), b.(readends.ReadEnds))
}

func readGroupOf(r *sam.Record) string {
	if aux := r.AuxFields.Get(rgTag); aux != nil {
		if s, ok := aux.Value().(string); ok {
			return s
		}
	}
	return ""
}

func (b *Builder) libraryID(r *sam.Record) int32 {
	lib := b.opts.ReadGroupLibrary[readGroupOf(r)]
	if lib == "" {
		lib = "Unknown Library"
	}
	if id, ok := b.libIDs[lib]; ok {
		return id
	}
	id := int32(len(b.libs))
	b.libIDs[lib] = id
	b.libs = append(b.libs, lib)
	return id
}

func (b *Builder) readGroupID(rg string) int32 {
	if id, ok := b.rgIDs[rg]; ok {
		return id
	}
	id := int32(len(b.rgIDs))
	b.rgIDs[rg] = id
	return id
}

// LibraryName returns the library name assigned id by a prior Add call.
func (b *Builder) LibraryName(id int32) string {
	if int(id) < 0 || int(id) >= len(b.libs) {
		return "Unknown Library"
	}
	return b.libs[id]
}

func score(r *sam.Record) int32 {
	return int32(simd.Accumulate8Greater(r.Qual, 14))
}

func unclippedCoord(r *sam.Record) int32 {
	return int32(bam.UnclippedFivePrimePosition(r))
}

func refIDOf(r *sam.Record) int32 {
	if r.Ref == nil {
		return -1
	}
	return int32(r.Ref.ID())
}

// Add accumulates one alignment. fileIdx is r's ordinal position in the
// original input, used later to flag the corresponding record without
// needing the ReadEnds to carry the read name. Secondary, supplementary,
// and unmapped records never participate in duplicate grouping; Add counts
// them against r's library and returns without touching the sort
// collections.
func (b *Builder) Add(r *sam.Record, fileIdx int64) error {
	if r.Flags&(sam.Secondary|sam.Supplementary) != 0 {
		b.countExtra(r).SecondarySupplementary++
		return nil
	}
	if r.Flags&sam.Unmapped != 0 {
		b.countExtra(r).UnmappedReads++
		return nil
	}
	paired := r.Flags&sam.Paired != 0 && r.Flags&sam.MateUnmapped == 0

	// Every mapped record, paired or not, contributes a fragment view to
	// fragSort (spec §4.E): the frag sweep needs to see paired records too,
	// so a run where one mate of a pair shares coordinates with an otherwise
	// unpaired read can mark the unpaired read a duplicate.
	fragRE := b.buildFragment(r, fileIdx)
	fragRE.Paired = paired
	if err := b.frags.Add(fragRE); err != nil {
		return err
	}
	if !paired {
		return nil
	}

	rg := readGroupOf(r)
	key := readends.Key(rg, r.Name)
	first, found, err := b.pending.Remove(refIDOf(r), key)
	if err != nil {
		return err
	}
	if found {
		return b.pairs.Add(completePair(first, r, fileIdx))
	}

	pendingRE := fragRE
	pendingRE.Paired = false
	return b.pending.Put(mateRefIDOf(r), key, pendingRE)
}

// mateRefIDOf returns r's mate's reference index, or -1 if r has no mate
// reference (mirroring refIDOf's -1-for-unmapped convention).
func mateRefIDOf(r *sam.Record) int32 {
	if r.MateRef == nil {
		return -1
	}
	return int32(r.MateRef.ID())
}

func (b *Builder) countExtra(r *sam.Record) *Metrics {
	id := b.libraryID(r)
	m, ok := b.extra[id]
	if !ok {
		m = &Metrics{}
		b.extra[id] = m
	}
	return m
}

func completePair(first readends.ReadEnds, second *sam.Record, fileIdx int64) readends.ReadEnds {
	firstReversed := first.Orientation == readends.R
	secondReversed := bam.IsReversedRead(second)

	re := first
	re.Read2Ref = refIDOf(second)
	re.Read2Coord = unclippedCoord(second)
	re.Read2IndexInFile = fileIdx
	re.Score += score(second)
	re.Orientation = pairOrientation(firstReversed, secondReversed)

	// Keep (left, right) ordered by coordinate so duplicateKey grouping is
	// symmetric regardless of which end was observed first.
	if re.Read2Ref < re.Read1Ref || (re.Read2Ref == re.Read1Ref && re.Read2Coord < re.Read1Coord) {
		re.Read1Ref, re.Read2Ref = re.Read2Ref, re.Read1Ref
		re.Read1Coord, re.Read2Coord = re.Read2Coord, re.Read1Coord
		re.Read1IndexInFile, re.Read2IndexInFile = re.Read2IndexInFile, re.Read1IndexInFile
		re.Orientation = swapOrientation(re.Orientation)
	}
	return re
}

func pairOrientation(leftReversed, rightReversed bool) readends.Orientation {
	switch {
	case leftReversed && rightReversed:
		return readends.RR
	case leftReversed:
		return readends.RF
	case rightReversed:
		return readends.FR
	default:
		return readends.FF
	}
}

func swapOrientation(o readends.Orientation) readends.Orientation {
	switch o {
	case readends.FR:
		return readends.RF
	case readends.RF:
		return readends.FR
	default:
		return o
	}
}

func (b *Builder) buildFragment(r *sam.Record, fileIdx int64) readends.ReadEnds {
	tile, x, y, ok := b.parser.Parse(r.Name)
	re := readends.ReadEnds{
		LibraryID:        b.libraryID(r),
		Score:            score(r),
		Read1Ref:         refIDOf(r),
		Read1Coord:       unclippedCoord(r),
		Read1IndexInFile: fileIdx,
		Read2Ref:         -1,
		ReadGroupID:      b.readGroupID(readGroupOf(r)),
	}
	if ok {
		re.Tile, re.X, re.Y = tile, x, y
	}
	re.UMI1, re.UMI2 = b.umiPair(r)
	if bam.IsReversedRead(r) {
		re.Orientation = readends.R
	} else {
		re.Orientation = readends.F
	}
	return re
}
