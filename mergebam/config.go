// Package mergebam joins an unmapped template BAM back against one or more
// aligner output streams, transferring each hit's alignment onto the
// original unaligned record the way Picard's MergeBamAlignment reassembles
// an aligner's output with the metadata (read groups, unmapped mates,
// original base qualities) the aligner itself doesn't preserve.
package mergebam

import (
	"io"

	"github.com/grailbio/bamkit/encoding/fasta"
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/hitsagg"
	"github.com/grailbio/bamkit/samvalidate"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// PairOrientation classifies the relative strand/position arrangement of a
// mapped pair, matching Picard's SamPairUtil.PairOrientation.
type PairOrientation int

const (
	FR PairOrientation = iota
	RF
	TANDEM
)

// SortOrder is the sort order MergeBamAlignment writes its output in.
type SortOrder int

const (
	Coordinate SortOrder = iota
	QueryName
	Unsorted
)

// Config drives one MergeBamAlignment run.
type Config struct {
	// Unmapped is the template stream: one (unpaired) or two (paired,
	// first-of-pair immediately followed by second-of-pair) records per
	// query name, carrying the original bases, qualities and read-group
	// metadata that the aligner was given (and is not trusted to echo back
	// faithfully).
	Unmapped *bam.Reader

	// Aligned holds one or more coordinate- or queryname-sorted BAM shards
	// in which a record's mate, when paired, is the other end of the same
	// template. Mutually exclusive with Read1Aligned/Read2Aligned.
	Aligned []*bam.Reader
	// Read1Aligned and Read2Aligned hold single-end alignments of a pair's
	// two mates run independently through the aligner, interleaved and
	// tagged Paired|Read1 / Paired|Read2 before joining. Mutually exclusive
	// with Aligned.
	Read1Aligned []*bam.Reader
	Read2Aligned []*bam.Reader

	// Reference supplies the sequence dictionary for the output header and
	// the bases NM/UQ recomputation walks against.
	Reference fasta.Fasta

	ClipAdapters     bool
	Bisulfite        bool
	AlignedReadsOnly bool

	// ProgramRecord, if set, is added to the output header, chained behind
	// any program records already present on the aligned side.
	ProgramRecord *sam.Program

	// AttributesToRetain lists aux tags that should survive the transfer
	// even though their first character marks them reserved (lower-case, or
	// X/Y/Z).
	AttributesToRetain []string

	Read1BasesTrimmed int
	Read2BasesTrimmed int

	// ExpectedOrientations is the set of orientations a mapped pair must
	// have to be flagged proper-pair.
	ExpectedOrientations []PairOrientation

	SortOrder       SortOrder
	ClipOverlapping bool

	// MaxRecordsInRAM bounds how many records sortcoll buffers before
	// spilling a sorted run to disk. Zero uses a 500,000-record default.
	MaxRecordsInRAM int

	// PrimarySelectionStrategy picks which hit hitsagg treats as primary
	// when a template has more than one alignment. Defaults to
	// hitsagg.BestMAPQ{}.
	PrimarySelectionStrategy hitsagg.Strategy
	// RNGSeed seeds the tie-break RNG strategies that need one use.
	RNGSeed int64

	// SpillDir is the scratch directory for external-sort runs.
	SpillDir string
	// Output receives the final, merged, sorted BAM.
	Output io.Writer

	// Validator, if set, receives validation findings (NM mismatches,
	// mate-field disagreement, header problems) discovered while the merge
	// runs. Nil disables validation entirely.
	Validator *samvalidate.Validator

	// IndexOutput, if set, receives a .gbai index (encoding/bam.WriteGIndex)
	// of the merged output, built by a second goroutine that consumes a tee
	// of the same bytes written to Output as they are produced, rather than
	// re-reading Output after the fact.
	IndexOutput io.Writer
	// IndexByteInterval sets WriteGIndex's approximate bytes-per-index-entry
	// granularity; 0 selects DefaultIndexByteInterval.
	IndexByteInterval int

	retainSet map[string]bool
	expected  map[PairOrientation]bool
}

// DefaultIndexByteInterval is used when Config.IndexByteInterval is 0,
// matching cmd/bio-bam-gindex's own -shard-size default.
const DefaultIndexByteInterval = 64 * 1024

func (cfg *Config) indexByteInterval() int {
	if cfg.IndexByteInterval <= 0 {
		return DefaultIndexByteInterval
	}
	return cfg.IndexByteInterval
}

func (cfg *Config) validate() error {
	if cfg.Unmapped == nil {
		return fault.Errorf(fault.ContractViolation, "mergebam: Unmapped is required")
	}
	haveAligned := len(cfg.Aligned) > 0
	haveSplit := len(cfg.Read1Aligned) > 0 || len(cfg.Read2Aligned) > 0
	if haveAligned == haveSplit {
		return fault.Errorf(fault.ContractViolation,
			"mergebam: exactly one of Aligned or Read1Aligned/Read2Aligned must be supplied")
	}
	if cfg.Reference == nil {
		return fault.Errorf(fault.ContractViolation, "mergebam: Reference is required")
	}
	if cfg.Output == nil {
		return fault.Errorf(fault.ContractViolation, "mergebam: Output is required")
	}
	return nil
}

func (cfg *Config) alignedReaders() []*bam.Reader {
	if len(cfg.Aligned) > 0 {
		return cfg.Aligned
	}
	all := make([]*bam.Reader, 0, len(cfg.Read1Aligned)+len(cfg.Read2Aligned))
	all = append(all, cfg.Read1Aligned...)
	all = append(all, cfg.Read2Aligned...)
	return all
}

func (cfg *Config) maxInMemory() int {
	if cfg.MaxRecordsInRAM <= 0 {
		return 500000
	}
	return cfg.MaxRecordsInRAM
}

func (cfg *Config) strategy() hitsagg.Strategy {
	if cfg.PrimarySelectionStrategy != nil {
		return cfg.PrimarySelectionStrategy
	}
	return hitsagg.BestMAPQ{}
}

func (cfg *Config) retain() map[string]bool {
	if cfg.retainSet == nil {
		m := make(map[string]bool, len(cfg.AttributesToRetain))
		for _, t := range cfg.AttributesToRetain {
			m[t] = true
		}
		cfg.retainSet = m
	}
	return cfg.retainSet
}

func (cfg *Config) expectedSet() map[PairOrientation]bool {
	if cfg.expected == nil {
		m := make(map[PairOrientation]bool, len(cfg.ExpectedOrientations))
		for _, o := range cfg.ExpectedOrientations {
			m[o] = true
		}
		cfg.expected = m
	}
	return cfg.expected
}
