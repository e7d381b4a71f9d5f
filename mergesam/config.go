// Package mergesam merges several coordinate- or query-name-sorted BAM
// files into one, reconciling their headers the way samheader does and
// optionally overlapping the read/merge work with the write in a producer/
// consumer pipeline, matching Picard's MergeSamFiles.
package mergesam

import (
	"io"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Config drives one MergeSamFiles run.
type Config struct {
	// Inputs holds the BAM shards to merge. Mutually unordered relative to
	// each other; AssumeSorted governs whether each is trusted to already
	// be sorted in SortOrder or must be re-sorted before merging.
	Inputs []*bam.Reader
	// Output receives the merged BAM.
	Output io.Writer

	// SortOrder is the order the merged output is written in. Unknown
	// defaults to Coordinate.
	SortOrder sam.SortOrder
	// AssumeSorted, when true, trusts every input to already be ordered by
	// SortOrder and merges them with a k-way merge instead of re-sorting.
	AssumeSorted bool
	// MergeSequenceDictionaries allows inputs with differing (but
	// reconcilable) sequence dictionaries; otherwise every input's
	// dictionary must match the first's exactly.
	MergeSequenceDictionaries bool
	// UseThreading overlaps reading/merging with writing via a bounded
	// queue instead of running the two sequentially.
	UseThreading bool
	// Comment, if non-empty, is appended to the merged header's comments.
	Comment string

	// SpillDir is the scratch directory used when AssumeSorted is false.
	SpillDir string
	// MaxRecordsInRAM bounds how many records the pre-merge sort buffers
	// before spilling a run to disk. Zero uses a 500,000-record default.
	MaxRecordsInRAM int
	// QueueCapacity bounds the producer/consumer queue UseThreading uses.
	// Zero uses a 10,000-record default.
	QueueCapacity int
}

func (cfg *Config) validate() error {
	if len(cfg.Inputs) == 0 {
		return fault.Errorf(fault.ContractViolation, "mergesam: Inputs is required")
	}
	if cfg.Output == nil {
		return fault.Errorf(fault.ContractViolation, "mergesam: Output is required")
	}
	return nil
}

func (cfg *Config) sortOrder() sam.SortOrder {
	if cfg.SortOrder == sam.UnknownOrder {
		return sam.Coordinate
	}
	return cfg.SortOrder
}

func (cfg *Config) maxInMemory() int {
	if cfg.MaxRecordsInRAM <= 0 {
		return 500000
	}
	return cfg.MaxRecordsInRAM
}

func (cfg *Config) queueCapacity() int {
	if cfg.QueueCapacity <= 0 {
		return 10000
	}
	return cfg.QueueCapacity
}
