package mergesam

import (
	"runtime"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/samheader"
	"github.com/grailbio/bamkit/sortcoll"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// MergeSamFiles combines cfg.Inputs into a single SortOrder-ordered BAM
// written to cfg.Output, matching Picard's MergeSamFiles: headers are
// reconciled via samheader.Merge (read-group/program-group collision
// resolution, optional sequence-dictionary merge), every input's records
// are translated against the merged header, and the combined stream is
// either k-way merged (AssumeSorted) or re-sorted through sortcoll before
// being written out.
func MergeSamFiles(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	headers := make([]*sam.Header, len(cfg.Inputs))
	for i, r := range cfg.Inputs {
		headers[i] = r.Header()
	}
	mh, err := samheader.Merge(headers, cfg.MergeSequenceDictionaries)
	if err != nil {
		return err
	}
	header := mh.Header
	header.SortOrder = cfg.sortOrder()
	if cfg.Comment != "" {
		header.Comments = append(header.Comments, cfg.Comment)
	}

	sources := make([]recordSource, len(cfg.Inputs))
	for i, r := range cfg.Inputs {
		sources[i] = newTranslatingSource(newBAMSource(r), mh, i)
	}

	less := lessForSortOrder(header.SortOrder)
	var merged recordSource
	if cfg.AssumeSorted || header.SortOrder == sam.Unsorted {
		merged = newKWayMergeSource(sources, less)
	} else {
		merged, err = resortSources(sources, header, less, cfg.SpillDir, cfg.maxInMemory())
		if err != nil {
			return err
		}
	}

	writer, err := bam.NewWriter(cfg.Output, header, runtime.NumCPU())
	if err != nil {
		return fault.Errorf(fault.IO, "mergesam: %v", err)
	}

	if cfg.UseThreading {
		if err := runThreaded(merged, writer, cfg.queueCapacity()); err != nil {
			return err
		}
	} else {
		for merged.Scan() {
			if err := writer.Write(merged.Record()); err != nil {
				return fault.Errorf(fault.IO, "mergesam: writing output: %v", err)
			}
		}
		if err := merged.Err(); err != nil {
			return err
		}
	}
	return writer.Close()
}

// resortSources drains every source (translated against the merged
// header) into one sortcoll.Collection ordered by less, used when inputs
// aren't already trusted to be in the target sort order.
func resortSources(sources []recordSource, header *sam.Header, less func(a, b *sam.Record) bool, spillDir string, maxInMemory int) (recordSource, error) {
	codec := newRecordCodec(header)
	coll := sortcoll.New(spillDir, codec, func(a, b interface{}) bool {
		return less(a.(*sam.Record), b.(*sam.Record))
	}, maxInMemory)

	for _, src := range sources {
		for src.Scan() {
			if err := coll.Add(src.Record()); err != nil {
				return nil, fault.Errorf(fault.IO, "mergesam: spooling merge sort: %v", err)
			}
		}
		if err := src.Err(); err != nil {
			return nil, err
		}
	}
	it, err := coll.Finish()
	if err != nil {
		return nil, fault.Errorf(fault.IO, "mergesam: finishing merge sort: %v", err)
	}
	return &iteratorSource{it: it}, nil
}

// iteratorSource adapts a sortcoll.Iterator back into a recordSource.
type iteratorSource struct {
	it *sortcoll.Iterator
}

func (s *iteratorSource) Scan() bool          { return s.it.Scan() }
func (s *iteratorSource) Record() *sam.Record { return s.it.Value().(*sam.Record) }
func (s *iteratorSource) Err() error          { return s.it.Err() }
