package dedup

import (
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/readends"
	"github.com/grailbio/bamkit/sortcoll"
)

// DuplicateSet is the output of Mark: the set of file ordinals (as passed to
// Builder.Add) whose corresponding record should be flagged a duplicate. A
// paired ReadEnds contributes both Read1IndexInFile and Read2IndexInFile
// when marked; a fragment contributes only Read1IndexInFile.
type DuplicateSet struct {
	indices map[int64]bool
}

// IsDuplicate reports whether fileIdx was flagged a duplicate.
func (d *DuplicateSet) IsDuplicate(fileIdx int64) bool {
	return d.indices[fileIdx]
}

func newDuplicateSet() *DuplicateSet {
	return &DuplicateSet{indices: map[int64]bool{}}
}

func (d *DuplicateSet) add(idx int64) {
	d.indices[idx] = true
}

// Mark finishes both of a Builder's sortcoll.Collections (pairs first, then
// fragments, matching spec §4.E's pairSort/fragSort ordering) and sweeps
// each for duplicate groups, returning the resulting DuplicateSet and
// per-library Metrics.
func (b *Builder) Mark() (*DuplicateSet, *MetricsCollection, error) {
	defer b.pending.Close()
	if n := b.pending.Size(); n != 0 {
		return nil, nil, fault.Errorf(fault.ContractViolation,
			"dedup: %d unmatched paired read(s) at end of input", n)
	}

	metrics := NewMetricsCollection()
	dups := newDuplicateSet()

	pairIter, err := b.pairs.Finish()
	if err != nil {
		return nil, nil, fault.Errorf(fault.IO, "dedup: finishing pair sort: %v", err)
	}
	if err := sweep(pairIter, true, b, metrics, dups, b.opts.OpticalDistance); err != nil {
		return nil, nil, err
	}

	fragIter, err := b.frags.Finish()
	if err != nil {
		return nil, nil, fault.Errorf(fault.IO, "dedup: finishing fragment sort: %v", err)
	}
	if err := sweep(fragIter, false, b, metrics, dups, b.opts.OpticalDistance); err != nil {
		return nil, nil, err
	}

	for libID, extra := range b.extra {
		metrics.Get(b.LibraryName(libID)).Add(extra)
	}

	return dups, metrics, nil
}

// sweep walks sorted, adjacent-duplicate-grouped ReadEnds from it, marking
// all but the best-scoring entry per group as a duplicate.
func sweep(it *sortcoll.Iterator, paired bool, b *Builder, metrics *MetricsCollection, dups *DuplicateSet, opticalDistance int) error {
	var group []readends.ReadEnds
	var groupKey duplicateKey
	haveKey := false

	flush := func() {
		if len(group) == 0 {
			return
		}
		m := metrics.Get(b.LibraryName(group[0].LibraryID))

		if paired {
			m.ReadPairsExamined += 2 * len(group)
			flushGroup(group, m, opticalDistance, metrics, dups, true)
			group = group[:0]
			return
		}

		// fragSort carries a view of every mapped record, including ones
		// whose mate is mapped (Builder.Add tags those Paired). A run
		// containing any such entry already has its non-duplicate chosen by
		// the pair sweep, so every genuinely unpaired entry sharing the run
		// is a duplicate outright (spec §4.E); best-score selection and
		// optical detection only apply when the run has no paired entries.
		unpaired := group[:0:0]
		hasPaired := false
		for _, re := range group {
			if re.Paired {
				hasPaired = true
				continue
			}
			unpaired = append(unpaired, re)
		}
		m.UnpairedReads += len(unpaired)

		if hasPaired {
			for _, re := range unpaired {
				dups.add(re.Read1IndexInFile)
				m.UnpairedDups++
			}
			group = group[:0]
			return
		}

		flushGroup(unpaired, m, opticalDistance, metrics, dups, false)
		group = group[:0]
	}

	for it.Scan() {
		re := it.Value().(readends.ReadEnds)
		k := keyOf(re)
		if haveKey && k != groupKey {
			flush()
		}
		group = append(group, re)
		groupKey = k
		haveKey = true
	}
	if err := it.Err(); err != nil {
		return fault.Errorf(fault.IO, "dedup: reading sorted ReadEnds: %v", err)
	}
	flush()
	return it.Close()
}

// flushGroup picks the best-scoring entry in group and marks every other
// entry a duplicate, running optical-duplicate detection (isPair distributes
// the duplicate across both mates' file ordinals and its own metric). Groups
// of size <= 1 have no duplicate to mark.
func flushGroup(group []readends.ReadEnds, m *Metrics, opticalDistance int, metrics *MetricsCollection, dups *DuplicateSet, isPair bool) {
	if len(group) <= 1 {
		return
	}
	best := 0
	for i := 1; i < len(group); i++ {
		if group[i].Score > group[best].Score {
			best = i
		}
	}
	opticalIdx := detectOptical(opticalDistance, group, best, metrics)
	opticalSet := make(map[int]bool, len(opticalIdx))
	for _, i := range opticalIdx {
		opticalSet[i] = true
	}
	for i, re := range group {
		if i == best {
			continue
		}
		dups.add(re.Read1IndexInFile)
		if isPair {
			dups.add(re.Read2IndexInFile)
			m.ReadPairDups += 2
			if opticalSet[i] {
				m.ReadPairOpticalDups += 2
			}
		} else {
			m.UnpairedDups++
		}
	}
}
