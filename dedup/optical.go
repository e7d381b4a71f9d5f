package dedup

import (
	"math"
	"sort"

	"github.com/grailbio/bamkit/readends"
)

// opticalEntry is one ReadEnds plus the fields the sort-and-sweep pass in
// detectOptical needs, mirroring markduplicates/optical_detector.go's
// sortingEntry but built directly from a ReadEnds rather than a record pair.
type opticalEntry struct {
	re        readends.ReadEnds
	duplicate bool
}

// batchKey groups entries that could possibly be optical duplicates of one
// another: same read group, same tile (which, per dedup's location parser,
// already encodes lane identity for the configured naming convention) and
// the same pairing orientation.
type batchKey struct {
	readGroupID int32
	tile        int32
	orientation readends.Orientation
}

// detectOptical sweeps a duplicate group (all entries sharing a
// duplicateKey, so already known to be coordinate/orientation duplicates of
// each other) for optical duplicates: pairs within opticalDistance pixels on
// the same tile. bestIdx is the index of the group's chosen non-duplicate
// entry. It returns the indices (into group) that are optical duplicates,
// and records histogram distances into metrics when non-nil.
func detectOptical(opticalDistance int, group []readends.ReadEnds, bestIdx int, metrics *MetricsCollection) []int {
	batches := make(map[batchKey][]int)
	var bestBatch batchKey
	for i, re := range group {
		k := batchKey{readGroupID: re.ReadGroupID, tile: re.Tile, orientation: re.Orientation}
		batches[k] = append(batches[k], i)
		if i == bestIdx {
			bestBatch = k
		}
	}

	entries := make([]opticalEntry, len(group))
	for i, re := range group {
		entries[i] = opticalEntry{re: re}
	}

	var dupIndices []int
	for k, idxs := range batches {
		sort.Slice(idxs, func(i, j int) bool {
			return less(group[idxs[i]], group[idxs[j]])
		})

		localBest := -1
		if k == bestBatch {
			for pos, idx := range idxs {
				if idx == bestIdx {
					localBest = pos
					break
				}
			}
		}

		if localBest >= 0 {
			for pos, idx := range idxs {
				if pos == localBest {
					continue
				}
				if isOpticalDup(opticalDistance, &group[idxs[localBest]], &group[idx]) {
					entries[idx].duplicate = true
				}
			}
		}
		for i := 0; i < len(idxs); i++ {
			if i == localBest {
				continue
			}
			for j := i + 1; j < len(idxs); j++ {
				if j == localBest {
					continue
				}
				a, b := idxs[i], idxs[j]
				if entries[a].duplicate && entries[b].duplicate {
					continue
				}
				if isOpticalDup(opticalDistance, &group[a], &group[b]) {
					if entries[b].duplicate {
						entries[a].duplicate = true
					} else {
						entries[b].duplicate = true
					}
				}
			}
		}
		if metrics != nil {
			for i := 0; i < len(idxs); i++ {
				for j := i + 1; j < len(idxs); j++ {
					metrics.AddDistance(len(group), opticalPixelDistance(&group[idxs[i]], &group[idxs[j]]))
				}
			}
		}
	}

	for i, e := range entries {
		if e.duplicate {
			dupIndices = append(dupIndices, i)
		}
	}
	return dupIndices
}

func isOpticalDup(opticalDistance int, a, b *readends.ReadEnds) bool {
	return abs32(a.X-b.X) <= int32(opticalDistance) && abs32(a.Y-b.Y) <= int32(opticalDistance)
}

func opticalPixelDistance(a, b *readends.ReadEnds) int {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return int(math.Sqrt(dx*dx + dy*dy))
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
