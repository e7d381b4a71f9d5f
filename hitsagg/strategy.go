package hitsagg

import (
	"math/rand"

	"github.com/grailbio/hts/sam"
)

// Strategy picks which of a HitsForInsert's hits becomes primary. Pick
// mutates nothing; the aggregator applies the result via finalize.
type Strategy interface {
	Pick(h *HitsForInsert, rng *rand.Rand) int
}

// BestMAPQ is the default primary-selection strategy: for each hit, sum the
// MAPQ of its two ends (treating a nil end as 0), and pick the maximum. Ties
// pick the lowest-indexed hit, an arbitrary but deterministic choice.
type BestMAPQ struct{}

func (BestMAPQ) Pick(h *HitsForInsert, rng *rand.Rand) int {
	best := 0
	bestScore := -1
	for i := 0; i < h.NumHits(); i++ {
		score := mapqOf(h.First[i])
		if h.Paired {
			score += mapqOf(h.Second[i])
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return best
}

// EarliestFragment picks the hit whose first aligned base (1-based, in read
// orientation) is earliest. It is defined only for unpaired templates. Ties
// are broken by higher MAPQ, and remaining ties are broken uniformly at
// random from rng for reproducibility.
type EarliestFragment struct{}

func (EarliestFragment) Pick(h *HitsForInsert, rng *rand.Rand) int {
	n := h.NumHits()
	best := 0
	bestPos := -1
	bestMAPQ := -1
	var tied []int
	for i := 0; i < n; i++ {
		pos := firstAlignedBaseInReadOrientation(h.First[i])
		mapq := mapqOf(h.First[i])
		switch {
		case bestPos == -1 || pos < bestPos:
			bestPos, bestMAPQ, best, tied = pos, mapq, i, []int{i}
		case pos == bestPos && mapq > bestMAPQ:
			bestMAPQ, best, tied = mapq, i, []int{i}
		case pos == bestPos && mapq == bestMAPQ:
			tied = append(tied, i)
		}
	}
	if len(tied) <= 1 {
		return best
	}
	return tied[rng.Intn(len(tied))]
}

// firstAlignedBaseInReadOrientation returns the 1-based position, counting
// from the start of the read as sequenced, of the first base the CIGAR maps
// to the reference. A nil record (unmapped end) sorts last.
func firstAlignedBaseInReadOrientation(r *sam.Record) int {
	if r == nil {
		return 1 << 30
	}
	pos := 1
	ops := r.Cigar
	reverse := r.Flags&sam.Reverse != 0
	for k := range ops {
		op := ops[k]
		if reverse {
			op = ops[len(ops)-1-k]
		}
		if op.Type().Consumes().Query == 0 {
			continue
		}
		if op.Type().Consumes().Reference != 0 {
			break
		}
		pos += op.Len()
	}
	return pos
}
