// Package hitsagg aggregates a query-name-sorted stream of alignments into
// per-template HitsForInsert groups and selects a primary alignment,
// mirroring markduplicates' read-pairing helpers (read_pair.go,
// duplicate_index.go) generalized from "exactly one pair" to "zero or more
// hits, possibly with supplementary alignments".
package hitsagg

import (
	"github.com/grailbio/bamkit/encoding/bam"
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/sam"
)

var (
	hiTag = sam.Tag{'H', 'I'}
	ihTag = sam.Tag{'I', 'H'}
)

// HitsForInsert aggregates one template's alignments into three parallel,
// index-tied sequences, per spec §3: First[i] and Second[i] describe the
// same hit's two ends (either may be nil if that end was unmapped and
// filtered); the corresponding SupplementaryFirst/SupplementarySecond
// entries mirror them for supplementary alignments.
type HitsForInsert struct {
	Paired bool

	First  []*sam.Record
	Second []*sam.Record

	SupplementaryFirst  []*sam.Record
	SupplementarySecond []*sam.Record
	// SupplementaryFirstHI[i]/SupplementarySecondHI[i] is the zero-based hit
	// slot the corresponding supplementary record belongs to, used to
	// re-attach it with its primary candidate's HI per rule 7.
	SupplementaryFirstHI  []int
	SupplementarySecondHI []int

	// PrimaryIndex is set by finalize; -1 until then.
	PrimaryIndex int
}

// NumHits returns the number of primary-candidate hits.
func (h *HitsForInsert) NumHits() int {
	if h.Paired {
		return len(h.Second)
	}
	return len(h.First)
}

// mapqOf treats a nil end as MAPQ 0, per the Best-MAPQ strategy's rule.
func mapqOf(r *sam.Record) int {
	if r == nil {
		return 0
	}
	return int(r.MapQ)
}

// finalize sets HI/IH on every primary-candidate and supplementary record
// once idx has been chosen as primary: HI/IH are cleared entirely when only
// one hit exists, clearing the not-primary flag on idx and setting it on
// every other hit, and re-attaching each supplementary record with the HI
// of its corresponding primary candidate.
func (h *HitsForInsert) finalize(idx int) {
	h.PrimaryIndex = idx
	n := h.NumHits()

	setHI := func(r *sam.Record, hi int) {
		if r == nil {
			return
		}
		bam.ClearAuxTags(r, []sam.Tag{hiTag, ihTag})
		if n <= 1 {
			return
		}
		// errors from sam.NewAux on int values are impossible; ignored per
		// the teacher's own flagRead pattern for always-valid aux values.
		if aux, err := sam.NewAux(hiTag, hi); err == nil {
			r.AuxFields = append(r.AuxFields, aux)
		}
		if aux, err := sam.NewAux(ihTag, n); err == nil {
			r.AuxFields = append(r.AuxFields, aux)
		}
	}
	setPrimary := func(r *sam.Record, primary bool) {
		if r == nil {
			return
		}
		if primary {
			r.Flags &^= sam.Secondary
		} else {
			r.Flags |= sam.Secondary
		}
	}

	for i := 0; i < n; i++ {
		setHI(h.First[i], i)
		setPrimary(h.First[i], i == idx)
		if h.Paired {
			setHI(h.Second[i], i)
			setPrimary(h.Second[i], i == idx)
		}
	}
	for i, r := range h.SupplementaryFirst {
		setHI(r, h.SupplementaryFirstHI[i])
	}
	for i, r := range h.SupplementarySecond {
		setHI(r, h.SupplementarySecondHI[i])
	}
}
