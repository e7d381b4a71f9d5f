// Package reference recomputes the NM and UQ tags of aligned records against
// a FASTA reference, the way mark_duplicates.go's helpers walk a record's
// CIGAR against in-memory state: one pass over the CIGAR ops, accumulating
// mismatches and quality sums as it consumes query and reference bases in
// lockstep.
package reference

import (
	"github.com/grailbio/bamkit/encoding/bam"
	"github.com/grailbio/bamkit/encoding/fasta"
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/sam"
)

var (
	nmTag = sam.Tag{'N', 'M'}
	uqTag = sam.Tag{'U', 'Q'}
)

// Recomputer recomputes NM/UQ for aligned records against a reference FASTA.
// In Bisulfite mode, C/T mismatches (on either the read or the reference
// strand) are treated as matches, per bisulfite-converted read alignment
// convention.
type Recomputer struct {
	Ref       fasta.Fasta
	Bisulfite bool
}

// New creates a Recomputer reading sequence from ref.
func New(ref fasta.Fasta, bisulfite bool) *Recomputer {
	return &Recomputer{Ref: ref, Bisulfite: bisulfite}
}

// Recompute sets r's NM and UQ aux tags from its CIGAR, SEQ, and QUAL against
// the reference sequence named by r.Ref. Unmapped records are left
// unmodified.
func (rc *Recomputer) Recompute(r *sam.Record) error {
	if r.Flags&sam.Unmapped != 0 || r.Ref == nil {
		return nil
	}
	nm, uq, hasQual, err := rc.computeNMUQ(r)
	if err != nil {
		return err
	}

	bam.ClearAuxTags(r, []sam.Tag{nmTag, uqTag})
	if aux, err := sam.NewAux(nmTag, nm); err == nil {
		r.AuxFields = append(r.AuxFields, aux)
	}
	if hasQual {
		if aux, err := sam.NewAux(uqTag, uq); err == nil {
			r.AuxFields = append(r.AuxFields, aux)
		}
	}
	return nil
}

// ComputeNM returns the NM (edit distance) r would have against ref, without
// mutating r or its aux tags. Used by samvalidate to compare a record's
// stored NM tag against what the CIGAR/reference actually imply.
func ComputeNM(r *sam.Record, ref fasta.Fasta, bisulfite bool) (int, error) {
	rc := &Recomputer{Ref: ref, Bisulfite: bisulfite}
	nm, _, _, err := rc.computeNMUQ(r)
	return nm, err
}

func (rc *Recomputer) computeNMUQ(r *sam.Record) (nm, uq int, hasQual bool, err error) {
	refLen, err := rc.Ref.Len(r.Ref.Name())
	if err != nil {
		return 0, 0, false, fault.Errorf(fault.IO, "reference: %v", err)
	}
	end := uint64(r.Pos) + uint64(refConsumedLen(r.Cigar))
	if end > refLen {
		end = refLen
	}
	refSeq, err := rc.Ref.Get(r.Ref.Name(), uint64(r.Pos), end)
	if err != nil {
		return 0, 0, false, fault.Errorf(fault.IO, "reference: %v", err)
	}

	readSeq := r.Seq.Expand()
	hasQual = len(r.Qual) == len(readSeq) && len(r.Qual) > 0

	qi, ri := 0, 0
	for _, op := range r.Cigar {
		consumes := op.Type().Consumes()
		n := op.Len()
		switch op.Type() {
		case sam.CigarInsertion:
			nm += n
		case sam.CigarDeletion:
			nm += n
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				readBase := readSeq[qi+i]
				refBase := refSeq[ri+i]
				if !rc.basesMatch(readBase, refBase) {
					nm++
					if hasQual {
						uq += int(r.Qual[qi+i])
					}
				}
			}
		}
		qi += n * consumes.Query
		ri += n * consumes.Reference
	}
	return nm, uq, hasQual, nil
}

func (rc *Recomputer) basesMatch(readBase, refBase byte) bool {
	if readBase == refBase {
		return true
	}
	if !rc.Bisulfite {
		return false
	}
	return isCOrT(readBase) && isCOrT(refBase)
}

func isCOrT(b byte) bool {
	switch b {
	case 'C', 'c', 'T', 't':
		return true
	default:
		return false
	}
}

func refConsumedLen(cigar sam.Cigar) int {
	n := 0
	for _, op := range cigar {
		if op.Type().Consumes().Reference != 0 {
			n += op.Len()
		}
	}
	return n
}
