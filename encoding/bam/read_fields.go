package bam

import "github.com/grailbio/hts/sam"

// IsReversedRead returns true if r aligns to the reverse strand.
func IsReversedRead(r *sam.Record) bool {
	return r.Flags&sam.Reverse != 0
}

// IsRead1 returns true if r is the first read of a pair (or an
// unpaired read, which is conventionally treated as read 1).
func IsRead1(r *sam.Record) bool {
	return r.Flags&sam.Paired == 0 || r.Flags&sam.Read1 != 0
}

// IsQCFailed returns true if r is flagged as not passing vendor quality
// checks.
func IsQCFailed(r *sam.Record) bool {
	return r.Flags&sam.QCFail != 0
}

// ClearAuxTags removes every aux field in tags from r's AuxFields.
func ClearAuxTags(r *sam.Record, tags []sam.Tag) {
	if len(tags) == 0 {
		return
	}
	kept := r.AuxFields[:0]
	for _, aux := range r.AuxFields {
		remove := false
		tag := aux.Tag()
		for _, t := range tags {
			if tag == t {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, aux)
		}
	}
	r.AuxFields = kept
}

// UnclippedFivePrimePosition returns the 0-based reference coordinate of
// the 5' end of r after undoing soft and hard clipping, the way Picard's
// MarkDuplicates computes "unclipped" read boundaries for duplicate-key
// comparisons. For a forward-strand alignment this is Start() minus the
// leading clip; for a reverse-strand alignment it is the last aligned base
// (End()-1) plus the trailing clip.
//
// Only S and H ops at the two ends of the Cigar contribute; a record with
// no Cigar (unmapped) returns r.Pos unchanged.
func UnclippedFivePrimePosition(r *sam.Record) int {
	if IsReversedRead(r) {
		return unclippedEnd(r)
	}
	return unclippedStart(r)
}

func unclippedStart(r *sam.Record) int {
	pos := r.Pos
	for _, op := range r.Cigar {
		t := op.Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		pos -= op.Len()
	}
	return pos
}

func unclippedEnd(r *sam.Record) int {
	end := r.End() - 1
	for i := len(r.Cigar) - 1; i >= 0; i-- {
		t := r.Cigar[i].Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		end += r.Cigar[i].Len()
	}
	return end
}
