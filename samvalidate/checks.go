package samvalidate

import (
	"github.com/grailbio/bamkit/encoding/fasta"
	"github.com/grailbio/bamkit/reference"
	"github.com/grailbio/hts/sam"
)

var (
	rgTag = sam.NewTag("RG")
	e2Tag = sam.NewTag("E2")
	u2Tag = sam.NewTag("U2")
	nmTag = sam.NewTag("NM")
)

// ValidateHeader checks a header's sequence dictionary and read-group
// presence, recording MissingSequenceDictionary/MissingReadGroup findings.
func (v *Validator) ValidateHeader(h *sam.Header) {
	if len(h.Refs()) == 0 {
		v.record(missingSequenceDictionary())
	}
	if len(h.RGs()) == 0 {
		v.record(missingReadGroup(""))
	}
}

// ValidateProgramGroups records a DuplicateProgramGroupID finding for every
// program-group id (the PG line's ID tag, Program.UID()) that appears more
// than once in h.
func (v *Validator) ValidateProgramGroups(h *sam.Header) {
	seen := make(map[string]int)
	for _, pg := range h.Progs() {
		seen[pg.UID()]++
	}
	for uid, n := range seen {
		if n > 1 {
			v.record(duplicateProgramGroupID(uid))
		}
	}
}

// ValidateRecord checks a single record's NM tag (against ref, when mapped)
// and its E2/U2 secondary-basecall tag lengths against SEQ.
func (v *Validator) ValidateRecord(r *sam.Record, ref fasta.Fasta, bisulfite bool) {
	if r.Flags&sam.Unmapped == 0 && r.Ref != nil && ref != nil {
		if aux := r.AuxFields.Get(nmTag); aux != nil {
			stored, ok := 0, true
			switch n := aux.Value().(type) {
			case int8:
				stored = int(n)
			case uint8:
				stored = int(n)
			case int16:
				stored = int(n)
			case uint16:
				stored = int(n)
			case int32:
				stored = int(n)
			case uint32:
				stored = int(n)
			default:
				ok = false
			}
			if ok {
				if computed, err := reference.ComputeNM(r, ref, bisulfite); err == nil && computed != stored {
					v.record(nmMismatch(r.Name, stored, computed))
				}
			}
		}
	}

	seqLen := r.Seq.Length
	e2Len, haveE2 := auxStringLen(r, e2Tag)
	u2Len, haveU2 := auxStringLen(r, u2Tag)
	if (haveE2 && e2Len != seqLen) || (haveU2 && u2Len != seqLen) {
		v.record(e2u2LengthMismatch(r.Name, seqLen, e2Len, u2Len))
	}
}

func auxStringLen(r *sam.Record, tag sam.Tag) (int, bool) {
	aux := r.AuxFields.Get(tag)
	if aux == nil {
		return 0, false
	}
	s, ok := aux.Value().(string)
	if !ok {
		return 0, false
	}
	return len(s), true
}

// ValidatePair checks mate-field symmetry between a paired template's two
// mapped ends, recording a MateFieldDisagreement finding for each mismatched
// field.
func (v *Validator) ValidatePair(first, second *sam.Record) {
	if first.Flags&sam.Unmapped != 0 || second.Flags&sam.Unmapped != 0 {
		return
	}
	if !refNamesEqual(first.MateRef, second.Ref) || !refNamesEqual(second.MateRef, first.Ref) {
		v.record(mateFieldDisagreement(first.Name, "mate reference disagrees with mate's actual reference"))
		return
	}
	if first.MatePos != second.Pos || second.MatePos != first.Pos {
		v.record(mateFieldDisagreement(first.Name, "mate position disagrees with mate's actual position"))
		return
	}
	firstMateReverse := first.Flags&sam.MateReverse != 0
	secondReverse := second.Flags&sam.Reverse != 0
	secondMateReverse := second.Flags&sam.MateReverse != 0
	firstReverse := first.Flags&sam.Reverse != 0
	if firstMateReverse != secondReverse || secondMateReverse != firstReverse {
		v.record(mateFieldDisagreement(first.Name, "mate-reverse flag disagrees with mate's actual strand"))
		return
	}
	if first.TempLen != -second.TempLen {
		v.record(mateFieldDisagreement(first.Name, "insert size is not the negation of the mate's"))
	}
}

func refNamesEqual(a, b *sam.Reference) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name() == b.Name()
}
