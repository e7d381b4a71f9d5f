// Package samvalidate reports the validation findings a SAM/BAM consumer is
// expected to surface before trusting a file: NM-tag mismatches, mate-field
// disagreement, a header missing its sequence dictionary or read groups,
// duplicate program-group ids, and E2/U2 secondary-basecall length
// mismatches. Findings accumulate into a per-type histogram, the way
// dedup/metrics.go accumulates its optical-distance histogram, with
// IGNORE/IGNORE_WARNINGS/MAX_OUTPUT knobs controlling what actually
// surfaces.
package samvalidate

import "fmt"

// Type identifies one kind of validation finding.
type Type int

const (
	NMMismatch Type = iota
	MateFieldDisagreement
	MissingSequenceDictionary
	MissingReadGroup
	DuplicateProgramGroupID
	E2U2LengthMismatch
)

func (t Type) String() string {
	switch t {
	case NMMismatch:
		return "NM_MISMATCH"
	case MateFieldDisagreement:
		return "MATE_FIELD_DISAGREEMENT"
	case MissingSequenceDictionary:
		return "MISSING_SEQUENCE_DICTIONARY"
	case MissingReadGroup:
		return "MISSING_READ_GROUP"
	case DuplicateProgramGroupID:
		return "DUPLICATE_PROGRAM_GROUP_ID"
	case E2U2LengthMismatch:
		return "E2_U2_LENGTH_MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// Severity is a Finding's severity: Warning findings can be globally
// suppressed via Config.IgnoreWarnings, Error findings cannot.
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "ERROR"
	}
	return "WARNING"
}

// severityOf is the fixed severity each Type reports at; mirrors the
// ERROR/WARNING split Picard's ValidateSamFile documents per finding kind.
func severityOf(t Type) Severity {
	switch t {
	case NMMismatch, MateFieldDisagreement, MissingSequenceDictionary, DuplicateProgramGroupID:
		return Error
	default:
		return Warning
	}
}

// Finding is one validation problem found in a record or header.
type Finding struct {
	Type       Type
	Severity   Severity
	RecordName string
	Message    string
}

func (f Finding) String() string {
	name := f.RecordName
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s", f.Severity, f.Type, name, f.Message)
}

func nmMismatch(name string, stored, computed int) Finding {
	return Finding{
		Type: NMMismatch, Severity: severityOf(NMMismatch), RecordName: name,
		Message: fmt.Sprintf("NM tag is %d, computed %d from CIGAR/reference", stored, computed),
	}
}

func mateFieldDisagreement(name, detail string) Finding {
	return Finding{Type: MateFieldDisagreement, Severity: severityOf(MateFieldDisagreement), RecordName: name, Message: detail}
}

func missingSequenceDictionary() Finding {
	return Finding{Type: MissingSequenceDictionary, Severity: severityOf(MissingSequenceDictionary), Message: "header has no sequence dictionary entries"}
}

func missingReadGroup(name string) Finding {
	return Finding{Type: MissingReadGroup, Severity: severityOf(MissingReadGroup), RecordName: name, Message: "record carries no RG tag and header defines no default read group"}
}

func duplicateProgramGroupID(id string) Finding {
	return Finding{Type: DuplicateProgramGroupID, Severity: severityOf(DuplicateProgramGroupID), Message: fmt.Sprintf("program group id %q appears more than once", id)}
}

func e2u2LengthMismatch(name string, seqLen, e2Len, u2Len int) Finding {
	return Finding{
		Type: E2U2LengthMismatch, Severity: severityOf(E2U2LengthMismatch), RecordName: name,
		Message: fmt.Sprintf("SEQ length %d, E2 length %d, U2 length %d", seqLen, e2Len, u2Len),
	}
}
