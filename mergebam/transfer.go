package mergebam

import (
	"github.com/grailbio/bamkit/encoding/bam"
	"github.com/grailbio/hts/sam"
)

var (
	xtTag = sam.NewTag("XT")
	mqTag = sam.NewTag("MQ")
	ppTag = sam.NewTag("PP")
)

// isReservedTag reports whether an aux tag's first character marks it
// aligner-private (lower-case, or X/Y/Z) and therefore droppable on
// transfer unless the caller explicitly asked to keep it.
func isReservedTag(t sam.Tag) bool {
	c := t[0]
	if c >= 'a' && c <= 'z' {
		return true
	}
	return c == 'X' || c == 'Y' || c == 'Z'
}

func copyAttributes(dst, src *sam.Record, retain map[string]bool) {
	for _, aux := range src.AuxFields {
		tag := aux.Tag()
		if isReservedTag(tag) && !retain[tag.String()] {
			continue
		}
		dst.AuxFields = append(dst.AuxFields, aux)
	}
}

// cloneTemplate makes an independent copy of an unmapped-side record so
// that a multi-hit template can be transferred once per hit without the
// clones aliasing each other or the original buffered record (which must
// stay intact in case a retry-after-resort replays the whole join).
func cloneTemplate(r *sam.Record) *sam.Record {
	clone := *r
	clone.Cigar = append(sam.Cigar(nil), r.Cigar...)
	clone.AuxFields = append(sam.AuxFields(nil), r.AuxFields...)
	return &clone
}

// transferHit mutates template (an unmapped-side clone) in place, copying
// across aligned's attributes and alignment fields per the per-hit transfer
// rules. aligned == nil means this end had no alignment in this hit; the
// template is left as a still-unmapped record.
func (cfg *Config) transferHit(template, aligned *sam.Record) {
	if aligned == nil {
		return
	}

	copyAttributes(template, aligned, cfg.retain())

	template.Ref = aligned.Ref
	template.Pos = aligned.Pos
	setFlag(template, sam.Secondary, aligned.Flags&sam.Secondary != 0)
	setFlag(template, sam.Supplementary, aligned.Flags&sam.Supplementary != 0)
	setFlag(template, sam.Reverse, aligned.Flags&sam.Reverse != 0)
	setFlag(template, sam.Unmapped, aligned.Flags&sam.Unmapped != 0)

	if aligned.Flags&sam.Unmapped != 0 {
		return
	}

	template.Cigar = append(sam.Cigar(nil), aligned.Cigar...)
	template.MapQ = aligned.MapQ

	if aligned.Flags&sam.Reverse != 0 {
		reverseComplementInPlace(template)
	}

	if aligned.Ref != nil {
		if refLen, err := cfg.Reference.Len(aligned.Ref.Name()); err == nil {
			if overhang := aligned.End() - int(refLen); overhang > 0 {
				clipReferenceEnd(template, overhang)
			}
		}
	}

	cfg.reconcileTrim(template)

	if cfg.ClipAdapters {
		cfg.clipAdapter(template, aligned)
	}
}

func setFlag(r *sam.Record, f sam.Flags, on bool) {
	if on {
		r.Flags |= f
	} else {
		r.Flags &^= f
	}
}

var complement = map[byte]byte{
	'A': 'T', 'T': 'A', 'C': 'G', 'G': 'C', 'N': 'N',
	'a': 't', 't': 'a', 'c': 'g', 'g': 'c', 'n': 'n',
}

// reverseComplementInPlace flips the template's own (still-original,
// sequencing-orientation) bases and qualities to match a negative-strand
// alignment; it never touches the aligner's reported bases, since those may
// already have been clipped or otherwise modified.
func reverseComplementInPlace(r *sam.Record) {
	bases := r.Seq.Expand()
	n := len(bases)
	rc := make([]byte, n)
	for i, b := range bases {
		c, ok := complement[b]
		if !ok {
			c = b
		}
		rc[n-1-i] = c
	}
	r.Seq = sam.NewSeq(rc)
	if len(r.Qual) > 0 {
		q := make([]byte, len(r.Qual))
		for i, v := range r.Qual {
			q[len(r.Qual)-1-i] = v
		}
		r.Qual = q
	}
}

// reconcileTrim pads template's CIGAR with the soft clips needed so its
// query-consuming length matches the read's full original length: trimmed
// bases the aligner was never given (read1/2BasesTrimmed) plus any residual
// not_written bases the aligner's own CIGAR doesn't account for. A
// negative-strand alignment gets the two pads on opposite ends, since its
// sequencing 5'/3' ends map to the high/low reference-coordinate ends of
// the CIGAR respectively.
func (cfg *Config) reconcileTrim(template *sam.Record) {
	trimmed := cfg.Read2BasesTrimmed
	if bam.IsRead1(template) {
		trimmed = cfg.Read1BasesTrimmed
	}

	originalLength := template.Seq.Length
	_, alignedLength := template.Cigar.Lengths()
	notWritten := originalLength - alignedLength - trimmed
	if notWritten < 0 {
		notWritten = 0
	}
	if trimmed <= 0 && notWritten <= 0 {
		return
	}

	leftPad, rightPad := trimmed, notWritten
	if template.Flags&sam.Reverse != 0 {
		leftPad, rightPad = notWritten, trimmed
	}
	if leftPad > 0 {
		template.Cigar = append(sam.Cigar{sam.NewCigarOp(sam.CigarSoftClipped, leftPad)}, template.Cigar...)
	}
	if rightPad > 0 {
		template.Cigar = append(template.Cigar, sam.NewCigarOp(sam.CigarSoftClipped, rightPad))
	}
}

// clipAdapter soft-clips template from the sequencing position aligned's XT
// tag marks as the adapter start, converting that sequencing-orientation,
// 1-based coordinate into the appropriate end of the (possibly
// reverse-complemented) CIGAR.
func (cfg *Config) clipAdapter(template, aligned *sam.Record) {
	aux := aligned.AuxFields.Get(xtTag)
	if aux == nil {
		return
	}
	var pos int
	switch v := aux.Value().(type) {
	case int8:
		pos = int(v)
	case uint8:
		pos = int(v)
	case int16:
		pos = int(v)
	case uint16:
		pos = int(v)
	case int32:
		pos = int(v)
	case uint32:
		pos = int(v)
	}
	if pos <= 0 {
		return
	}
	originalLength := template.Seq.Length
	adapterLen := originalLength - pos + 1
	if adapterLen <= 0 {
		return
	}
	if template.Flags&sam.Reverse != 0 {
		clipQueryStart(template, adapterLen)
	} else {
		clipQueryEnd(template, adapterLen)
	}
}
