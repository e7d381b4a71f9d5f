package mergebam

import (
	"github.com/grailbio/bamkit/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// classifyPairOrientation reports a mapped pair's relative orientation,
// matching Picard's SamPairUtil.PairOrientation: same-strand mates are
// TANDEM, otherwise the read at the lower reference position determines FR
// (forward upstream) versus RF (reverse upstream).
func classifyPairOrientation(r1, r2 *sam.Record) PairOrientation {
	if bam.IsReversedRead(r1) == bam.IsReversedRead(r2) {
		return TANDEM
	}
	upstream := r1
	if r2.Pos < r1.Pos {
		upstream = r2
	}
	if !bam.IsReversedRead(upstream) {
		return FR
	}
	return RF
}

// clipOverlap soft-clips whichever of a mapped, opposite-strand, innie pair
// protrudes past its mate: the positive-strand record's alignment end past
// the negative-strand record's end, and the negative-strand record's
// alignment start before the positive-strand record's start. Tandem and
// outward-facing pairs are left unchanged.
func (cfg *Config) clipOverlap(first, second *sam.Record) {
	if first.Flags&sam.Unmapped != 0 || second.Flags&sam.Unmapped != 0 {
		return
	}
	if bam.IsReversedRead(first) == bam.IsReversedRead(second) {
		return
	}
	pos, neg := first, second
	if bam.IsReversedRead(first) {
		pos, neg = second, first
	}
	if pos.Pos >= neg.End() {
		return
	}
	if posDiff := pos.End() - neg.End(); posDiff > 0 {
		clipReferenceEnd(pos, posDiff)
	}
	if negDiff := pos.Pos - neg.Pos; negDiff > 0 {
		clipReferenceStart(neg, negDiff)
	}
}

// syncMateInfo propagates mate reference/position/strand/mapping-quality
// between a pair's two output records, sets proper-pair per
// classifyPairOrientation against cfg's expected orientations, and computes
// the inferred insert size. Both-unmapped pairs have their alignment, mate
// alignment and insert size zeroed instead.
func (cfg *Config) syncMateInfo(first, second *sam.Record) {
	firstMapped := first.Flags&sam.Unmapped == 0
	secondMapped := second.Flags&sam.Unmapped == 0

	if firstMapped && secondMapped {
		proper := cfg.expectedSet()[classifyPairOrientation(first, second)]
		setFlag(first, sam.ProperPair, proper)
		setFlag(second, sam.ProperPair, proper)
	} else {
		setFlag(first, sam.ProperPair, false)
		setFlag(second, sam.ProperPair, false)
	}

	first.MateRef, first.MatePos = second.Ref, second.Pos
	second.MateRef, second.MatePos = first.Ref, first.Pos
	setFlag(first, sam.MateUnmapped, !secondMapped)
	setFlag(second, sam.MateUnmapped, !firstMapped)
	setFlag(first, sam.MateReverse, second.Flags&sam.Reverse != 0)
	setFlag(second, sam.MateReverse, first.Flags&sam.Reverse != 0)

	setMateMapQ(first, second.MapQ, secondMapped)
	setMateMapQ(second, first.MapQ, firstMapped)

	switch {
	case firstMapped && secondMapped:
		ins := insertSize(first, second)
		first.TempLen, second.TempLen = ins, -ins
	case !firstMapped && !secondMapped:
		first.Ref, first.Pos = nil, 0
		second.Ref, second.Pos = nil, 0
		first.TempLen, second.TempLen = 0, 0
	default:
		first.TempLen, second.TempLen = 0, 0
	}
}

func setMateMapQ(r *sam.Record, mateMapQ byte, mateMapped bool) {
	bam.ClearAuxTags(r, []sam.Tag{mqTag})
	if !mateMapped {
		return
	}
	if aux, err := sam.NewAux(mqTag, int(mateMapQ)); err == nil {
		r.AuxFields = append(r.AuxFields, aux)
	}
}

// insertSize follows Picard's sign convention: positive for the mate
// starting at the lower reference position, negative for the other.
func insertSize(first, second *sam.Record) int {
	lo := first.Pos
	if second.Pos < lo {
		lo = second.Pos
	}
	hi := first.End()
	if second.End() > hi {
		hi = second.End()
	}
	size := hi - lo
	if first.Pos > second.Pos || (first.Pos == second.Pos && first.End() > second.End()) {
		size = -size
	}
	return size
}

// clipReferenceEnd soft-clips refBasesToClip reference bases from the high-
// coordinate (right) side of r's CIGAR, folding them (and any bases already
// past them) into a single trailing soft clip. Used whenever the alignment's
// high-coordinate edge needs shortening, regardless of which strand that
// happens to be the read's 3' end on.
func clipReferenceEnd(r *sam.Record, refBasesToClip int) {
	if refBasesToClip <= 0 || len(r.Cigar) == 0 {
		return
	}
	cigar := r.Cigar
	totalRef, _ := cigar.Lengths()
	if refBasesToClip > totalRef {
		refBasesToClip = totalRef
	}
	remaining := refBasesToClip
	clippedQuery := 0
	i := len(cigar)
	for i > 0 && remaining > 0 {
		i--
		op := cigar[i]
		cons := op.Type().Consumes()
		n := op.Len()
		if cons.Reference == 0 {
			clippedQuery += n * cons.Query
			continue
		}
		if n <= remaining {
			clippedQuery += n * cons.Query
			remaining -= n
			continue
		}
		kept := n - remaining
		clippedQuery += remaining * perRefQuery(cons)
		cigar[i] = sam.NewCigarOp(op.Type(), kept)
		i++
		remaining = 0
	}
	newCigar := make(sam.Cigar, 0, i+1)
	newCigar = append(newCigar, cigar[:i]...)
	if clippedQuery > 0 {
		newCigar = append(newCigar, sam.NewCigarOp(sam.CigarSoftClipped, clippedQuery))
	}
	r.Cigar = newCigar
}

// clipReferenceStart is clipReferenceEnd's mirror image: it clips from the
// low-coordinate (left) side and advances r.Pos by the reference bases
// removed.
func clipReferenceStart(r *sam.Record, refBasesToClip int) {
	if refBasesToClip <= 0 || len(r.Cigar) == 0 {
		return
	}
	cigar := r.Cigar
	totalRef, _ := cigar.Lengths()
	if refBasesToClip > totalRef {
		refBasesToClip = totalRef
	}
	remaining := refBasesToClip
	clippedQuery := 0
	i := 0
	for i < len(cigar) && remaining > 0 {
		op := cigar[i]
		cons := op.Type().Consumes()
		n := op.Len()
		if cons.Reference == 0 {
			clippedQuery += n * cons.Query
			i++
			continue
		}
		if n <= remaining {
			clippedQuery += n * cons.Query
			remaining -= n
			i++
			continue
		}
		kept := n - remaining
		clippedQuery += remaining * perRefQuery(cons)
		cigar[i] = sam.NewCigarOp(op.Type(), kept)
		remaining = 0
	}
	newCigar := make(sam.Cigar, 0, len(cigar)-i+1)
	if clippedQuery > 0 {
		newCigar = append(newCigar, sam.NewCigarOp(sam.CigarSoftClipped, clippedQuery))
	}
	newCigar = append(newCigar, cigar[i:]...)
	r.Cigar = newCigar
	r.Pos += refBasesToClip
}

// clipQueryEnd and clipQueryStart are clipReferenceEnd/clipReferenceStart's
// query-coordinate counterparts, used for adapter clipping where the clip
// boundary (XT) is given as a read position rather than a reference one.
func clipQueryEnd(r *sam.Record, queryBasesToClip int) {
	if queryBasesToClip <= 0 || len(r.Cigar) == 0 {
		return
	}
	cigar := r.Cigar
	remaining := queryBasesToClip
	clippedQuery := 0
	i := len(cigar)
	for i > 0 && remaining > 0 {
		i--
		op := cigar[i]
		cons := op.Type().Consumes()
		n := op.Len()
		if cons.Query == 0 {
			continue
		}
		if n <= remaining {
			clippedQuery += n
			remaining -= n
			continue
		}
		kept := n - remaining
		clippedQuery += remaining
		cigar[i] = sam.NewCigarOp(op.Type(), kept)
		i++
		remaining = 0
	}
	newCigar := make(sam.Cigar, 0, i+1)
	newCigar = append(newCigar, cigar[:i]...)
	if clippedQuery > 0 {
		newCigar = append(newCigar, sam.NewCigarOp(sam.CigarSoftClipped, clippedQuery))
	}
	r.Cigar = newCigar
}

func clipQueryStart(r *sam.Record, queryBasesToClip int) {
	if queryBasesToClip <= 0 || len(r.Cigar) == 0 {
		return
	}
	cigar := r.Cigar
	remaining := queryBasesToClip
	clippedQuery := 0
	i := 0
	for i < len(cigar) && remaining > 0 {
		op := cigar[i]
		cons := op.Type().Consumes()
		n := op.Len()
		if cons.Query == 0 {
			i++
			continue
		}
		if n <= remaining {
			clippedQuery += n
			remaining -= n
			i++
			continue
		}
		kept := n - remaining
		clippedQuery += remaining
		cigar[i] = sam.NewCigarOp(op.Type(), kept)
		remaining = 0
	}
	newCigar := make(sam.Cigar, 0, len(cigar)-i+1)
	if clippedQuery > 0 {
		newCigar = append(newCigar, sam.NewCigarOp(sam.CigarSoftClipped, clippedQuery))
	}
	newCigar = append(newCigar, cigar[i:]...)
	r.Cigar = newCigar
}

func perRefQuery(cons sam.Consume) int {
	if cons.Query > 0 {
		return 1
	}
	return 0
}
