// Package dedup implements the duplicate-detection engine (spec §4.E): a
// two-pass external sort over readends.ReadEnds (one sortcoll.Collection for
// completed pairs, one for fragments), grouping records that share a
// duplicateKey, picking one non-duplicate per group, and sweeping each group
// for optical duplicates by flowcell tile/x/y proximity. It generalizes
// markduplicates' duplicate_index.go/optical_detector.go from an in-memory,
// record-pointer model to one driven entirely by sorted ReadEnds plus file
// ordinals, so arbitrarily large inputs spill to disk instead of requiring
// every read pair resident in RAM.
package dedup

import (
	"bytes"
	"fmt"

	"github.com/grailbio/bamkit/readends"
)

// duplicateKey groups ReadEnds that describe the same 5' coordinates (and,
// for pairs, the same mate coordinates and orientation) and therefore
// candidates for the same duplicate group, mirroring
// markduplicates/duplicate_key.go's field order and comparison precedence
// but operating directly on readends.ReadEnds instead of sam.Record pairs.
// umi1/umi2 only participate when UMI-based grouping is enabled (Builder
// populates them); left zero-valued otherwise, so they never affect
// grouping when UMIs aren't in use.
type duplicateKey struct {
	libraryID   int32
	leftRef     int32
	leftCoord   int32
	rightRef    int32
	rightCoord  int32
	orientation readends.Orientation
	umi1        [16]byte
	umi2        [16]byte
}

func keyOf(re readends.ReadEnds) duplicateKey {
	return duplicateKey{
		libraryID:   re.LibraryID,
		leftRef:     re.Read1Ref,
		leftCoord:   re.Read1Coord,
		rightRef:    re.Read2Ref,
		rightCoord:  re.Read2Coord,
		orientation: re.Orientation,
		umi1:        re.UMI1,
		umi2:        re.UMI2,
	}
}

func (k duplicateKey) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d,%d,%d,%q,%q)", k.libraryID, k.leftRef, k.leftCoord, k.rightRef, k.rightCoord, k.orientation,
		bytes.TrimRight(k.umi1[:], "\x00"), bytes.TrimRight(k.umi2[:], "\x00"))
}

// less orders ReadEnds so that equal-key records land in consecutive runs
// once sorted, the precondition the mark sweep relies on instead of an
// in-memory group-by map.
func less(a, b readends.ReadEnds) bool {
	ka, kb := keyOf(a), keyOf(b)
	if ka.libraryID != kb.libraryID {
		return ka.libraryID < kb.libraryID
	}
	if ka.leftRef != kb.leftRef {
		return ka.leftRef < kb.leftRef
	}
	if ka.leftCoord != kb.leftCoord {
		return ka.leftCoord < kb.leftCoord
	}
	if ka.orientation != kb.orientation {
		return ka.orientation < kb.orientation
	}
	if ka.rightRef != kb.rightRef {
		return ka.rightRef < kb.rightRef
	}
	if ka.rightCoord != kb.rightCoord {
		return ka.rightCoord < kb.rightCoord
	}
	if c := bytes.Compare(ka.umi1[:], kb.umi1[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(ka.umi2[:], kb.umi2[:]); c != 0 {
		return c < 0
	}
	// Break remaining ties by file order, for determinism.
	if a.Read1IndexInFile != b.Read1IndexInFile {
		return a.Read1IndexInFile < b.Read1IndexInFile
	}
	return a.Read2IndexInFile < b.Read2IndexInFile
}
