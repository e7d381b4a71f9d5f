package biopb

// Coord identifies a position in a genomic coordinate space: a reference
// sequence index, a zero-based position within that reference, and a
// tie-breaking sequence number used to order several coordinates that
// share the same (RefId, Pos), e.g. successive unmapped reads.
//
// In the original grail.com/bio tree this message was generated by
// gogo/protobuf from a .proto file (biopb.proto) that is not part of this
// retrieval; it is reproduced here as a plain struct since bamkit never
// needs Coord's wire encoding, only its in-memory comparison semantics
// defined in coord.go.
type Coord struct {
	RefId int32
	Pos   int32
	Seq   int32
}

// CoordRange is the half-open interval [Start, Limit) in Coord space.
type CoordRange struct {
	Start Coord
	Limit Coord
}
