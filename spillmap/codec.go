package spillmap

import "io"

// Codec encodes and decodes the opaque values stored in a Map's spill
// files. bamkit predates Go generics (the teacher module carries no
// generic code anywhere in its tree), so Codec is parameterized the way
// the teacher parameterizes its own per-type marshal/unmarshal pairs
// (c.f. encoding/bam.Marshal/Unmarshal for sam.Record): through an
// interface{} value rather than a type parameter. See DESIGN.md for the
// rationale.
type Codec interface {
	// Encode writes v to w. It must write a self-delimiting encoding, or
	// rely on the caller's length-prefix framing (Map does the latter).
	Encode(w io.Writer, v interface{}) error
	// Decode reads one value previously written by Encode from r.
	Decode(r io.Reader) (interface{}, error)
}
