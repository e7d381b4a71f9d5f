package readends

import (
	"encoding/binary"
	"io"
)

// readEndsCodec is a fixed-width big-endian encoding (89 bytes/entry) so the
// disk-backed Collection's spill files stay dense: twelve big-endian
// integers, the orientation/paired byte and the two 16-byte UMI fields, no
// length prefix of their own (spillmap's writeEntry already length-prefixes
// the codec's output).
type readEndsCodec struct{}

// Codec is the exported form of readEndsCodec, satisfying both
// spillmap.Codec and sortcoll.Codec's identical shape so dedup's external
// sort over ReadEnds can reuse the same fixed-width encoding this package
// already uses for spilling.
func Codec() interface {
	Encode(w io.Writer, v interface{}) error
	Decode(r io.Reader) (interface{}, error)
} {
	return readEndsCodec{}
}

const readEndsEncodedSize = 4*2 + 1 + 4*2 + 8*2 + 4*6 + 16*2

// pairedBit steals the Orientation byte's top bit to carry ReadEnds.Paired
// without widening the fixed-width record; Orientation's six values only
// need the low 3 bits.
const pairedBit = 0x80

func (readEndsCodec) Encode(w io.Writer, v interface{}) error {
	re := v.(ReadEnds)
	var buf [readEndsEncodedSize]byte
	b := buf[:]
	putInt32(b[0:4], re.LibraryID)
	putInt32(b[4:8], re.Score)
	b[8] = byte(re.Orientation)
	if re.Paired {
		b[8] |= pairedBit
	}
	putInt32(b[9:13], re.Read1Ref)
	putInt32(b[13:17], re.Read1Coord)
	binary.BigEndian.PutUint64(b[17:25], uint64(re.Read1IndexInFile))
	putInt32(b[25:29], re.Read2Ref)
	putInt32(b[29:33], re.Read2Coord)
	binary.BigEndian.PutUint64(b[33:41], uint64(re.Read2IndexInFile))
	putInt32(b[41:45], re.ReadGroupID)
	putInt32(b[45:49], re.Tile)
	putInt32(b[49:53], re.X)
	putInt32(b[53:57], re.Y)
	copy(b[57:73], re.UMI1[:])
	copy(b[73:89], re.UMI2[:])
	_, err := w.Write(b)
	return err
}

func (readEndsCodec) Decode(r io.Reader) (interface{}, error) {
	var buf [readEndsEncodedSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	b := buf[:]
	re := ReadEnds{
		LibraryID:        getInt32(b[0:4]),
		Score:            getInt32(b[4:8]),
		Orientation:      Orientation(b[8] &^ pairedBit),
		Paired:           b[8]&pairedBit != 0,
		Read1Ref:         getInt32(b[9:13]),
		Read1Coord:       getInt32(b[13:17]),
		Read1IndexInFile: int64(binary.BigEndian.Uint64(b[17:25])),
		Read2Ref:         getInt32(b[25:29]),
		Read2Coord:       getInt32(b[29:33]),
		Read2IndexInFile: int64(binary.BigEndian.Uint64(b[33:41])),
		ReadGroupID:      getInt32(b[41:45]),
		Tile:             getInt32(b[45:49]),
		X:                getInt32(b[49:53]),
		Y:                getInt32(b[53:57]),
	}
	copy(re.UMI1[:], b[57:73])
	copy(re.UMI2[:], b[73:89])
	return re, nil
}

func putInt32(b []byte, v int32) {
	binary.BigEndian.PutUint32(b, uint32(v))
}

func getInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}
