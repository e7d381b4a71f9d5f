package mergebam

import (
	"encoding/binary"
	"io"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/sam"
)

// recordCodec is sortcoll.Codec for *sam.Record, written from scratch
// against the public github.com/grailbio/hts/sam API: the teacher's own
// encoding/bam.Marshal/Unmarshal pair is typed against
// github.com/biogo/hts/sam instead and can't round-trip this package's
// records. sortcoll's run files already length-prefix and compress each
// encoded value (see sortcoll/run.go), so Encode/Decode only need to agree
// on a self-consistent byte layout for one record, not frame it themselves.
//
// References are stored by name and resolved back to *sam.Reference
// through a map built once from the header, since a spilled run carries no
// header of its own.
type recordCodec struct {
	header *sam.Header
	byName map[string]*sam.Reference
}

func newRecordCodec(header *sam.Header) *recordCodec {
	byName := make(map[string]*sam.Reference, len(header.Refs()))
	for _, ref := range header.Refs() {
		byName[ref.Name()] = ref
	}
	return &recordCodec{header: header, byName: byName}
}

func (c *recordCodec) Encode(w io.Writer, v interface{}) error {
	r := v.(*sam.Record)
	if err := writeString(w, r.Name); err != nil {
		return err
	}
	if err := writeString(w, refName(r.Ref)); err != nil {
		return err
	}
	if err := writeString(w, refName(r.MateRef)); err != nil {
		return err
	}
	for _, n := range []int{r.Pos, r.MatePos, r.TempLen} {
		if err := binary.Write(w, binary.LittleEndian, int32(n)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(r.Flags)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{r.MapQ}); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(r.Cigar))); err != nil {
		return err
	}
	for _, op := range r.Cigar {
		if err := binary.Write(w, binary.LittleEndian, uint32(op)); err != nil {
			return err
		}
	}

	if err := writeBytes(w, r.Seq.Expand()); err != nil {
		return err
	}
	if err := writeBytes(w, r.Qual); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(r.AuxFields))); err != nil {
		return err
	}
	for _, aux := range r.AuxFields {
		if err := writeBytes(w, []byte(aux)); err != nil {
			return err
		}
	}
	return nil
}

func (c *recordCodec) Decode(r io.Reader) (interface{}, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	refN, err := readString(r)
	if err != nil {
		return nil, err
	}
	mateRefN, err := readString(r)
	if err != nil {
		return nil, err
	}

	var pos, matePos, tempLen int32
	for _, p := range []*int32{&pos, &matePos, &tempLen} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, err
		}
	}
	var flags uint16
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, err
	}
	mapQByte := make([]byte, 1)
	if _, err := io.ReadFull(r, mapQByte); err != nil {
		return nil, err
	}

	var nCigar uint32
	if err := binary.Read(r, binary.LittleEndian, &nCigar); err != nil {
		return nil, err
	}
	cigar := make(sam.Cigar, nCigar)
	for i := range cigar {
		var op uint32
		if err := binary.Read(r, binary.LittleEndian, &op); err != nil {
			return nil, err
		}
		cigar[i] = sam.CigarOp(op)
	}

	seqBytes, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	qual, err := readBytes(r)
	if err != nil {
		return nil, err
	}

	var nAux uint32
	if err := binary.Read(r, binary.LittleEndian, &nAux); err != nil {
		return nil, err
	}
	aux := make(sam.AuxFields, nAux)
	for i := range aux {
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		aux[i] = sam.Aux(b)
	}

	rec := &sam.Record{
		Name:      name,
		Ref:       c.byName[refN],
		MateRef:   c.byName[mateRefN],
		Pos:       int(pos),
		MatePos:   int(matePos),
		TempLen:   int(tempLen),
		Flags:     sam.Flags(flags),
		MapQ:      mapQByte[0],
		Cigar:     cigar,
		Seq:       sam.NewSeq(seqBytes),
		Qual:      qual,
		AuxFields: aux,
	}
	return rec, nil
}

func refName(ref *sam.Reference) string {
	if ref == nil {
		return ""
	}
	return ref.Name()
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fault.Errorf(fault.IO, "mergebam: %v", err)
	}
	return b, nil
}
