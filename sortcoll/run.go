package sortcoll

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/golang/snappy"
)

// writeRun writes values, already sorted, to path as a snappy-compressed
// stream of length-prefixed codec-encoded records — the same framing
// spillmap uses for its spill files, minus the key prefix since a run's
// values carry no separate key.
func writeRun(path string, codec Codec, values []interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := snappy.NewBufferedWriter(f)
	var lenBuf [4]byte
	var buf bytes.Buffer
	for _, v := range values {
		buf.Reset()
		if err := codec.Encode(&buf, v); err != nil {
			w.Close()
			f.Close()
			return err
		}
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(buf.Len()))
		if _, err := w.Write(lenBuf[:]); err != nil {
			w.Close()
			f.Close()
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			w.Close()
			f.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// source yields values in ascending order, one at a time, from either a
// resident slice or a spilled run file.
type source interface {
	// peek returns the current head value without consuming it, and false
	// once exhausted.
	peek() (interface{}, bool, error)
	// advance discards the current head, making the next value the head.
	advance() error
	close() error
}

type sliceSource struct {
	values []interface{}
}

func (s *sliceSource) peek() (interface{}, bool, error) {
	if len(s.values) == 0 {
		return nil, false, nil
	}
	return s.values[0], true, nil
}

func (s *sliceSource) advance() error {
	if len(s.values) > 0 {
		s.values = s.values[1:]
	}
	return nil
}

func (s *sliceSource) close() error { return nil }

type runSource struct {
	f     *os.File
	r     io.Reader
	codec Codec

	head    interface{}
	hasHead bool
	err     error
	done    bool
}

func newRunSource(path string, codec Codec) (*runSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rs := &runSource{f: f, r: snappy.NewReader(f), codec: codec}
	rs.fill()
	return rs, rs.err
}

func (rs *runSource) fill() {
	if rs.done || rs.hasHead || rs.err != nil {
		return
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(rs.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			rs.done = true
			return
		}
		rs.err = err
		return
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(rs.r, payload); err != nil {
		rs.err = err
		return
	}
	v, err := rs.codec.Decode(bytes.NewReader(payload))
	if err != nil {
		rs.err = err
		return
	}
	rs.head = v
	rs.hasHead = true
}

func (rs *runSource) peek() (interface{}, bool, error) {
	rs.fill()
	if rs.err != nil {
		return nil, false, rs.err
	}
	if !rs.hasHead {
		return nil, false, nil
	}
	return rs.head, true, nil
}

func (rs *runSource) advance() error {
	rs.hasHead = false
	rs.head = nil
	rs.fill()
	return rs.err
}

func (rs *runSource) close() error { return rs.f.Close() }
