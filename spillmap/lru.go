package spillmap

import (
	"container/list"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

// DefaultMaxOpenWriters is the default bound on concurrently open spill-file
// write handles, matching the ~500-handle budget spec.md calls for so that
// workloads with tens of thousands of reference sequences do not exhaust
// file descriptors.
const DefaultMaxOpenWriters = 500

type openWriter struct {
	refIndex int32
	f        *os.File
	snappy   *snappy.Writer
	elem     *list.Element
}

// writerLRU bounds the number of concurrently open spill-file write
// handles. When capacity is exceeded, the least-recently-used writer is
// flushed and closed; a later Put for that refIndex reopens the file in
// append mode. The snappy framing format tolerates a fresh stream
// identifier chunk appearing mid-file, so reopening and starting a new
// snappy stream is safe to read back sequentially.
type writerLRU struct {
	dir      string
	max      int
	order    *list.List // front = most recently used
	byRef    map[int32]*openWriter
}

func newWriterLRU(dir string, max int) *writerLRU {
	if max <= 0 {
		max = DefaultMaxOpenWriters
	}
	return &writerLRU{
		dir:   dir,
		max:   max,
		order: list.New(),
		byRef: make(map[int32]*openWriter),
	}
}

func (l *writerLRU) spillPath(refIndex int32) string {
	return fmt.Sprintf("%s/region-%010d.spill", l.dir, refIndex)
}

// get returns an open, ready-to-append snappy writer for refIndex,
// evicting the least-recently-used writer if the LRU is at capacity.
func (l *writerLRU) get(refIndex int32) (*snappy.Writer, error) {
	if w, ok := l.byRef[refIndex]; ok {
		l.order.MoveToFront(w.elem)
		return w.snappy, nil
	}
	if len(l.byRef) >= l.max {
		if err := l.evictOldest(); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(l.spillPath(refIndex), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &openWriter{refIndex: refIndex, f: f, snappy: snappy.NewBufferedWriter(f)}
	w.elem = l.order.PushFront(w)
	l.byRef[refIndex] = w
	return w.snappy, nil
}

func (l *writerLRU) evictOldest() error {
	back := l.order.Back()
	if back == nil {
		return nil
	}
	w := back.Value.(*openWriter)
	return l.closeOne(w)
}

func (l *writerLRU) closeOne(w *openWriter) error {
	err := w.snappy.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	l.order.Remove(w.elem)
	delete(l.byRef, w.refIndex)
	return err
}

// closeAndRemove flushes and closes refIndex's writer (if open) and
// removes the underlying spill file, used once a region has been fully
// reloaded into memory.
func (l *writerLRU) closeAndRemove(refIndex int32) error {
	if w, ok := l.byRef[refIndex]; ok {
		if err := l.closeOne(w); err != nil {
			return err
		}
	}
	err := os.Remove(l.spillPath(refIndex))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// flush closes refIndex's writer (if open) without deleting the file, so
// a reader can see everything written so far.
func (l *writerLRU) flush(refIndex int32) error {
	if w, ok := l.byRef[refIndex]; ok {
		return l.closeOne(w)
	}
	return nil
}

// closeAll flushes and closes every open writer.
func (l *writerLRU) closeAll() error {
	var firstErr error
	for l.order.Len() > 0 {
		w := l.order.Front().Value.(*openWriter)
		if err := l.closeOne(w); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ io.Closer = (*writerLRU)(nil)

func (l *writerLRU) Close() error { return l.closeAll() }
