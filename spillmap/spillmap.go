// Package spillmap implements a coordinate-keyed external map of
// (refIndex, key) -> value that keeps at most one reference sequence's
// worth of entries resident in memory at a time, spilling the rest to
// per-refIndex files in a process-private temp directory.
//
// It generalizes encoding/bampair's diskMateShard (a fixed-value,
// per-shard mate cache written once and read back once) into a map that
// supports interleaved Put/Remove across the whole file, keyed by an
// arbitrary Codec-encoded value, which is what the duplicate-detection
// and read-ends-collection engines need.
package spillmap

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/biogo/store/llrb"
	"github.com/golang/snappy"
	"github.com/grailbio/bamkit/fault"
)

// noPivot marks that no region is currently resident.
const noPivot = int32(-1)

// regionKey orders on-disk regions by refIndex in an llrb.Tree, the same
// ordered-index structure encoding/bampair's ShardInfo uses (there, keyed
// by (refID, start) to look up shard metadata; here, keyed by refIndex
// alone so Visit can walk present regions in ascending order without
// scanning every integer between 0 and the highest refIndex touched).
type regionKey int32

func (k regionKey) Compare(other llrb.Comparable) int {
	return int(k - other.(regionKey))
}

// Map is a single-slot-resident, LRU-bounded-spill external map. It is not
// safe for concurrent use; callers that shard work across goroutines must
// use one Map per goroutine or serialize access themselves, matching the
// single-writer discipline the teacher's diskMateShard relies on during its
// build phase.
type Map struct {
	codec Codec
	dir   string
	lru   *writerLRU

	pivot     int32
	pivotData map[string]interface{}

	// counts is the number of entries spilled to refIndex's on-disk region.
	// A refIndex absent from counts and not the pivot has no entries.
	counts map[int32]int64
	// order indexes the same refIndexes as counts, kept in ascending order
	// for Visit.
	order llrb.Tree
}

// New creates a Map that stores its spill files under dir (which must
// already exist and be writable) using codec to (de)serialize values.
// maxOpenWriters bounds the LRU of concurrently open spill-file write
// handles; 0 selects DefaultMaxOpenWriters.
func New(codec Codec, dir string, maxOpenWriters int) *Map {
	return &Map{
		codec:     codec,
		dir:       dir,
		lru:       newWriterLRU(dir, maxOpenWriters),
		pivot:     noPivot,
		pivotData: make(map[string]interface{}),
		counts:    make(map[int32]int64),
		order:     llrb.Tree{},
	}
}

// Put inserts (key, value) under refIndex. If refIndex is the resident
// pivot, it is inserted directly into the in-memory map; putting a key
// that already exists under the pivot is a contract violation. Otherwise
// the entry is appended to refIndex's spill file. The very first Put (or
// Remove) on a Map with no resident region establishes refIndex as the
// pivot directly, rather than spilling it immediately only to have the
// next Remove reload it.
func (m *Map) Put(refIndex int32, key string, value interface{}) error {
	if m.pivot == noPivot {
		m.pivot = refIndex
	}
	if refIndex == m.pivot {
		if _, exists := m.pivotData[key]; exists {
			return fault.Errorf(fault.ContractViolation, "spillmap: duplicate key %q at refIndex %d", key, refIndex)
		}
		m.pivotData[key] = value
		return nil
	}
	w, err := m.lru.get(refIndex)
	if err != nil {
		return fault.Errorf(fault.IO, "spillmap: opening spill file for refIndex %d: %v", refIndex, err)
	}
	if err := writeEntry(w, m.codec, key, value); err != nil {
		return fault.Errorf(fault.IO, "spillmap: writing entry for refIndex %d: %v", refIndex, err)
	}
	m.bumpCount(refIndex, 1)
	return nil
}

// bumpCount adjusts the on-disk entry count for refIndex, inserting or
// removing it from the ordered region index as it becomes non-empty or
// empty.
func (m *Map) bumpCount(refIndex int32, delta int64) {
	_, hadRegion := m.counts[refIndex]
	newCount := m.counts[refIndex] + delta
	if newCount <= 0 {
		delete(m.counts, refIndex)
		if hadRegion {
			m.order.Delete(regionKey(refIndex))
		}
		return
	}
	m.counts[refIndex] = newCount
	if !hadRegion {
		m.order.Insert(regionKey(refIndex))
	}
}

// Remove removes and returns the value for key under refIndex, making
// refIndex the resident pivot first if it is not already (spilling the
// previous pivot's data, then loading refIndex's region from disk and
// deleting its spill file). It reports false if the key is absent.
func (m *Map) Remove(refIndex int32, key string) (interface{}, bool, error) {
	if refIndex != m.pivot {
		if err := m.makeResident(refIndex); err != nil {
			return nil, false, err
		}
	}
	v, ok := m.pivotData[key]
	if ok {
		delete(m.pivotData, key)
	}
	return v, ok, nil
}

// Size returns the total number of entries: resident plus on-disk.
func (m *Map) Size() int64 {
	total := int64(len(m.pivotData))
	for _, c := range m.counts {
		total += c
	}
	return total
}

// makeResident spills the current pivot (if any) to its spill file, then
// loads refIndex's spill file (if any) into pivotData and deletes it, and
// sets pivot = refIndex.
func (m *Map) makeResident(refIndex int32) error {
	if m.pivot != noPivot && len(m.pivotData) > 0 {
		w, err := m.lru.get(m.pivot)
		if err != nil {
			return fault.Errorf(fault.IO, "spillmap: reopening spill file for refIndex %d: %v", m.pivot, err)
		}
		for k, v := range m.pivotData {
			if err := writeEntry(w, m.codec, k, v); err != nil {
				return fault.Errorf(fault.IO, "spillmap: spilling refIndex %d: %v", m.pivot, err)
			}
			m.bumpCount(m.pivot, 1)
		}
	}
	if err := m.lru.flush(m.pivot); err != nil {
		return fault.Errorf(fault.IO, "spillmap: flushing refIndex %d: %v", m.pivot, err)
	}

	count := m.counts[refIndex]
	m.pivotData = make(map[string]interface{}, count)
	if count > 0 {
		if err := m.loadRegion(refIndex, count); err != nil {
			return err
		}
	}
	m.bumpCount(refIndex, -count)
	if err := m.lru.closeAndRemove(refIndex); err != nil {
		return fault.Errorf(fault.IO, "spillmap: removing spill file for refIndex %d: %v", refIndex, err)
	}
	m.pivot = refIndex
	return nil
}

func (m *Map) loadRegion(refIndex int32, count int64) error {
	if err := m.lru.flush(refIndex); err != nil {
		return fault.Errorf(fault.IO, "spillmap: flushing refIndex %d before reload: %v", refIndex, err)
	}
	f, err := os.Open(m.lru.spillPath(refIndex))
	if err != nil {
		return fault.Errorf(fault.IO, "spillmap: opening region %d: %v", refIndex, err)
	}
	defer f.Close()
	r := snappy.NewReader(f)
	for i := int64(0); i < count; i++ {
		key, value, err := readEntry(r, m.codec)
		if err == io.EOF {
			return fault.Errorf(fault.IO, "spillmap: region %d: EOF mid-record after %d/%d entries", refIndex, i, count)
		}
		if err != nil {
			return fault.Errorf(fault.IO, "spillmap: region %d: %v", refIndex, err)
		}
		m.pivotData[key] = value
	}
	return nil
}

// Close releases the LRU's open write handles. It does not remove the
// spill directory; the caller owns that (normally a process-private temp
// dir it created and will remove on exit).
func (m *Map) Close() error {
	return m.lru.Close()
}

// Visit calls fn once for every resident and on-disk entry, traversing
// reference indices in ascending order (walking the same ordered region
// index ShardInfo uses to look up shard metadata by position), matching
// the iteration order spec.md requires for the spill-map round-trip
// property. fn must not call Put or Remove on m.
func (m *Map) Visit(fn func(refIndex int32, key string, value interface{}) error) error {
	pivotVisited := m.pivot == noPivot // nothing to insert if there's no pivot
	var walkErr error
	m.order.Do(func(c llrb.Comparable) bool {
		ref := int32(c.(regionKey))
		if !pivotVisited && m.pivot < ref {
			for k, v := range m.pivotData {
				if err := fn(m.pivot, k, v); err != nil {
					walkErr = err
					return true
				}
			}
			pivotVisited = true
		}
		if err := m.visitRegion(ref, fn); err != nil {
			walkErr = err
			return true
		}
		return false
	})
	if walkErr != nil {
		return walkErr
	}
	if !pivotVisited {
		for k, v := range m.pivotData {
			if err := fn(m.pivot, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Map) visitRegion(ref int32, fn func(refIndex int32, key string, value interface{}) error) error {
	count := m.counts[ref]
	if count == 0 {
		return nil
	}
	if err := m.lru.flush(ref); err != nil {
		return fault.Errorf(fault.IO, "spillmap: flushing refIndex %d: %v", ref, err)
	}
	f, err := os.Open(m.lru.spillPath(ref))
	if err != nil {
		return fault.Errorf(fault.IO, "spillmap: opening region %d: %v", ref, err)
	}
	defer f.Close()
	r := snappy.NewReader(f)
	for i := int64(0); i < count; i++ {
		key, value, err := readEntry(r, m.codec)
		if err != nil {
			return fault.Errorf(fault.IO, "spillmap: region %d: %v", ref, err)
		}
		if err := fn(ref, key, value); err != nil {
			return err
		}
	}
	return nil
}

// writeEntry writes a length-prefixed key followed by a length-prefixed,
// codec-encoded value, the same fileIdx/size-prefixed shape as
// diskMateShard.add, generalized from a fixed fileIdx to an arbitrary
// string key.
func writeEntry(w io.Writer, codec Codec, key string, value interface{}) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := codec.Encode(&buf, value); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(buf.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readEntry(r io.Reader, codec Codec) (string, interface{}, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	keyBuf := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return "", nil, err
	}
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	valBuf := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, valBuf); err != nil {
		return "", nil, err
	}
	value, err := codec.Decode(bytes.NewReader(valBuf))
	if err != nil {
		return "", nil, err
	}
	return string(keyBuf), value, nil
}
