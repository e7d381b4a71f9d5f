// Package readends implements the typed duplicate-detection record and the
// collection that stores it, built as a thin layer over spillmap (4.A). It
// generalizes encoding/bampair's memMateShard/diskMateShard split: below
// ~500 reference sequences the per-reference spill overhead of an external
// map buys nothing, so a pure in-memory map is substituted behind the same
// interface.
package readends

import (
	"sort"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/spillmap"
)

// DiskBackingThreshold is the number of reference sequences above which a
// disk-backed spillmap.Map is used instead of a plain in-memory map.
const DiskBackingThreshold = 500

// Orientation encodes the strand combination of a ReadEnds pair (or F/R for
// a fragment).
type Orientation uint8

const (
	F Orientation = iota
	R
	FF
	FR
	RF
	RR
)

// IsPair reports whether o describes a paired orientation (as opposed to a
// single fragment's F or R).
func (o Orientation) IsPair() bool { return o >= FF }

// ReadEnds is the duplicate-detection record accumulated per template: one
// per unpaired fragment, or one per completed pair once both ends have been
// observed. See spec §3's Record/ReadEnds data model.
type ReadEnds struct {
	LibraryID int32
	Score     int32

	Orientation Orientation

	Read1Ref         int32
	Read1Coord       int32
	Read1IndexInFile int64

	// Read2Ref is -1 for fragments.
	Read2Ref         int32
	Read2Coord       int32
	Read2IndexInFile int64

	// Optical-duplicate location, populated from the read name.
	ReadGroupID int32
	Tile        int32
	X           int32
	Y           int32

	// UMI1/UMI2 are the (optionally snap-corrected) per-mate UMI sequences,
	// fixed-width and zero-padded, populated only when UMI-based grouping is
	// enabled. Left zero-valued, they compare equal across every record and
	// so do not affect grouping.
	UMI1 [16]byte
	UMI2 [16]byte

	// Paired marks a fragment-view entry (Read2Ref == -1) as having come from
	// a record whose mate is mapped, i.e. one that also contributed a
	// completed pair to the pair collection. The frag sweep uses this to
	// implement spec §4.E's "a run containing any paired record marks every
	// unpaired record in it a duplicate" rule. It does not participate in
	// duplicateKey grouping or ordering.
	Paired bool
}

// IsPaired reports whether r represents a completed pair rather than a
// lone fragment.
func (r ReadEnds) IsPaired() bool { return r.Read2Ref >= 0 }

// Key builds the spill-map key spec §4.B specifies: readGroupID + ":" +
// readName.
func Key(readGroupID, readName string) string {
	return readGroupID + ":" + readName
}

// Collection is the typed (refIndex, key) -> ReadEnds store 4.B describes,
// backed either by a disk-spilling spillmap.Map or, below
// DiskBackingThreshold reference sequences, a plain in-memory map.
type Collection interface {
	// Put inserts a new ReadEnds entry. Putting a duplicate key under the
	// resident pivot (or, for the in-memory variant, any duplicate key) is
	// a contract violation.
	Put(refIndex int32, key string, re ReadEnds) error
	// Remove removes and returns the entry for key under refIndex, reporting
	// false if absent.
	Remove(refIndex int32, key string) (ReadEnds, bool, error)
	// Size returns the total number of resident entries.
	Size() int64
	// Visit calls fn once per entry, in ascending refIndex order.
	Visit(fn func(refIndex int32, key string, re ReadEnds) error) error
	Close() error
}

// New returns a Collection sized for a sequence dictionary of refCount
// entries. dir is the spill directory used when the disk-backed variant is
// selected; it is ignored otherwise.
func New(dir string, refCount int, maxOpenWriters int) Collection {
	if refCount > DiskBackingThreshold {
		return &diskCollection{m: spillmap.New(readEndsCodec{}, dir, maxOpenWriters)}
	}
	return newMemCollection()
}

type diskCollection struct {
	m *spillmap.Map
}

func (c *diskCollection) Put(refIndex int32, key string, re ReadEnds) error {
	return c.m.Put(refIndex, key, re)
}

func (c *diskCollection) Remove(refIndex int32, key string) (ReadEnds, bool, error) {
	v, ok, err := c.m.Remove(refIndex, key)
	if err != nil || !ok {
		return ReadEnds{}, ok, err
	}
	return v.(ReadEnds), true, nil
}

func (c *diskCollection) Size() int64 { return c.m.Size() }

func (c *diskCollection) Visit(fn func(refIndex int32, key string, re ReadEnds) error) error {
	return c.m.Visit(func(refIndex int32, key string, value interface{}) error {
		return fn(refIndex, key, value.(ReadEnds))
	})
}

func (c *diskCollection) Close() error { return c.m.Close() }

// memCollection is the in-memory substitute used when the sequence
// dictionary is small enough that spilling would be pure overhead. It keeps
// per-refIndex maps so Visit can still honor the ascending-refIndex order
// spec.md requires, using a sort rather than an llrb.Tree since refCount is
// bounded by DiskBackingThreshold here.
type memCollection struct {
	byRef map[int32]map[string]ReadEnds
}

func newMemCollection() *memCollection {
	return &memCollection{byRef: make(map[int32]map[string]ReadEnds)}
}

func (c *memCollection) Put(refIndex int32, key string, re ReadEnds) error {
	m, ok := c.byRef[refIndex]
	if !ok {
		m = make(map[string]ReadEnds)
		c.byRef[refIndex] = m
	}
	if _, exists := m[key]; exists {
		return fault.Errorf(fault.ContractViolation, "readends: duplicate key %q at refIndex %d", key, refIndex)
	}
	m[key] = re
	return nil
}

func (c *memCollection) Remove(refIndex int32, key string) (ReadEnds, bool, error) {
	m, ok := c.byRef[refIndex]
	if !ok {
		return ReadEnds{}, false, nil
	}
	re, ok := m[key]
	if ok {
		delete(m, key)
	}
	return re, ok, nil
}

func (c *memCollection) Size() int64 {
	var total int64
	for _, m := range c.byRef {
		total += int64(len(m))
	}
	return total
}

func (c *memCollection) Visit(fn func(refIndex int32, key string, re ReadEnds) error) error {
	refs := make([]int32, 0, len(c.byRef))
	for ref := range c.byRef {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	for _, ref := range refs {
		for k, v := range c.byRef[ref] {
			if err := fn(ref, k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *memCollection) Close() error { return nil }
