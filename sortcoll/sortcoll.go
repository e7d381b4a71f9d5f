// Package sortcoll implements an external sorting collection: values are
// buffered in memory up to a caller-chosen limit, sorted and spilled to a
// run file once the limit is reached, and finally merged back in order by
// an N-way merge over an llrb.Tree — the same ordered-merge structure
// cmd/bio-bam-sort/sorter.Sorter's internalMergeShards uses to fold
// per-goroutine sorted batches back into one coordinate-ordered stream,
// generalized here from BAM records with a fixed coordinate comparator to
// an arbitrary Codec/Less pair so both the duplicate-detection engine's
// pairSort/fragSort and the alignment-merge pipeline's final re-sort can
// share one implementation.
package sortcoll

import (
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/grailbio/bamkit/fault"
)

// Codec encodes and decodes the values a Collection sorts. Like
// spillmap.Codec, this is an interface{}-parameterized interface rather
// than a generic type parameter, matching the teacher module's pre-generics
// vintage (see spillmap.Codec's doc comment and DESIGN.md).
type Codec interface {
	Encode(w io.Writer, v interface{}) error
	Decode(r io.Reader) (interface{}, error)
}

// Less reports whether a sorts before b. It must define a strict weak
// ordering consistent across all values a Collection ever holds.
type Less func(a, b interface{}) bool

// Collection is a write-once, read-once external sort: Add values in any
// order, then call Finish to obtain an Iterator that yields them in Less
// order. It is not safe for concurrent use.
type Collection struct {
	dir         string
	codec       Codec
	less        Less
	maxInMemory int

	buf       []interface{}
	runs      []string
	runCounts []int
	nextID    int
	closed    bool
}

// New creates a Collection that spills run files under dir (which must
// already exist) once maxInMemory values have been buffered.
func New(dir string, codec Codec, less Less, maxInMemory int) *Collection {
	if maxInMemory <= 0 {
		maxInMemory = 1 << 20
	}
	return &Collection{dir: dir, codec: codec, less: less, maxInMemory: maxInMemory}
}

// Add appends v to the collection.
func (c *Collection) Add(v interface{}) error {
	if c.closed {
		return fault.Errorf(fault.ContractViolation, "sortcoll: Add called after Finish")
	}
	c.buf = append(c.buf, v)
	if len(c.buf) >= c.maxInMemory {
		return c.spill()
	}
	return nil
}

// Len returns the number of values added so far (resident plus spilled).
func (c *Collection) Len() int {
	n := len(c.buf)
	for _, count := range c.runCounts {
		n += count
	}
	return n
}

func (c *Collection) spill() error {
	sort.Slice(c.buf, func(i, j int) bool { return c.less(c.buf[i], c.buf[j]) })
	path := filepath.Join(c.dir, runFileName(c.nextID))
	c.nextID++
	if err := writeRun(path, c.codec, c.buf); err != nil {
		return fault.Errorf(fault.IO, "sortcoll: spilling run: %v", err)
	}
	c.runs = append(c.runs, path)
	c.runCounts = append(c.runCounts, len(c.buf))
	c.buf = nil
	return nil
}

// Finish closes the collection to further Add calls and returns an Iterator
// that yields every added value in Less order, merging the final in-memory
// buffer against any spilled runs. The Collection must not be reused after
// Finish; the caller owns cleanup of the run files via Iterator.Close.
func (c *Collection) Finish() (*Iterator, error) {
	if c.closed {
		return nil, fault.Errorf(fault.ContractViolation, "sortcoll: Finish called twice")
	}
	c.closed = true
	sort.Slice(c.buf, func(i, j int) bool { return c.less(c.buf[i], c.buf[j]) })

	sources := make([]source, 0, len(c.runs)+1)
	if len(c.buf) > 0 {
		sources = append(sources, &sliceSource{values: c.buf})
	}
	for _, path := range c.runs {
		rs, err := newRunSource(path, c.codec)
		if err != nil {
			return nil, fault.Errorf(fault.IO, "sortcoll: opening run %s: %v", path, err)
		}
		sources = append(sources, rs)
	}
	return newIterator(sources, c.less, c.runs)
}

func runFileName(id int) string {
	return "run-" + strconv.Itoa(id) + ".sort"
}
