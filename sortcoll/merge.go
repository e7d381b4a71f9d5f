package sortcoll

import (
	"os"

	"github.com/biogo/store/llrb"
)

// mergeLeaf is one source's current head value, ordered in the llrb.Tree by
// the collection's Less function with source index as a tiebreaker so that
// equal-valued heads from different sources both occupy a slot in the tree
// — the same role cmd/bio-bam-sort/sorter.Sorter's mergeLeaf plays in
// internalMergeShards, generalized from a fixed coordinate comparator to an
// arbitrary Less.
type mergeLeaf struct {
	value     interface{}
	sourceIdx int
	less      Less
}

func (l mergeLeaf) Compare(other llrb.Comparable) int {
	o := other.(mergeLeaf)
	switch {
	case l.less(l.value, o.value):
		return -1
	case l.less(o.value, l.value):
		return 1
	case l.sourceIdx < o.sourceIdx:
		return -1
	case l.sourceIdx > o.sourceIdx:
		return 1
	default:
		return 0
	}
}

// Iterator yields a Collection's values in Less order, merging its sources
// with an llrb.Tree keyed by mergeLeaf: each source contributes at most one
// leaf at a time, and the smallest leaf is popped and replaced by its
// source's next value until every source is exhausted.
type Iterator struct {
	sources []source
	less    Less
	tree    llrb.Tree
	runs    []string

	current interface{}
	err     error
	started bool
}

func newIterator(sources []source, less Less, runs []string) (*Iterator, error) {
	it := &Iterator{sources: sources, less: less, runs: runs}
	for idx, s := range sources {
		if err := it.seed(idx, s); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (it *Iterator) seed(idx int, s source) error {
	v, ok, err := s.peek()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	it.tree.Insert(mergeLeaf{value: v, sourceIdx: idx, less: it.less})
	return nil
}

// Scan advances to the next value in order, returning false once every
// source is exhausted or an error has occurred.
func (it *Iterator) Scan() bool {
	if it.err != nil {
		return false
	}
	min := it.tree.Min()
	if min == nil {
		return false
	}
	leaf := min.(mergeLeaf)
	it.tree.DeleteMin()
	it.current = leaf.value

	s := it.sources[leaf.sourceIdx]
	if err := s.advance(); err != nil {
		it.err = err
		return false
	}
	if err := it.seed(leaf.sourceIdx, s); err != nil {
		it.err = err
		return false
	}
	it.started = true
	return true
}

// Value returns the current value. It must be called only after Scan
// returns true.
func (it *Iterator) Value() interface{} {
	return it.current
}

// Err returns the error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases every source's resources and removes the collection's run
// files. It must be called exactly once, whether or not iteration ran to
// completion.
func (it *Iterator) Close() error {
	var firstErr error
	for _, s := range it.sources {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, path := range it.runs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = it.err
	}
	return firstErr
}
