package mergebam

import (
	"errors"
	"fmt"

	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/hitsagg"
	"github.com/grailbio/bamkit/sortcoll"
	"github.com/grailbio/hts/sam"
)

// behindError is mergebam's join-loop counterpart to hitsagg.NotSortedError:
// it fires when the aligned side's current hit-set sorts before the
// unmapped template it's being matched against, which (like a source that
// arrives out of order) can only be repaired by re-sorting the aligned side
// by name and retrying the whole join.
type behindError struct {
	AlignedName, UnmappedName string
}

func (e *behindError) Error() string {
	return fmt.Sprintf("mergebam: aligned iterator behind unmapped: %q < %q", e.AlignedName, e.UnmappedName)
}

func needsResort(err error) bool {
	if err == nil {
		return false
	}
	var nse *hitsagg.NotSortedError
	if errors.As(err, &nse) {
		return true
	}
	var be *behindError
	return errors.As(err, &be)
}

// recordingSource wraps a recordSource and remembers every record it
// yields, so that when a retry is triggered mid-stream the already-consumed
// prefix isn't lost: drainRemainder then exhausts whatever is left, and the
// two together can be fed into an external sort without needing to reopen
// or reseek the original aligned readers.
type recordingSource struct {
	src recordSource
	buf []*sam.Record
	err error
}

func (s *recordingSource) Scan() bool {
	if !s.src.Scan() {
		return false
	}
	s.buf = append(s.buf, s.src.Record())
	return true
}

func (s *recordingSource) Record() *sam.Record { return s.buf[len(s.buf)-1] }
func (s *recordingSource) Err() error          { return s.src.Err() }

// drainRemainder exhausts whatever the wrapped source has left, buffering it
// the same way Scan does, and reports the source's own error if it had one.
func (s *recordingSource) drainRemainder() error {
	for s.src.Scan() {
		s.buf = append(s.buf, s.src.Record())
	}
	return s.src.Err()
}

// iteratorSource adapts a sortcoll.Iterator back into a recordSource, used
// to re-present the name-sorted retry spool to a fresh hitsagg.Aggregator.
type iteratorSource struct {
	it *sortcoll.Iterator
}

func (s *iteratorSource) Scan() bool          { return s.it.Scan() }
func (s *iteratorSource) Record() *sam.Record { return s.it.Value().(*sam.Record) }
func (s *iteratorSource) Err() error          { return s.it.Err() }

func nameLess(a, b interface{}) bool {
	return a.(*sam.Record).Name < b.(*sam.Record).Name
}

// spoolByName external-sorts records by name into a fresh recordSource,
// used to turn a drained, possibly-unordered aligned stream back into
// something hitsagg.Aggregator can trust.
func spoolByName(spillDir string, codec sortcoll.Codec, maxInMemory int, records []*sam.Record) (recordSource, error) {
	coll := sortcoll.New(spillDir, codec, nameLess, maxInMemory)
	for _, r := range records {
		if err := coll.Add(r); err != nil {
			return nil, fault.Errorf(fault.IO, "mergebam: spooling retry sort: %v", err)
		}
	}
	it, err := coll.Finish()
	if err != nil {
		return nil, fault.Errorf(fault.IO, "mergebam: finishing retry sort: %v", err)
	}
	return &iteratorSource{it: it}, nil
}
