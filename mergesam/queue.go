package mergesam

import (
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// pollTimeout matches spec §5's "15-second poll timeout on the consumer":
// the consumer re-checks the producer's termination state on this cadence
// rather than blocking forever on an empty queue, so a producer that died
// without closing the queue is noticed promptly instead of wedging the job.
const pollTimeout = 15 * time.Second

// runThreaded overlaps reading/merging (the producer) with writing (the
// consumer) across a bounded channel, the parallel "merge-sam-files mode"
// described in spec §5.2.1. Either side's fatal error terminates the job;
// errOnce captures whichever one is observed first.
func runThreaded(src recordSource, writer *bam.Writer, queueCapacity int) error {
	queue := make(chan *sam.Record, queueCapacity)
	var errOnce errors.Once
	producerDone := make(chan struct{})

	go func() {
		defer close(queue)
		defer close(producerDone)
		for src.Scan() {
			queue <- src.Record()
		}
		if err := src.Err(); err != nil {
			errOnce.Set(err)
		}
	}()

	for {
		select {
		case rec, ok := <-queue:
			if !ok {
				if err := errOnce.Err(); err != nil {
					return fault.Errorf(fault.IO, "mergesam: %v", err)
				}
				return nil
			}
			if err := writer.Write(rec); err != nil {
				werr := fault.Errorf(fault.IO, "mergesam: writing output: %v", err)
				errOnce.Set(werr)
				drainUntilClosed(queue, producerDone)
				return werr
			}
		case <-time.After(pollTimeout):
			select {
			case <-producerDone:
				// Producer finished between polls and the queue is about
				// to close (or already has); loop back to the select
				// above to drain it.
			default:
				log.Debug.Printf("mergesam: consumer still waiting on producer after %s", pollTimeout)
			}
		}
	}
}

// drainUntilClosed discards whatever the producer still has queued after
// the consumer has already failed, so the producer goroutine's blocking
// send doesn't leak.
func drainUntilClosed(queue <-chan *sam.Record, done <-chan struct{}) {
	for {
		select {
		case _, ok := <-queue:
			if !ok {
				return
			}
		case <-done:
			for range queue {
			}
			return
		}
	}
}
