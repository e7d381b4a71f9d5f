package main

/*
  bio-merge-sam-files combines several BAM shards into one, matching
  Picard's MergeSamFiles. See github.com/grailbio/bamkit/mergesam for the
  merge engine this command drives.
*/

import (
	"flag"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bamkit/mergesam"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

var (
	inputs                    = flag.String("input", "", "Comma-separated input BAM filenames")
	output                    = flag.String("output", "", "Output BAM filename")
	sortOrderFlag             = flag.String("sort-order", "coordinate", "Output sort order: coordinate, queryname, or unsorted")
	assumeSorted              = flag.Bool("assume-sorted", false, "Trust each input to already be in -sort-order instead of re-sorting")
	mergeSequenceDictionaries = flag.Bool("merge-sequence-dictionaries", false, "Allow inputs with differing (but reconcilable) sequence dictionaries")
	useThreading              = flag.Bool("use-threading", false, "Overlap reading/merging with writing via a producer/consumer queue")
	comment                   = flag.String("comment", "", "Comment line appended to the merged header")
	scratchDir                = flag.String("scratch-dir", "/tmp", "Directory for external-sort scratch files")
	maxInMemory               = flag.Int("max-in-memory", 500000, "Maximum records buffered in memory before spilling, when re-sorting")
	queueCapacity             = flag.Int("queue-capacity", 10000, "Producer/consumer queue capacity, when -use-threading is set")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}
	if *inputs == "" || *output == "" {
		log.Fatalf("-input and -output are required")
	}

	if err := run(); err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}

func run() error {
	paths := strings.Split(*inputs, ",")
	readers, closeAll, err := openBAMs(paths)
	if err != nil {
		return err
	}
	defer closeAll()

	out, err := os.Create(*output)
	if err != nil {
		return err
	}
	defer out.Close()

	cfg := mergesam.Config{
		Inputs:                    readers,
		Output:                    out,
		SortOrder:                 parseSortOrder(*sortOrderFlag),
		AssumeSorted:              *assumeSorted,
		MergeSequenceDictionaries: *mergeSequenceDictionaries,
		UseThreading:              *useThreading,
		Comment:                   *comment,
		SpillDir:                  *scratchDir,
		MaxRecordsInRAM:           *maxInMemory,
		QueueCapacity:             *queueCapacity,
	}
	return mergesam.MergeSamFiles(cfg)
}

func openBAMs(paths []string) ([]*bam.Reader, func() error, error) {
	readers := make([]*bam.Reader, 0, len(paths))
	var closes []func() error
	for _, p := range paths {
		r, closeFn, err := openBAM(p)
		if err != nil {
			closeEach(closes)
			return nil, nil, err
		}
		closes = append(closes, closeFn)
		readers = append(readers, r)
	}
	return readers, func() error {
		closeEach(closes)
		return nil
	}, nil
}

func openBAM(path string) (*bam.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := bam.NewReader(f, runtime.NumCPU())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, func() error {
		r.Close()
		return f.Close()
	}, nil
}

func closeEach(closes []func() error) {
	for _, c := range closes {
		c()
	}
}

func parseSortOrder(s string) sam.SortOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queryname":
		return sam.QueryName
	case "unsorted":
		return sam.Unsorted
	default:
		return sam.Coordinate
	}
}
