package main

/*
  bio-mark-duplicates flags PCR and optical duplicates in a BAM file,
  using the same ReadEnds-sort-and-sweep algorithm as Picard's
  MarkDuplicates. See github.com/grailbio/bamkit/dedup for the
  duplicate-detection engine this command drives.
*/

import (
	"context"
	"flag"
	"io"
	"io/ioutil"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bamkit/dedup"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

var (
	bamFile          = flag.String("bam", "", "Input BAM filename")
	outputPath       = flag.String("output", "", "Output BAM filename")
	metricsFile      = flag.String("metrics", "", "Output metrics file")
	scratchDir       = flag.String("scratch-dir", "/tmp", "Directory to put scratch files for external sort")
	maxInMemory      = flag.Int("max-in-memory", 500000, "Maximum ReadEnds buffered in memory per sort collection before spilling to disk")
	maxOpenWriters   = flag.Int("max-open-writers", 0, "Bound on concurrently open pending-mate spill-file handles when the input's reference dictionary is large enough to disk-back the pending collection; 0 selects the default")
	clearExisting    = flag.Bool("clear-existing", false, "Clear existing duplicate flag before marking")
	removeDups       = flag.Bool("remove-dups", false, "Remove duplicates instead of flagging them")
	useUMIs          = flag.Bool("use-umis", false, "Use UMI information in read names for grouping duplicates")
	umiFile          = flag.String("umi-file", "", "Perform UMI snap-correction with the known UMIs in this file")
	opticalDistance  = flag.Int("optical-distance", 2500, "Pixel distance threshold for optical duplicates; use -1 to disable")
	locationPattern  = flag.String("location-pattern", "", "Regex (3 capture groups: tile, x, y) for parsing optical location from read names; empty uses the Illumina default")
	opticalHistogram = flag.String("optical-histogram", "", "Path to optical distance histogram output file")
	readGroupLibrary = flag.String("read-group-library", "", "Comma-separated rg:library pairs overriding the library assigned to each read group; unlisted read groups fall back to the BAM header's RG-LB field")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}
	if *bamFile == "" || *outputPath == "" {
		log.Fatalf("-bam and -output are required")
	}

	ctx := context.Background()
	if err := run(ctx); err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}

func run(ctx context.Context) error {
	in, err := os.Open(*bamFile)
	if err != nil {
		return err
	}
	defer in.Close()

	reader, err := bam.NewReader(in, runtime.NumCPU())
	if err != nil {
		return err
	}
	defer reader.Close()
	header := reader.Header()

	opts := dedup.Opts{
		ReadGroupLibrary: readGroupLibraryMap(header, *readGroupLibrary),
		LocationPattern:  *locationPattern,
		OpticalDistance:  *opticalDistance,
		SpillDir:         *scratchDir,
		MaxInMemory:      *maxInMemory,
		RefCount:         len(header.Refs()),
		MaxOpenWriters:   *maxOpenWriters,
		UseUMIs:          *useUMIs,
	}
	if *umiFile != "" {
		known, err := ioutil.ReadFile(*umiFile)
		if err != nil {
			return err
		}
		opts.KnownUMIs = known
	}

	builder, err := dedup.NewBuilder(opts)
	if err != nil {
		return err
	}

	// The sort-and-sweep design needs every record resident until Mark has
	// run, so buffer the whole file once here rather than re-reading it for
	// the tagging pass.
	var records []*sam.Record
	for {
		r, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				return err
			}
			break
		}
		if *clearExisting {
			r.Flags &^= sam.Duplicate
		}
		if err := builder.Add(r, int64(len(records))); err != nil {
			return err
		}
		records = append(records, r)
	}

	dups, metrics, err := builder.Mark()
	if err != nil {
		return err
	}

	out, err := os.Create(*outputPath)
	if err != nil {
		return err
	}
	defer out.Close()
	writer, err := bam.NewWriter(out, header, runtime.NumCPU())
	if err != nil {
		return err
	}

	for i, r := range records {
		isDup := dups.IsDuplicate(int64(i))
		if isDup && *removeDups {
			continue
		}
		if isDup {
			r.Flags |= sam.Duplicate
		}
		if err := writer.Write(r); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	if *metricsFile != "" {
		if err := dedup.WriteMetrics(ctx, *metricsFile, metrics); err != nil {
			return err
		}
	}
	if *opticalHistogram != "" {
		if err := dedup.WriteOpticalHistogram(ctx, *opticalHistogram, metrics); err != nil {
			return err
		}
	}
	return nil
}

// readGroupLibraryMap builds the ReadGroupLibrary lookup dedup.Opts needs,
// starting from the BAM header's own RG-LB fields and then applying any
// overrides passed via -read-group-library (rg:library, comma-separated).
func readGroupLibraryMap(header *sam.Header, overrides string) map[string]string {
	m := map[string]string{}
	for _, rg := range header.RGs() {
		if lib := rg.Library(); lib != "" {
			m[rg.Name()] = lib
		}
	}
	if overrides != "" {
		for _, pair := range strings.Split(overrides, ",") {
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) == 2 {
				m[kv[0]] = kv[1]
			}
		}
	}
	return m
}
