/*
  bio-merge-bam-alignment reassembles an aligner's output against the
  original unmapped template BAM, transferring each hit's alignment,
  CIGAR and attributes back onto the record that carries the original
  bases, qualities and read-group metadata. See
  github.com/grailbio/bamkit/mergebam for the join engine this command
  drives.
*/
package main

import (
	"flag"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bamkit/encoding/fasta"
	"github.com/grailbio/bamkit/hitsagg"
	"github.com/grailbio/bamkit/mergebam"
	"github.com/grailbio/bamkit/samvalidate"
	"github.com/grailbio/hts/bam"
)

var (
	unmappedBAM  = flag.String("unmapped-bam", "", "Template BAM carrying original bases/qualities/read groups")
	alignedBAMs  = flag.String("aligned-bams", "", "Comma-separated paired- or single-end aligned BAM shards")
	read1Aligned = flag.String("read1-aligned-bams", "", "Comma-separated single-end alignments of read 1, used with -read2-aligned-bams instead of -aligned-bams")
	read2Aligned = flag.String("read2-aligned-bams", "", "Comma-separated single-end alignments of read 2")
	referenceFA  = flag.String("reference-fasta", "", "Reference FASTA the aligned BAMs were aligned against")
	faidx        = flag.String("reference-fasta-index", "", "Optional .fai index; enables indexed (lower-memory) FASTA access")
	output       = flag.String("output", "", "Output BAM filename")

	clipAdapters     = flag.Bool("clip-adapters", true, "Soft-clip adapter sequence marked by the XT aux tag")
	bisulfite        = flag.Bool("bisulfite", false, "Treat C/T as matching when recomputing NM/UQ")
	alignedReadsOnly = flag.Bool("aligned-reads-only", false, "Drop templates with no alignment instead of emitting them unmapped")
	clipOverlapping  = flag.Bool("clip-overlapping", false, "Soft-clip the overlapping portion of innie pairs")
	attrsToRetain    = flag.String("attributes-to-retain", "", "Comma-separated aligner aux tags to keep despite being reserved")
	read1Trimmed     = flag.Int("read1-trim", 0, "Bases trimmed from read 1 before alignment")
	read2Trimmed     = flag.Int("read2-trim", 0, "Bases trimmed from read 2 before alignment")
	orientations     = flag.String("expected-orientations", "FR", "Comma-separated orientations (FR, RF, TANDEM) a pair must have to be proper-pair")
	sortOrderFlag    = flag.String("sort-order", "coordinate", "Output sort order: coordinate, queryname, or unsorted")
	primaryStrategy  = flag.String("primary-selection-strategy", "best-mapq", "best-mapq or earliest-fragment")
	rngSeed          = flag.Int64("rng-seed", 0, "RNG seed for tie-breaking primary selection")
	scratchDir       = flag.String("scratch-dir", "/tmp", "Directory for external-sort scratch files")
	maxInMemory      = flag.Int("max-in-memory", 500000, "Maximum records buffered in memory per sort collection before spilling")
	indexOutput      = flag.String("index-output", "", "Optional .gbai index filename, built from a tee of the output stream as it's written")

	validationReport = flag.String("validation-report", "", "Optional path to write a NM/mate-field/header validation report")
	ignoreWarnings   = flag.Bool("ignore-validation-warnings", false, "Suppress warning-severity validation findings")
	maxValidationLog = flag.Int("max-validation-output", 1000, "Maximum verbose validation findings retained")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}
	if *unmappedBAM == "" || *referenceFA == "" || *output == "" {
		log.Fatalf("-unmapped-bam, -reference-fasta and -output are required")
	}

	if err := run(); err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}

func run() error {
	unmapped, closeUnmapped, err := openBAM(*unmappedBAM)
	if err != nil {
		return err
	}
	defer closeUnmapped()

	ref, closeRef, err := openReference(*referenceFA, *faidx)
	if err != nil {
		return err
	}
	defer closeRef()

	out, err := os.Create(*output)
	if err != nil {
		return err
	}
	defer out.Close()

	var idxOut *os.File
	if *indexOutput != "" {
		idxOut, err = os.Create(*indexOutput)
		if err != nil {
			return err
		}
		defer idxOut.Close()
	}

	cfg := mergebam.Config{
		Unmapped:             unmapped,
		Reference:            ref,
		ClipAdapters:         *clipAdapters,
		Bisulfite:            *bisulfite,
		AlignedReadsOnly:     *alignedReadsOnly,
		ClipOverlapping:      *clipOverlapping,
		AttributesToRetain:   splitNonEmpty(*attrsToRetain),
		Read1BasesTrimmed:    *read1Trimmed,
		Read2BasesTrimmed:    *read2Trimmed,
		ExpectedOrientations: parseOrientations(*orientations),
		SortOrder:            parseSortOrder(*sortOrderFlag),
		MaxRecordsInRAM:      *maxInMemory,
		SpillDir:             *scratchDir,
		RNGSeed:              *rngSeed,
		Output:               out,
	}
	if idxOut != nil {
		cfg.IndexOutput = idxOut
	}
	if *primaryStrategy == "earliest-fragment" {
		cfg.PrimarySelectionStrategy = hitsagg.EarliestFragment{}
	} else {
		cfg.PrimarySelectionStrategy = hitsagg.BestMAPQ{}
	}

	var validator *samvalidate.Validator
	if *validationReport != "" {
		validator = samvalidate.New(samvalidate.Config{
			IgnoreWarnings: *ignoreWarnings,
			MaxOutput:      *maxValidationLog,
		})
		cfg.Validator = validator
	}

	var closers []func() error
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	if *alignedBAMs != "" {
		readers, cleanup, err := openBAMs(splitNonEmpty(*alignedBAMs))
		if err != nil {
			return err
		}
		closers = append(closers, cleanup)
		cfg.Aligned = readers
	} else {
		r1, cleanup1, err := openBAMs(splitNonEmpty(*read1Aligned))
		if err != nil {
			return err
		}
		closers = append(closers, cleanup1)
		r2, cleanup2, err := openBAMs(splitNonEmpty(*read2Aligned))
		if err != nil {
			return err
		}
		closers = append(closers, cleanup2)
		cfg.Read1Aligned = r1
		cfg.Read2Aligned = r2
	}

	if err := mergebam.MergeBamAlignment(cfg); err != nil {
		return err
	}
	if validator != nil {
		return validator.WriteReport(*validationReport)
	}
	return nil
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

func openBAMs(paths []string) ([]*bam.Reader, func() error, error) {
	readers := make([]*bam.Reader, 0, len(paths))
	var closes []func() error
	for _, p := range paths {
		r, closeFn, err := openBAM(p)
		if err != nil {
			for _, c := range closes {
				c()
			}
			return nil, nil, err
		}
		readers = append(readers, r)
		closes = append(closes, closeFn)
	}
	return readers, func() error {
		for _, c := range closes {
			c()
		}
		return nil
	}, nil
}

func openReference(path, faiPath string) (fasta.Fasta, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if faiPath == "" {
		r, err := fasta.New(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return r, f.Close, nil
	}
	idx, err := os.Open(faiPath)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	defer idx.Close()
	r, err := fasta.NewIndexed(f, idx)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f.Close, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func parseOrientations(s string) []mergebam.PairOrientation {
	var out []mergebam.PairOrientation
	for _, tok := range splitNonEmpty(s) {
		switch strings.ToUpper(strings.TrimSpace(tok)) {
		case "FR":
			out = append(out, mergebam.FR)
		case "RF":
			out = append(out, mergebam.RF)
		case "TANDEM":
			out = append(out, mergebam.TANDEM)
		}
	}
	return out
}

func parseSortOrder(s string) mergebam.SortOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queryname":
		return mergebam.QueryName
	case "unsorted":
		return mergebam.Unsorted
	default:
		return mergebam.Coordinate
	}
}
