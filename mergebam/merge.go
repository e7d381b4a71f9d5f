package mergebam

import (
	"io"
	"runtime"

	"github.com/grailbio/bamkit/encoding/bam"
	"github.com/grailbio/bamkit/encoding/fasta"
	"github.com/grailbio/bamkit/fault"
	"github.com/grailbio/bamkit/hitsagg"
	"github.com/grailbio/bamkit/reference"
	"github.com/grailbio/bamkit/samheader"
	"github.com/grailbio/bamkit/sortcoll"
	"github.com/grailbio/bamkit/util"
	htsbam "github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// templateRecord is one query name's worth of the unmapped input: a single
// record if unpaired, or first-of-pair/second-of-pair if paired.
type templateRecord struct {
	name   string
	paired bool
	first  *sam.Record
	second *sam.Record
}

// MergeBamAlignment joins cfg.Unmapped against cfg's aligned input(s),
// transferring each hit onto the corresponding unmapped template and
// writing the merged, re-sorted result to cfg.Output.
func MergeBamAlignment(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	records, err := bufferUnmapped(cfg.Unmapped)
	if err != nil {
		return err
	}
	templates, err := groupTemplates(records)
	if err != nil {
		return err
	}

	header, err := cfg.buildHeader()
	if err != nil {
		return err
	}
	if cfg.Validator != nil {
		cfg.Validator.ValidateHeader(header)
		cfg.Validator.ValidateProgramGroups(header)
	}
	codec := newRecordCodec(header)

	collect, err := cfg.runJoinWithRetry(templates, header, codec)
	if err != nil {
		return err
	}

	it, err := collect.Finish()
	if err != nil {
		return fault.Errorf(fault.IO, "mergebam: finishing sort: %v", err)
	}
	defer it.Close()

	// When indexing, tee the exact bytes handed to the BAM writer into a
	// pipe a second goroutine consumes with encoding/bam.WriteGIndex, so the
	// index is built from the live output stream (spec §4.D.8/§6's gather-
	// with-indexing mode) instead of a second pass over the finished file.
	target := cfg.Output
	var pw *io.PipeWriter
	var indexErr chan error
	if cfg.IndexOutput != nil {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		target = io.MultiWriter(cfg.Output, pw)
		indexErr = make(chan error, 1)
		go func() {
			indexErr <- bam.WriteGIndex(cfg.IndexOutput, pr, cfg.indexByteInterval(), runtime.NumCPU())
		}()
	}

	writer, err := htsbam.NewWriter(target, header, runtime.NumCPU())
	if err != nil {
		return fault.Errorf(fault.IO, "mergebam: %v", err)
	}

	recomputer := reference.New(cfg.Reference, cfg.Bisulfite)
	for it.Scan() {
		r := it.Value().(*sam.Record)
		if cfg.Validator != nil {
			cfg.Validator.ValidateRecord(r, cfg.Reference, cfg.Bisulfite)
		}
		if err := recomputer.Recompute(r); err != nil {
			return err
		}
		if err := writer.Write(r); err != nil {
			return fault.Errorf(fault.IO, "mergebam: writing output: %v", err)
		}
	}
	if err := it.Err(); err != nil {
		return fault.Errorf(fault.IO, "mergebam: reading sorted output: %v", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}
	if pw == nil {
		return nil
	}
	pw.Close()
	if err := <-indexErr; err != nil {
		return fault.Errorf(fault.IO, "mergebam: building .gbai index: %v", err)
	}
	return nil
}

func bufferUnmapped(r *htsbam.Reader) ([]*sam.Record, error) {
	var out []*sam.Record
	for {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fault.Errorf(fault.IO, "mergebam: reading unmapped input: %v", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// groupTemplates walks records (in the order read from the unmapped input)
// grouping them into one templateRecord per query name. A paired template
// must appear as consecutive first-of-pair, second-of-pair records with
// matching names; any other arrangement is a fatal contract violation.
func groupTemplates(records []*sam.Record) ([]*templateRecord, error) {
	out := make([]*templateRecord, 0, len(records))
	i := 0
	for i < len(records) {
		r := records[i]
		if r.Flags&sam.Paired == 0 {
			out = append(out, &templateRecord{name: r.Name, first: r})
			i++
			continue
		}
		if i+1 >= len(records) {
			return nil, fault.Errorf(fault.ContractViolation,
				"mergebam: unmapped input ends mid-pair at %q", r.Name)
		}
		second := records[i+1]
		if r.Name != second.Name || r.Flags&sam.Read1 == 0 || second.Flags&sam.Read2 == 0 {
			return nil, fault.Errorf(fault.ContractViolation,
				"mergebam: unmapped input not ordered first-of-pair/second-of-pair at %q vs %q (name edit distance %d)",
				r.Name, second.Name, util.Levenshtein(r.Name, second.Name, "", ""))
		}
		out = append(out, &templateRecord{name: r.Name, paired: true, first: r, second: second})
		i += 2
	}
	return out, nil
}

func hitsName(h *hitsagg.HitsForInsert) string {
	for _, r := range h.First {
		if r != nil {
			return r.Name
		}
	}
	for _, r := range h.Second {
		if r != nil {
			return r.Name
		}
	}
	return ""
}

// runJoinWithRetry runs the join optimistically against cfg's aligned
// input as given; if the join reports the aligned side wasn't consistently
// ordered (hitsagg.NotSortedError, or mergebam's own behindError), it
// drains the rest of the aligned side, external-sorts everything seen so
// far by name, and retries the whole join exactly once against a
// guaranteed-ordered stream. The first attempt's partial output is
// discarded on retry.
func (cfg *Config) runJoinWithRetry(templates []*templateRecord, header *sam.Header, codec sortcoll.Codec) (*sortcoll.Collection, error) {
	src, err := cfg.buildAlignedSource()
	if err != nil {
		return nil, err
	}

	collect := sortcoll.New(cfg.SpillDir, codec, lessForSortOrder(cfg.SortOrder), cfg.maxInMemory())
	rec := &recordingSource{src: src}
	agg := hitsagg.New(rec, cfg.strategy(), cfg.RNGSeed)
	joinErr := runJoin(cfg, templates, agg, collect)
	if joinErr == nil {
		return collect, nil
	}
	if !needsResort(joinErr) {
		return nil, joinErr
	}

	if err := rec.drainRemainder(); err != nil {
		return nil, fault.Errorf(fault.IO, "mergebam: draining aligned input after resort trigger: %v", err)
	}
	sorted, err := spoolByName(cfg.SpillDir, codec, cfg.maxInMemory(), rec.buf)
	if err != nil {
		return nil, err
	}

	finalCollect := sortcoll.New(cfg.SpillDir, codec, lessForSortOrder(cfg.SortOrder), cfg.maxInMemory())
	agg2 := hitsagg.New(sorted, cfg.strategy(), cfg.RNGSeed)
	if err := runJoin(cfg, templates, agg2, finalCollect); err != nil {
		return nil, err
	}
	return finalCollect, nil
}

// runJoin walks templates in order against agg's name-ordered hit-sets,
// transferring each match and, unless AlignedReadsOnly, emitting templates
// with no aligned hit as still-unmapped records.
func runJoin(cfg *Config, templates []*templateRecord, agg *hitsagg.Aggregator, collect *sortcoll.Collection) error {
	haveHits := agg.Scan()
	for _, tmpl := range templates {
		if !haveHits {
			if !cfg.AlignedReadsOnly {
				if err := emitUnaligned(tmpl, collect); err != nil {
					return err
				}
			}
			continue
		}
		name := hitsName(agg.Hits())
		switch {
		case name == tmpl.name:
			if err := cfg.transferTemplate(tmpl, agg.Hits(), collect); err != nil {
				return err
			}
			haveHits = agg.Scan()
		case name > tmpl.name:
			if !cfg.AlignedReadsOnly {
				if err := emitUnaligned(tmpl, collect); err != nil {
					return err
				}
			}
		default:
			return &behindError{AlignedName: name, UnmappedName: tmpl.name}
		}
	}
	return agg.Err()
}

func (cfg *Config) transferTemplate(tmpl *templateRecord, h *hitsagg.HitsForInsert, collect *sortcoll.Collection) error {
	n := h.NumHits()
	for i := 0; i < n; i++ {
		isPrimary := i == h.PrimaryIndex

		var firstOut, secondOut *sam.Record
		if h.First[i] != nil || isPrimary {
			firstOut = cloneTemplate(tmpl.first)
			cfg.transferHit(firstOut, h.First[i])
		}
		if tmpl.paired && (h.Second[i] != nil || isPrimary) {
			secondOut = cloneTemplate(tmpl.second)
			cfg.transferHit(secondOut, h.Second[i])
		}

		if tmpl.paired && firstOut != nil && secondOut != nil {
			if cfg.ClipOverlapping {
				cfg.clipOverlap(firstOut, secondOut)
			}
			cfg.syncMateInfo(firstOut, secondOut)
			if cfg.Validator != nil {
				cfg.Validator.ValidatePair(firstOut, secondOut)
			}
		}

		if firstOut != nil {
			if err := addRecord(collect, firstOut); err != nil {
				return err
			}
		}
		if secondOut != nil {
			if err := addRecord(collect, secondOut); err != nil {
				return err
			}
		}

		for si, hi := range h.SupplementaryFirstHI {
			if hi != i {
				continue
			}
			sup := cloneTemplate(tmpl.first)
			cfg.transferHit(sup, h.SupplementaryFirst[si])
			if err := addRecord(collect, sup); err != nil {
				return err
			}
		}
		for si, hi := range h.SupplementarySecondHI {
			if hi != i {
				continue
			}
			sup := cloneTemplate(tmpl.second)
			cfg.transferHit(sup, h.SupplementarySecond[si])
			if err := addRecord(collect, sup); err != nil {
				return err
			}
		}
	}
	return nil
}

func emitUnaligned(tmpl *templateRecord, collect *sortcoll.Collection) error {
	first := cloneTemplate(tmpl.first)
	if !tmpl.paired {
		return addRecord(collect, first)
	}
	second := cloneTemplate(tmpl.second)
	first.MateRef, first.MatePos = second.Ref, second.Pos
	second.MateRef, second.MatePos = first.Ref, first.Pos
	first.Flags |= sam.MateUnmapped
	second.Flags |= sam.MateUnmapped
	if err := addRecord(collect, first); err != nil {
		return err
	}
	return addRecord(collect, second)
}

func addRecord(collect *sortcoll.Collection, r *sam.Record) error {
	if err := collect.Add(r); err != nil {
		return fault.Errorf(fault.IO, "mergebam: %v", err)
	}
	return nil
}

func (cfg *Config) buildAlignedSource() (recordSource, error) {
	if len(cfg.Aligned) > 0 {
		sources := make([]recordSource, len(cfg.Aligned))
		for i, r := range cfg.Aligned {
			sources[i] = newBAMSource(r)
		}
		return mergeSources(sources), nil
	}
	sources := make([]recordSource, 0, len(cfg.Read1Aligned)+len(cfg.Read2Aligned))
	for _, r := range cfg.Read1Aligned {
		sources = append(sources, &taggedSource{recordSource: newBAMSource(r), extra: sam.Paired | sam.Read1})
	}
	for _, r := range cfg.Read2Aligned {
		sources = append(sources, &taggedSource{recordSource: newBAMSource(r), extra: sam.Paired | sam.Read2})
	}
	if len(sources) == 0 {
		return nil, fault.Errorf(fault.ContractViolation, "mergebam: no aligned input configured")
	}
	return mergeSources(sources), nil
}

func lessForSortOrder(order SortOrder) sortcoll.Less {
	switch order {
	case QueryName:
		return nameLess
	case Unsorted:
		return func(a, b interface{}) bool { return false }
	default:
		return coordinateLess
	}
}

func coordinateLess(a, b interface{}) bool {
	ra, rb := a.(*sam.Record), b.(*sam.Record)
	aRef, bRef := refIndex(ra.Ref), refIndex(rb.Ref)
	if aRef != bRef {
		if aRef == -1 {
			return false
		}
		if bRef == -1 {
			return true
		}
		return aRef < bRef
	}
	if aRef == -1 {
		return false
	}
	return ra.Pos < rb.Pos
}

func refIndex(ref *sam.Reference) int {
	if ref == nil {
		return -1
	}
	return ref.ID()
}

// buildHeader assembles the merged output header: the reference dictionary
// from cfg.Reference, the unmapped side's read groups, and the aligned
// side's program records (reconciled across shards via samheader.Merge when
// there's more than one), with cfg.ProgramRecord chained behind whatever
// program record was already last in that chain.
func (cfg *Config) buildHeader() (*sam.Header, error) {
	readers := cfg.alignedReaders()
	headers := make([]*sam.Header, len(readers))
	for i, r := range readers {
		headers[i] = r.Header()
	}

	var mh *samheader.MergedHeader
	if len(headers) > 1 {
		var err error
		mh, err = samheader.Merge(headers, true)
		if err != nil {
			return nil, err
		}
	}

	refs, err := referencesFromFasta(cfg.Reference)
	if err != nil {
		return nil, fault.Errorf(fault.IO, "mergebam: building sequence dictionary: %v", err)
	}
	merged, err := sam.NewHeader(nil, refs)
	if err != nil {
		return nil, fault.Errorf(fault.ContractViolation, "mergebam: %v", err)
	}

	for _, rg := range cfg.Unmapped.Header().RGs() {
		if err := merged.AddReadGroup(rg.Clone()); err != nil {
			return nil, fault.Errorf(fault.ContractViolation, "mergebam: adding read group: %v", err)
		}
	}

	var progSource *sam.Header
	switch {
	case mh != nil:
		progSource = mh.Header
	case len(headers) == 1:
		progSource = headers[0]
	}
	var lastUID string
	if progSource != nil {
		for _, pg := range progSource.Progs() {
			clone := pg.Clone()
			if err := merged.AddProgram(clone); err != nil {
				return nil, fault.Errorf(fault.ContractViolation, "mergebam: adding program: %v", err)
			}
			lastUID = clone.UID()
		}
	}
	if cfg.ProgramRecord != nil {
		pg := cfg.ProgramRecord.Clone()
		if lastUID != "" {
			if err := pg.Set(ppTag, lastUID); err != nil {
				return nil, fault.Errorf(fault.ContractViolation, "mergebam: chaining program record: %v", err)
			}
		}
		if err := merged.AddProgram(pg); err != nil {
			return nil, fault.Errorf(fault.ContractViolation, "mergebam: adding program record: %v", err)
		}
	}
	return merged, nil
}

func referencesFromFasta(ref fasta.Fasta) ([]*sam.Reference, error) {
	names := ref.SeqNames()
	refs := make([]*sam.Reference, 0, len(names))
	for _, name := range names {
		length, err := ref.Len(name)
		if err != nil {
			return nil, err
		}
		r, err := sam.NewReference(name, "", "", int(length), nil, nil)
		if err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, nil
}
