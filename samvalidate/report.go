package samvalidate

import (
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/errors"
)

// WriteReport writes the finding-type histogram followed by the (possibly
// truncated) verbose log to path, in the tab-separated style
// dedup.WriteMetrics/WriteOpticalHistogram already use for this tree's other
// summary outputs.
func (v *Validator) WriteReport(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "samvalidate: couldn't create report file:", path)
	}
	defer func() {
		if err2 := f.Close(); err == nil && err2 != nil {
			err = err2
		}
	}()
	return v.writeReportTo(f)
}

func (v *Validator) writeReportTo(w io.Writer) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := fmt.Fprintf(w, "#FINDING_TYPE\tCOUNT\n"); err != nil {
		return errors.E(err, "samvalidate: writing histogram header")
	}
	for t := Type(0); t <= E2U2LengthMismatch; t++ {
		if n, ok := v.Histogram[t]; ok && n > 0 {
			if _, err := fmt.Fprintf(w, "%s\t%d\n", t, n); err != nil {
				return errors.E(err, "samvalidate: writing histogram row")
			}
		}
	}

	if len(v.Verbose) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "#SEVERITY\tFINDING_TYPE\tRECORD\tMESSAGE\n"); err != nil {
		return errors.E(err, "samvalidate: writing verbose header")
	}
	for _, f := range v.Verbose {
		if _, err := fmt.Fprintf(w, "%s\n", f); err != nil {
			return errors.E(err, "samvalidate: writing verbose row")
		}
	}
	return nil
}
