package hitsagg

import "fmt"

// NotSortedError is the signal spec.md calls "input not query-name sorted":
// a record whose name sorts before its predecessor's. It is a distinct
// type (not a fault.Fatal) because the alignment-merge pipeline catches it
// and retries after an external sort, rather than treating it as
// unrecoverable.
type NotSortedError struct {
	Name, Prev string
}

func (e *NotSortedError) Error() string {
	return fmt.Sprintf("hitsagg: input not query-name sorted: %q arrived after %q", e.Name, e.Prev)
}
