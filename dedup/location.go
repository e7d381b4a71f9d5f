package dedup

import (
	"regexp"
	"strconv"
)

// DefaultLocationPattern matches standard Illumina read names (5, 7, or 8
// colon-separated fields; the last 3 or 4 fields are tile, x, y, and
// optionally a UMI), capturing tile/x/y in that order. It replaces
// markduplicates/optical.go's ParseLocation, which parsed the same names
// positionally by field count; a regex with capture groups lets
// callers supply their own pattern for read-name conventions that aren't
// Illumina's, without bamkit needing to special-case each one.
const DefaultLocationPattern = `[a-zA-Z0-9]+:[0-9]:([0-9]+):([0-9]+):([0-9]+).*`

// LocationParser extracts a read's flowcell tile/x/y from its name using a
// regex with exactly 3 capture groups, in (tile, x, y) order.
type LocationParser struct {
	re *regexp.Regexp
}

// NewLocationParser compiles pattern into a LocationParser. pattern must
// have exactly 3 capture groups; an empty pattern uses DefaultLocationPattern.
func NewLocationParser(pattern string) (*LocationParser, error) {
	if pattern == "" {
		pattern = DefaultLocationPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() != 3 {
		return nil, errLocationPatternShape
	}
	return &LocationParser{re: re}, nil
}

var errLocationPatternShape = locationPatternError{}

type locationPatternError struct{}

func (locationPatternError) Error() string {
	return "dedup: location pattern must have exactly 3 capture groups (tile, x, y)"
}

// Parse extracts tile, x, and y from name. ok is false if name doesn't match
// the configured pattern (a non-Illumina or malformed read name); the
// caller should skip optical-duplicate accounting for that record rather
// than fail the run, per markduplicates' existing tolerance of malformed
// names.
func (p *LocationParser) Parse(name string) (tile, x, y int32, ok bool) {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, 0, false
	}
	t, ok1 := parseInt32(m[1])
	xx, ok2 := parseInt32(m[2])
	yy, ok3 := parseInt32(m[3])
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, false
	}
	return t, xx, yy, true
}

func parseInt32(s string) (int32, bool) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}
