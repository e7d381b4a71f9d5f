package dedup

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Metrics mirrors the per-library fields Picard's MarkDuplicates reports,
// ported from markduplicates/metrics.go unchanged: this package regroups how
// duplicates are found (ReadEnds plus external sort instead of in-memory
// record pairs), not what gets reported about them.
type Metrics struct {
	UnpairedReads          int
	ReadPairsExamined      int
	SecondarySupplementary int
	UnmappedReads          int
	UnpairedDups           int
	ReadPairDups           int
	ReadPairOpticalDups    int
}

// String returns a tab-separated metrics row, estimating library size via
// the Lander-Waterman equation.
func (m *Metrics) String() string {
	librarySizeStr := "0"
	a := uint64((m.ReadPairsExamined / 2) - (m.ReadPairOpticalDups / 2))
	b := uint64((m.ReadPairsExamined / 2) - (m.ReadPairDups / 2))
	librarySize, err := estimateLibrarySize(a, b)
	if err == nil {
		librarySizeStr = fmt.Sprintf("%v", librarySize)
	} else {
		log.Error.Printf("error in estimateLibrarySize(%v, %v): %v, ", a, b, err)
	}

	return fmt.Sprintf("%d\t%d\t%d\t%d\t%d\t%d\t%d\t%0.6f\t%v", m.UnpairedReads, m.ReadPairsExamined/2,
		m.SecondarySupplementary, m.UnmappedReads, m.UnpairedDups,
		m.ReadPairDups/2, m.ReadPairOpticalDups/2,
		100*(float64(m.UnpairedDups+m.ReadPairDups)/float64(m.UnpairedReads+m.ReadPairsExamined)),
		librarySizeStr)
}

// Add adds the metrics in other to m.
func (m *Metrics) Add(other *Metrics) {
	m.UnpairedReads += other.UnpairedReads
	m.ReadPairsExamined += other.ReadPairsExamined
	m.SecondarySupplementary += other.SecondarySupplementary
	m.UnmappedReads += other.UnmappedReads
	m.UnpairedDups += other.UnpairedDups
	m.ReadPairDups += other.ReadPairDups
	m.ReadPairOpticalDups += other.ReadPairOpticalDups
}

// MetricsCollection accumulates per-library Metrics plus the bag-size-keyed
// optical-distance histogram.
type MetricsCollection struct {
	maxAlignDist int

	// OpticalDistance[bagSizeBucket][distance] is the number of duplicate
	// pairs observed at that Euclidean tile distance, bucketed per
	// markduplicates/metrics.go's 4 bag-size ranges.
	OpticalDistance [][]int64

	LibraryMetrics map[string]*Metrics

	mutex sync.Mutex
}

// NewMetricsCollection creates an empty MetricsCollection.
func NewMetricsCollection() *MetricsCollection {
	mc := &MetricsCollection{
		LibraryMetrics:  make(map[string]*Metrics),
		OpticalDistance: make([][]int64, 4),
	}
	for i := range mc.OpticalDistance {
		mc.OpticalDistance[i] = make([]int64, 60000)
	}
	return mc
}

// Get returns Metrics for the given library, creating it if necessary.
func (mc *MetricsCollection) Get(library string) *Metrics {
	m, found := mc.LibraryMetrics[library]
	if found {
		return m
	}
	m = &Metrics{}
	mc.LibraryMetrics[library] = m
	return m
}

// Merge merges other's per-library and optical-distance metrics into mc.
func (mc *MetricsCollection) Merge(other *MetricsCollection) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for library, otherMetrics := range other.LibraryMetrics {
		existing, found := mc.LibraryMetrics[library]
		if found {
			existing.Add(otherMetrics)
		} else {
			copied := *otherMetrics
			mc.LibraryMetrics[library] = &copied
		}
	}
	for i := range mc.OpticalDistance {
		if len(mc.OpticalDistance[i]) < len(other.OpticalDistance[i]) {
			temp := make([]int64, len(other.OpticalDistance[i]))
			copy(temp, mc.OpticalDistance[i])
			mc.OpticalDistance[i] = temp
		}
		for j := range other.OpticalDistance[i] {
			mc.OpticalDistance[i][j] += other.OpticalDistance[i][j]
		}
	}
}

// AddDistance increments the histogram counter for the given duplicate-group
// bag size and optical distance.
func (mc *MetricsCollection) AddDistance(bagSize, distance int) {
	if distance >= len(mc.OpticalDistance[0]) {
		for i := range mc.OpticalDistance {
			temp := make([]int64, distance+1)
			copy(temp, mc.OpticalDistance[i])
			mc.OpticalDistance[i] = temp
		}
	}

	switch {
	case bagSize <= 2:
		mc.OpticalDistance[0][distance]++
	case bagSize <= 4:
		mc.OpticalDistance[1][distance]++
	case bagSize <= 7:
		mc.OpticalDistance[2][distance]++
	default:
		mc.OpticalDistance[3][distance]++
	}
}

// WriteMetrics writes a Picard-style metrics table to path.
func WriteMetrics(ctx context.Context, path string, globalMetrics *MetricsCollection) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "Couldn't create metrics file:", path)
	}
	defer func() {
		if err2 := f.Close(); err == nil && err2 != nil {
			err = err2
		}
	}()

	s := "# bio-mark-duplicates\n" +
		"# maximum 5' alignment distance: " + fmt.Sprintf("%d", globalMetrics.maxAlignDist) + "\n" +
		"LIBRARY\tUNPAIRED_READS_EXAMINED\tREAD_PAIRS_EXAMINED\t" +
		"SECONDARY_OR_SUPPLEMENTARY_RDS\tUNMAPPED_READS\tUNPAIRED_READ_DUPLICATES\t" +
		"READ_PAIR_DUPLICATES\tREAD_PAIR_OPTICAL_DUPLICATES\tPERCENT_DUPLICATION\t" +
		"ESTIMATED_LIBRARY_SIZE\n"

	for library, metrics := range globalMetrics.LibraryMetrics {
		s += library + "\t" + metrics.String() + "\n"
	}
	if _, err = f.Write([]byte(s)); err != nil {
		return errors.E(err, "error writing to metrics file:", path)
	}
	return nil
}

// WriteOpticalHistogram writes the run-length-style bag-size/distance/count
// histogram spec.md's metrics writer produces.
func WriteOpticalHistogram(ctx context.Context, path string, globalMetrics *MetricsCollection) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.E(err, "Couldn't create optical histogram file:", path)
	}
	defer func() {
		if err2 := f.Close(); err == nil && err2 != nil {
			err = err2
		}
	}()

	if _, err = fmt.Fprintf(f, "#bag_size_range\toptical_dist\tcount\n"); err != nil {
		return errors.E(err, "error writing to optical histogram file:", path)
	}
	for i, prefix := range []string{"bagsize-2", "bagsize3-4", "bagsize5-7", "bagsize8-"} {
		for dist, count := range globalMetrics.OpticalDistance[i] {
			if count == 0 {
				continue
			}
			if _, err = fmt.Fprintf(f, "%s\t%d\t%d\n", prefix, dist, count); err != nil {
				return errors.E(err, "error writing to optical histogram file:", path)
			}
		}
	}
	return nil
}
