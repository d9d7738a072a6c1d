package resample

import "fmt"

const (
	// DefaultBaseGranularity is the width in seconds of the finest output bucket
	DefaultBaseGranularity = 10

	// DefaultSourceStep is the base step in seconds of the source archives
	DefaultSourceStep = 300
)

// Normalizer applies the kind-specific value and count rules.
// Gauges pass through untouched.
type Normalizer struct {
	Kind Kind

	// BaseGranularity is the number of seconds one output sub-period covers
	BaseGranularity int64

	// SourceStep is the number of seconds one source base period covers
	SourceStep int64
}

// NewNormalizer returns a normalizer with default granularity and step
func NewNormalizer(kind Kind) Normalizer {
	return Normalizer{
		Kind:            kind,
		BaseGranularity: DefaultBaseGranularity,
		SourceStep:      DefaultSourceStep,
	}
}

// Validate rejects non-positive granularity or step
func (n Normalizer) Validate() error {
	if n.BaseGranularity <= 0 {
		return fmt.Errorf("base granularity must be positive, got %d", n.BaseGranularity)
	}
	if n.SourceStep <= 0 {
		return fmt.Errorf("source step must be positive, got %d", n.SourceStep)
	}
	return nil
}

// SourceMultiplier converts a stored per-second rate into a per-period total.
func (n Normalizer) SourceMultiplier() float64 {
	if n.Kind == Counter {
		return float64(n.SourceStep)
	}
	return 1
}

// SplitValue returns the share of a per-period value that lands in one
// leaf bucket of the given width.
func (n Normalizer) SplitValue(v float64, width int64) float64 {
	if n.Kind == Counter {
		return v * float64(width) / float64(n.SourceStep)
	}
	return v
}

// BucketCount returns the count to report for a bucket of the given width
// into which folded source values were accumulated.
// Counters always represent the whole bucket.
func (n Normalizer) BucketCount(width, folded int64) int64 {
	if n.Kind == Counter {
		return width / n.BaseGranularity
	}
	return folded
}

// Finalize closes an accumulator for a bucket of the given width
func (n Normalizer) Finalize(acc *Accumulator, width int64) Aggregate {
	return acc.Finalize(n.BucketCount(width, acc.Count()))
}
