package resample

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind is the semantic type of a metric, fixed for a whole series
type Kind int

const (
	Gauge   Kind = iota // Instantaneous value at sample time
	Counter             // Monotonic total, stored as a rate in the source
)

// String returns the lowercase name of the kind
func (k Kind) String() string {
	switch k {
	case Gauge:
		return "gauge"
	case Counter:
		return "counter"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses "gauge" or "counter"
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gauge":
		return Gauge, nil
	case "counter":
		return Counter, nil
	default:
		return Gauge, fmt.Errorf("unknown kind: %q", s)
	}
}

// RawSample is a single archive entry as produced by the extractor
type RawSample struct {
	Timestamp int64   // Unix seconds
	Value     float64 // Consolidated (average) value
	Level     int     // Base periods folded into this entry
}

// Archive is one round-robin archive: a fixed aggregation level and its samples
type Archive struct {
	Level   int
	Samples []RawSample
}

// Point is the reconciled value stored for a single timestamp
type Point struct {
	Value float64
	Level int
}

// Series maps timestamps to reconciled points.
// It is read-only once Reconcile returns it.
type Series struct {
	points map[int64]Point

	once       sync.Once
	timestamps []int64
}

// NewSeries creates an empty series
func NewSeries() *Series {
	return &Series{points: make(map[int64]Point)}
}

// Len returns the number of distinct timestamps
func (s *Series) Len() int {
	return len(s.points)
}

// At returns the point stored at ts
func (s *Series) At(ts int64) (Point, bool) {
	p, ok := s.points[ts]
	return p, ok
}

// Timestamps returns all timestamps in ascending order.
// The slice is computed once and shared; callers must not modify it.
func (s *Series) Timestamps() []int64 {
	s.once.Do(func() {
		ts := make([]int64, 0, len(s.points))
		for t := range s.points {
			ts = append(ts, t)
		}
		sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
		s.timestamps = ts
	})
	return s.timestamps
}

// Window is a target bucket axis: buckets of Width seconds from Start,
// emitted while bucketStart+Width <= End
type Window struct {
	Width int64
	Start int64
	End   int64
}

// Validate checks that the window can produce buckets at all
func (w Window) Validate() error {
	if w.Width <= 0 {
		return fmt.Errorf("window width must be positive, got %d", w.Width)
	}
	return nil
}

// Aggregate holds the statistics of one finalized bucket
type Aggregate struct {
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"sum_squares"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Count      int64   `json:"count"`
}

// Average returns Sum/Count, or 0 for an empty aggregate
func (a Aggregate) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Bucket is a fixed-width output window with its aggregate
type Bucket struct {
	Start int64 `json:"start"`
	Width int64 `json:"width"`
	Aggregate
}

// End returns the exclusive end of the bucket
func (b Bucket) End() int64 {
	return b.Start + b.Width
}
