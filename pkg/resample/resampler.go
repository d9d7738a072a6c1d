package resample

import (
	"context"
	"fmt"
	"iter"
)

// Strategy names accepted by NewStrategy
const (
	StrategyRollup = "rollup"
	StrategySplit  = "split"
)

// Strategy turns a reconciled series into buckets on a target axis.
// Every call to Buckets starts a fresh pass over the series.
type Strategy interface {
	Name() string
	Buckets(s *Series, w Window) iter.Seq[Bucket]
}

// NewStrategy returns the named strategy bound to a normalizer
func NewStrategy(name string, norm Normalizer) (Strategy, error) {
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	switch name {
	case StrategyRollup, "":
		return Rollup{Norm: norm}, nil
	case StrategySplit:
		return Split{Norm: norm}, nil
	default:
		return nil, fmt.Errorf("unknown strategy: %q", name)
	}
}

// BucketWriter receives finalized buckets in ascending start order
type BucketWriter interface {
	Write(ctx context.Context, b Bucket) error
}

// Resample drains a strategy into out and returns how many buckets were written.
// Running out of data is not an error: it just yields fewer (or zero) buckets.
func Resample(ctx context.Context, s *Series, st Strategy, w Window, out BucketWriter) (int, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}

	written := 0
	for b := range st.Buckets(s, w) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := out.Write(ctx, b); err != nil {
			return written, fmt.Errorf("failed to write bucket at %d: %w", b.Start, err)
		}
		written++
	}
	return written, nil
}

// firstBucket moves a nominal start that precedes all data forward to the
// bucket containing the first sample, so no empty leading buckets exist.
func firstBucket(first int64, w Window) int64 {
	if w.Start < first {
		return first - first%w.Width
	}
	return w.Start
}

// Rollup folds every sample that falls inside a bucket into that bucket.
// With equal source and target resolution it is a pass-through.
type Rollup struct {
	Norm Normalizer
}

// Name implements Strategy
func (Rollup) Name() string { return StrategyRollup }

// Buckets walks the sorted timestamps and the bucket axis in lockstep.
//
// A bucket is seeded with the first sample at or after its start and then
// absorbs the following samples while they are still before its end.
// Emission stops at end of window or when the series runs out.
func (r Rollup) Buckets(s *Series, w Window) iter.Seq[Bucket] {
	return func(yield func(Bucket) bool) {
		ts := s.Timestamps()
		if len(ts) == 0 || w.Width <= 0 {
			return
		}

		idx := 0
		for start := firstBucket(ts[0], w); start+w.Width <= w.End; start += w.Width {
			for ts[idx] < start {
				idx++
				if idx == len(ts) {
					return
				}
			}

			end := start + w.Width
			acc := NewAccumulator(s.points[ts[idx]].Value)
			for idx+1 < len(ts) && ts[idx+1] < end {
				idx++
				acc.Add(s.points[ts[idx]].Value)
			}

			b := Bucket{
				Start:     start,
				Width:     w.Width,
				Aggregate: r.Norm.Finalize(acc, w.Width),
			}
			if !yield(b) {
				return
			}
		}
	}
}

// Split expands every sample across the fine buckets its span covers.
//
// A sample at level L covers [ts, ts+L*SourceStep), cut short by the next
// sample. Each covered bucket gets the sample's value, rate-divided for
// counters. Meant for targets finer than the source.
type Split struct {
	Norm Normalizer
}

// Name implements Strategy
func (Split) Name() string { return StrategySplit }

// Buckets implements Strategy
func (sp Split) Buckets(s *Series, w Window) iter.Seq[Bucket] {
	return func(yield func(Bucket) bool) {
		ts := s.Timestamps()
		if len(ts) == 0 || w.Width <= 0 {
			return
		}

		origin := firstBucket(ts[0], w)
		next := origin

		for i, t := range ts {
			p := s.points[t]
			level := int64(p.Level)
			if level < 1 {
				level = 1
			}

			spanEnd := t + level*sp.Norm.SourceStep
			if i+1 < len(ts) && ts[i+1] < spanEnd {
				spanEnd = ts[i+1]
			}

			leaf := origin
			if t > origin {
				leaf = origin + (t-origin)/w.Width*w.Width
			}
			if leaf < next {
				leaf = next
			}

			value := sp.Norm.SplitValue(p.Value, w.Width)
			for ; leaf < spanEnd; leaf += w.Width {
				if leaf+w.Width > w.End {
					return
				}
				b := Bucket{
					Start:     leaf,
					Width:     w.Width,
					Aggregate: sp.Norm.Finalize(NewAccumulator(value), w.Width),
				}
				if !yield(b) {
					return
				}
				next = leaf + w.Width
			}
		}
	}
}
