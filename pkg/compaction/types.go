package compaction

import (
	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/storage"
)

// Merge folds b into a
func Merge(a, b resample.Aggregate) resample.Aggregate {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	return resample.Aggregate{
		Sum:        a.Sum + b.Sum,
		SumSquares: a.SumSquares + b.SumSquares,
		Min:        min(a.Min, b.Min),
		Max:        max(a.Max, b.Max),
		Count:      a.Count + b.Count,
	}
}

// bucketKey identifies one coarse bucket of one counter
type bucketKey struct {
	counter string
	start   int64
}

// TierResult reports one fine to coarse pass
type TierResult struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Cutoff        int64  `json:"cutoff"`
	Read          int    `json:"read"`
	Written       int    `json:"written"`
	SkippedExists int    `json:"skipped_existing"`
}

// Result summarizes a CompactAndCleanup run
type Result struct {
	Tiers []TierResult `json:"tiers"`
}

// Written returns the number of coarse buckets written over all passes
func (r *Result) Written() int {
	n := 0
	for _, t := range r.Tiers {
		n += t.Written
	}
	return n
}

func recordsOf(tier string, width int64, aggs map[bucketKey]resample.Aggregate) []storage.Record {
	out := make([]storage.Record, 0, len(aggs))
	for k, agg := range aggs {
		out = append(out, storage.Record{
			Counter: k.counter,
			Tier:    tier,
			Bucket:  resample.Bucket{Start: k.start, Width: width, Aggregate: agg},
		})
	}
	return out
}
