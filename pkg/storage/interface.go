package storage

import (
	"context"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// Record is one finalized bucket of one counter at one tier
type Record struct {
	Counter string          `json:"counter"`
	Tier    string          `json:"tier"`
	Bucket  resample.Bucket `json:"bucket"`
}

// SeriesKey identifies the stream a record belongs to
func (r Record) SeriesKey() string {
	return SeriesKey(r.Counter, r.Tier)
}

// SeriesKey joins a counter name and tier into a stream identifier
func SeriesKey(counter, tier string) string {
	return counter + "|" + tier
}

// Storage defines the interface for bucket storage backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Write stores records. A record with the same counter, tier and start replaces the old one.
	Write(ctx context.Context, records []Record) error

	// Query retrieves records ordered by counter, tier and start
	Query(ctx context.Context, req QueryRequest) ([]Record, error)

	// Delete removes records matching the options
	Delete(ctx context.Context, opts DeleteOptions) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// QueryRequest specifies what buckets to retrieve
type QueryRequest struct {
	// Bucket start range in unix seconds, inclusive. End 0 means no upper bound.
	Start int64
	End   int64

	// Filter by counter name (optional)
	Counters []string

	// Filter by tier (optional)
	Tier string

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether r passes the request filters
func (q QueryRequest) Matches(r Record) bool {
	if r.Bucket.Start < q.Start {
		return false
	}
	if q.End > 0 && r.Bucket.Start > q.End {
		return false
	}
	if q.Tier != "" && r.Tier != q.Tier {
		return false
	}
	if len(q.Counters) > 0 {
		found := false
		for _, c := range q.Counters {
			if r.Counter == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DeleteOptions selects records to remove
type DeleteOptions struct {
	// Before removes buckets starting before this unix second
	Before int64

	// Tier limits deletion to one tier (empty = all tiers)
	Tier string

	// Counter limits deletion to one counter (empty = all counters)
	Counter string
}

// Matches reports whether r should be deleted
func (o DeleteOptions) Matches(r Record) bool {
	if r.Bucket.Start >= o.Before {
		return false
	}
	if o.Tier != "" && r.Tier != o.Tier {
		return false
	}
	if o.Counter != "" && r.Counter != o.Counter {
		return false
	}
	return true
}

// Stats provides storage health and usage info
type Stats struct {
	// Total buckets stored
	TotalBuckets uint64 `json:"total_buckets"`

	// Unique (counter, tier) streams
	TotalSeries uint64 `json:"total_series"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest and newest bucket start, unix seconds
	OldestBucket int64 `json:"oldest_bucket"`
	NewestBucket int64 `json:"newest_bucket"`
}
