package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/rrdimport/pkg/storage"
)

type recordKey struct {
	series string
	start  int64
}

// Storage stores bucket records in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	records map[recordKey]storage.Record
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		records: make(map[recordKey]storage.Record),
	}
}

// Write stores records, replacing any with the same counter, tier and start
func (s *Storage) Write(ctx context.Context, records []storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.records[recordKey{r.SeriesKey(), r.Bucket.Start}] = r
	}
	return nil
}

// Query retrieves records matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var results []storage.Record
	for _, r := range s.records {
		if req.Matches(r) {
			results = append(results, r)
		}
	}
	s.mu.RUnlock()

	sortRecords(results)

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Delete removes records matching the options
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, r := range s.records {
		if opts.Matches(r) {
			delete(s.records, k)
		}
	}
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalBuckets: uint64(len(s.records)),
	}
	if len(s.records) == 0 {
		return stats, nil
	}

	series := make(map[string]bool)
	first := true
	for k := range s.records {
		series[k.series] = true
		if first || k.start < stats.OldestBucket {
			stats.OldestBucket = k.start
		}
		if first || k.start > stats.NewestBucket {
			stats.NewestBucket = k.start
		}
		first = false
	}

	stats.TotalSeries = uint64(len(series))

	// Rough size estimate (each record ~100 bytes)
	stats.SizeBytes = uint64(len(s.records)) * 100

	return stats, nil
}

func sortRecords(rs []storage.Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Counter != rs[j].Counter {
			return rs[i].Counter < rs[j].Counter
		}
		if rs[i].Tier != rs[j].Tier {
			return rs[i].Tier < rs[j].Tier
		}
		return rs[i].Bucket.Start < rs[j].Bucket.Start
	})
}
