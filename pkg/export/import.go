package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/rrdimport/pkg/storage"
)

const (
	// MaxRestoreBatchSize is the maximum number of buckets to write at once
	MaxRestoreBatchSize = 5000
)

// Restorer loads JSON exports back into a store
type Restorer struct {
	storage storage.Storage
}

// NewRestorer creates a new restorer
func NewRestorer(store storage.Storage) *Restorer {
	return &Restorer{storage: store}
}

// RestoreResult contains stats about the restore operation
type RestoreResult struct {
	BucketsRestored int       `json:"buckets_restored"`
	BatchesWritten  int       `json:"batches_written"`
	TimeRange       string    `json:"time_range"`
	RestoredAt      time.Time `json:"restored_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// RestoreFromJSON writes the buckets of a JSON export into the store.
// Invalid buckets are reported and skipped.
func (r *Restorer) RestoreFromJSON(ctx context.Context, in io.Reader) (*RestoreResult, error) {
	var doc Document
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if doc.Metadata.Version != "" && doc.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export version %q", doc.Metadata.Version)
	}

	if len(doc.Buckets) == 0 {
		return &RestoreResult{TimeRange: "empty", RestoredAt: time.Now()}, nil
	}

	var validationErrors []string
	valid := make([]storage.Record, 0, len(doc.Buckets))
	for i, rec := range doc.Buckets {
		if err := validateRecord(rec); err != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("bucket %d: %v", i, err))
			continue
		}
		valid = append(valid, rec)
	}

	batchCount := 0
	for i := 0; i < len(valid); i += MaxRestoreBatchSize {
		end := min(i+MaxRestoreBatchSize, len(valid))
		if err := r.storage.Write(ctx, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", batchCount, err)
		}
		batchCount++
	}

	result := &RestoreResult{
		BucketsRestored: len(valid),
		BatchesWritten:  batchCount,
		TimeRange:       "empty",
		RestoredAt:      time.Now(),
		Errors:          validationErrors,
	}
	if len(valid) > 0 {
		lo, hi := valid[0].Bucket.Start, valid[0].Bucket.Start
		for _, rec := range valid {
			lo = min(lo, rec.Bucket.Start)
			hi = max(hi, rec.Bucket.Start)
		}
		result.TimeRange = timeRange(lo, hi)
	}
	return result, nil
}

// validateRecord rejects buckets that could not have come from an import
func validateRecord(r storage.Record) error {
	if r.Counter == "" {
		return fmt.Errorf("counter name cannot be empty")
	}
	if r.Tier == "" {
		return fmt.Errorf("tier cannot be empty")
	}
	if r.Bucket.Width <= 0 {
		return fmt.Errorf("invalid width %d", r.Bucket.Width)
	}
	if r.Bucket.Start%r.Bucket.Width != 0 {
		return fmt.Errorf("start %d not aligned to width %d", r.Bucket.Start, r.Bucket.Width)
	}
	if r.Bucket.Count <= 0 {
		return fmt.Errorf("invalid count %d", r.Bucket.Count)
	}
	if r.Bucket.Min > r.Bucket.Max {
		return fmt.Errorf("min %f greater than max %f", r.Bucket.Min, r.Bucket.Max)
	}
	return nil
}
