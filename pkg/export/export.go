package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/rrdimport/pkg/storage"
)

// FormatVersion is written into JSON exports and checked on restore
const FormatVersion = "1.0"

// Exporter handles exporting stored buckets to various formats
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Bucket start range, unix seconds (End 0 = no upper bound)
	Start int64
	End   int64

	// Filter by counter names (nil = all counters)
	Counters []string

	// Filter by tier (empty = all tiers)
	Tier string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	BucketsExported int       `json:"buckets_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata heads a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	BucketCount int       `json:"bucket_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Document is the JSON export layout
type Document struct {
	Metadata Metadata         `json:"metadata"`
	Buckets  []storage.Record `json:"buckets"`
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]storage.Record, error) {
	records, err := e.storage.Query(ctx, storage.QueryRequest{
		Start:    opts.Start,
		End:      opts.End,
		Counters: opts.Counters,
		Tier:     opts.Tier,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	return records, nil
}

// ExportToJSON exports buckets as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:  time.Now(),
			Start:       opts.Start,
			End:         opts.End,
			BucketCount: len(records),
			Format:      "json",
			Version:     FormatVersion,
		},
		Buckets: records,
	}
	if doc.Buckets == nil {
		doc.Buckets = []storage.Record{}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		BucketsExported: len(records),
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "json",
		ExportedAt:      doc.Metadata.ExportedAt,
	}, nil
}

// csvHeader is the column layout of CSV exports
var csvHeader = []string{"counter", "tier", "start", "width", "sum", "sum_squares", "min", "max", "count", "average"}

// ExportToCSV exports buckets as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range records {
		b := r.Bucket
		row := []string{
			r.Counter,
			r.Tier,
			strconv.FormatInt(b.Start, 10),
			strconv.FormatInt(b.Width, 10),
			formatFloat(b.Sum),
			formatFloat(b.SumSquares),
			formatFloat(b.Min),
			formatFloat(b.Max),
			strconv.FormatInt(b.Count, 10),
			formatFloat(b.Average()),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		BucketsExported: len(records),
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "csv",
		ExportedAt:      time.Now(),
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func timeRange(start, end int64) string {
	to := "now"
	if end > 0 {
		to = time.Unix(end, 0).UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s to %s", time.Unix(start, 0).UTC().Format(time.RFC3339), to)
}
