package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// BucketRow is one bucket in Parquet format
type BucketRow struct {
	Counter    string  `parquet:"counter,dict"`
	Tier       string  `parquet:"tier,dict"`
	Start      int64   `parquet:"start"`
	Width      int64   `parquet:"width"`
	Sum        float64 `parquet:"sum"`
	SumSquares float64 `parquet:"sum_squares"`
	Min        float64 `parquet:"min"`
	Max        float64 `parquet:"max"`
	Count      int64   `parquet:"count"`
}

// ParquetOpener writes one Parquet file per stream: Dir/<counter>/<tier>.parquet
type ParquetOpener struct {
	Dir string

	// Compression is snappy, zstd, gzip or none
	Compression string
}

func codec(name string) compress.Codec {
	switch name {
	case "snappy":
		return &parquet.Snappy
	case "gzip":
		return &parquet.Gzip
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// Open creates the stream's Parquet file
func (o *ParquetOpener) Open(ctx context.Context, t Target) (Stream, error) {
	path := filepath.Join(o.Dir, strings.ReplaceAll(t.Counter, "/", "_"), t.Tier+".parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	w := parquet.NewGenericWriter[BucketRow](f, parquet.Compression(codec(o.Compression)))
	return &parquetStream{file: f, writer: w, target: t}, nil
}

type parquetStream struct {
	file   *os.File
	writer *parquet.GenericWriter[BucketRow]
	target Target
	rows   []BucketRow
}

func (s *parquetStream) Write(ctx context.Context, b resample.Bucket) error {
	s.rows = append(s.rows, BucketRow{
		Counter:    s.target.Counter,
		Tier:       s.target.Tier,
		Start:      b.Start,
		Width:      b.Width,
		Sum:        b.Sum,
		SumSquares: b.SumSquares,
		Min:        b.Min,
		Max:        b.Max,
		Count:      b.Count,
	})
	if len(s.rows) >= 4096 {
		return s.flush()
	}
	return nil
}

func (s *parquetStream) flush() error {
	if len(s.rows) == 0 {
		return nil
	}
	if _, err := s.writer.Write(s.rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	s.rows = s.rows[:0]
	return nil
}

func (s *parquetStream) Close() error {
	if err := s.flush(); err != nil {
		s.writer.Close()
		s.file.Close()
		return err
	}
	if err := s.writer.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return s.file.Close()
}
