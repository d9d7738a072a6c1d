package rrd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// Open returns a reader for an archive dump, decompressing .gz and .zst files
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
		}
		return &wrappedReader{Reader: zr, closers: []io.Closer{zr, f}}, nil

	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return &wrappedReader{Reader: zr, closers: []io.Closer{zstdCloser{zr}, f}}, nil

	default:
		return f, nil
	}
}

// ReadArchives opens, parses and extracts a dump in one call.
// It also returns the document step (0 when the dump has none).
func ReadArchives(path string) ([]resample.Archive, int64, error) {
	r, err := Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	doc, err := Parse(r)
	if err != nil {
		return nil, 0, err
	}

	archives, err := doc.Archives()
	if err != nil {
		return nil, 0, err
	}
	return archives, doc.Step(), nil
}

type wrappedReader struct {
	io.Reader
	closers []io.Closer
}

func (w *wrappedReader) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// zstd.Decoder.Close has no return value
type zstdCloser struct {
	d *zstd.Decoder
}

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}
