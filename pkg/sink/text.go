package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// sharedWriter hands one writer to one stream at a time
type sharedWriter struct {
	sem chan struct{}
	w   io.Writer
}

func newSharedWriter(w io.Writer) *sharedWriter {
	return &sharedWriter{sem: make(chan struct{}, 1), w: w}
}

// acquire blocks until no other stream holds the writer
func (s *sharedWriter) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sharedWriter) release() {
	<-s.sem
}

// exclusiveStream owns the shared writer from Open to Close, so concurrent
// streams never interleave while buckets still flow out as they are written.
type exclusiveStream struct {
	out    *sharedWriter
	bw     *bufio.Writer
	format func(resample.Bucket) string
	closed bool
}

func openExclusive(ctx context.Context, out *sharedWriter, format func(resample.Bucket) string) (*exclusiveStream, error) {
	if err := out.acquire(ctx); err != nil {
		return nil, err
	}
	return &exclusiveStream{out: out, bw: bufio.NewWriter(out.w), format: format}, nil
}

func (s *exclusiveStream) Write(ctx context.Context, b resample.Bucket) error {
	_, err := s.bw.WriteString(s.format(b))
	return err
}

func (s *exclusiveStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.bw.Flush()
	s.out.release()
	return err
}

// TextOpener writes import lines for every stream to one shared writer
type TextOpener struct {
	out *sharedWriter

	// Headers precedes each stream with a "# path" line. istatd_import
	// rejects those, so leave it off when piping into it.
	Headers bool
}

// NewTextOpener creates a text opener over w (usually stdout)
func NewTextOpener(w io.Writer) *TextOpener {
	return &TextOpener{out: newSharedWriter(w)}
}

// Open waits for the writer and starts the stream
func (o *TextOpener) Open(ctx context.Context, t Target) (Stream, error) {
	s, err := openExclusive(ctx, o.out, FormatBucket)
	if err != nil {
		return nil, err
	}
	if o.Headers {
		fmt.Fprintf(s.bw, "# %s\n", t.Path)
	} else {
		logrus.WithFields(logrus.Fields{"counter": t.Counter, "tier": t.Tier, "stream": t.Path}).Debug("writing stream")
	}
	return s, nil
}

// FileOpener writes import lines to Dir/<counter path>/<tier>.txt, one file per stream
type FileOpener struct {
	Dir string
}

// Open creates (or truncates) the stream's file
func (o *FileOpener) Open(ctx context.Context, t Target) (Stream, error) {
	path := filepath.Join(append(append([]string{o.Dir}, strings.Split(t.Counter, ".")...), t.Tier+".txt")...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream file: %w", err)
	}
	return &fileStream{f: f, bw: bufio.NewWriter(f)}, nil
}

type fileStream struct {
	f  *os.File
	bw *bufio.Writer
}

func (s *fileStream) Write(ctx context.Context, b resample.Bucket) error {
	_, err := s.bw.WriteString(FormatBucket(b))
	return err
}

func (s *fileStream) Close() error {
	if err := s.bw.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
