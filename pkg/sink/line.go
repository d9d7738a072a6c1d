package sink

import (
	"context"
	"fmt"
	"io"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// LineOpener writes the istatd line protocol: "name timestamp value", with
// counters prefixed by '*'. The value is the bucket average.
type LineOpener struct {
	out *sharedWriter
}

// NewLineOpener creates a line protocol opener over w
func NewLineOpener(w io.Writer) *LineOpener {
	return &LineOpener{out: newSharedWriter(w)}
}

// Open waits for the writer and starts the stream
func (o *LineOpener) Open(ctx context.Context, t Target) (Stream, error) {
	prefix := ""
	if t.Kind == resample.Counter {
		prefix = "*"
	}
	format := func(b resample.Bucket) string {
		return fmt.Sprintf("%s%-15s %10d %15.5f\n", prefix, t.Counter, b.Start, b.Average())
	}
	s, err := openExclusive(ctx, o.out, format)
	if err != nil {
		return nil, err
	}
	return s, nil
}
