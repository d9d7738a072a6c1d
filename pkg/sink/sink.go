// Package sink delivers finalized buckets to their destination.
//
// An Opener opens one Stream per (counter, tier). The importer writes the
// stream's buckets in ascending start order and then closes it.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// ErrStreamMissing is returned by Open when the destination stream does not
// exist and the opener is configured to require it. The importer skips the tier.
var ErrStreamMissing = errors.New("destination stream does not exist")

// Target names one destination stream
type Target struct {
	Counter string
	Tier    string
	Kind    resample.Kind

	// Path is the destination stream path under the store root
	Path string
}

// Stream accepts one series' buckets in ascending order
type Stream interface {
	Write(ctx context.Context, b resample.Bucket) error
	Close() error
}

// Opener opens destination streams. Implementations must be safe for concurrent use.
type Opener interface {
	Open(ctx context.Context, t Target) (Stream, error)
}

// FormatBucket renders a bucket as one istatd import line:
// "start sum sumsq min max count\n"
func FormatBucket(b resample.Bucket) string {
	return fmt.Sprintf("%d %f %f %f %f %d\n", b.Start, b.Sum, b.SumSquares, b.Min, b.Max, b.Count)
}
