package sink

import (
	"context"

	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/storage"
)

// StoreOpener writes buckets as storage records, batched per stream
type StoreOpener struct {
	Store     storage.Storage
	BatchSize int
}

// Open starts a batching stream
func (o *StoreOpener) Open(ctx context.Context, t Target) (Stream, error) {
	size := o.BatchSize
	if size <= 0 {
		size = 1000
	}
	return &storeStream{store: o.Store, target: t, batch: make([]storage.Record, 0, size), size: size, ctx: ctx}, nil
}

type storeStream struct {
	store  storage.Storage
	target Target
	batch  []storage.Record
	size   int

	// ctx is the context the stream was opened with, used by Close to flush
	ctx context.Context
}

func (s *storeStream) Write(ctx context.Context, b resample.Bucket) error {
	s.batch = append(s.batch, storage.Record{Counter: s.target.Counter, Tier: s.target.Tier, Bucket: b})
	if len(s.batch) >= s.size {
		return s.flush(ctx)
	}
	return nil
}

func (s *storeStream) flush(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	err := s.store.Write(ctx, s.batch)
	s.batch = s.batch[:0]
	return err
}

func (s *storeStream) Close() error {
	return s.flush(s.ctx)
}
