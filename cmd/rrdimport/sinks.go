package main

import (
	"fmt"
	"io"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/sink"
	"github.com/nicktill/rrdimport/pkg/storage"
	"github.com/nicktill/rrdimport/pkg/storage/badger"
)

// destination is an opened sink plus whatever has to be closed after the run.
// store is set only for the badger sink.
type destination struct {
	opener sink.Opener
	store  storage.Storage
	close  func() error
}

func noopClose() error { return nil }

// openDestination builds the opener named by cfg.Sink.Kind. Text goes to stdout.
func openDestination(cfg *config.Config, stdout io.Writer) (*destination, error) {
	switch cfg.Sink.Kind {
	case config.SinkText:
		text := sink.NewTextOpener(stdout)
		text.Headers = cfg.Sink.Headers
		return &destination{opener: text, close: noopClose}, nil
	case config.SinkFile:
		return &destination{opener: &sink.FileOpener{Dir: cfg.StoreRoot}, close: noopClose}, nil
	case config.SinkCommand:
		return &destination{
			opener: &sink.CommandOpener{Command: cfg.Sink.Command, RequireExisting: cfg.Sink.RequireExisting},
			close:  noopClose,
		}, nil
	case config.SinkParquet:
		return &destination{
			opener: &sink.ParquetOpener{Dir: cfg.StoreRoot, Compression: cfg.Sink.Compression},
			close:  noopClose,
		}, nil
	case config.SinkBadger:
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		return &destination{
			opener: &sink.StoreOpener{Store: store, BatchSize: cfg.Store.BatchSize},
			store:  store,
			close:  store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sink %q", config.ErrInvalidConfig, cfg.Sink.Kind)
	}
}

// openStore opens the badger bucket store described by cfg.Store
func openStore(cfg *config.Config) (*badger.Storage, error) {
	return badger.New(badger.Config{
		Path:        cfg.Store.Path,
		InMemory:    cfg.Store.InMemory,
		MaxMemoryMB: cfg.Store.MaxMemoryMB,
	})
}
