package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/storage"
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(badgerLogger{logrus.WithField("component", "badger")})

	if cfg.InMemory {
		// badger refuses a directory in memory mode
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	// 16 MB memtable is the floor; below it badger flushes constantly
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// Block and index caches are unbounded by default
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2). // badger refuses fewer than 2
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // default is 2 GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Write stores records in BadgerDB.
// Records sharing counter, tier and start overwrite each other.
func (s *Storage) Write(ctx context.Context, records []storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		wb := s.db.NewWriteBatch()
		fail := func(err error) {
			wb.Cancel()
			done <- err
		}

		for i, r := range records {
			if i%100 == 0 {
				select {
				case <-ctx.Done():
					fail(ctx.Err())
					return
				default:
				}
			}

			value, err := json.Marshal(r)
			if err != nil {
				fail(fmt.Errorf("failed to encode record: %w", err))
				return
			}
			if err := wb.Set(makeKey(r.Counter, r.Tier, r.Bucket.Start), value); err != nil {
				fail(fmt.Errorf("failed to write record: %w", err))
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves records matching the request.
// With a tier and explicit counters each stream is read by prefix; otherwise the whole store is scanned.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		records []storage.Record
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		startTime := time.Now()
		var res queryResult
		var iterCount int

		collect := func(it *badger.Iterator, prefix []byte, seek []byte) error {
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				var r storage.Record
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &r)
				}); err != nil {
					return fmt.Errorf("failed to decode record: %w", err)
				}

				if len(prefix) > 0 && req.End > 0 && r.Bucket.Start > req.End {
					return nil // keys are ordered by start within a stream
				}
				if req.Matches(r) {
					res.records = append(res.records, r)
				}
			}
			return nil
		}

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			if req.Tier != "" && len(req.Counters) > 0 {
				for _, c := range req.Counters {
					prefix := seriesPrefix(c, req.Tier)
					if err := collect(it, prefix, makeKey(c, req.Tier, req.Start)); err != nil {
						return err
					}
				}
				return nil
			}
			return collect(it, nil, nil)
		})

		if elapsed := time.Since(startTime); elapsed > 5*time.Second {
			logrus.WithFields(logrus.Fields{
				"elapsed":    elapsed,
				"iterations": iterCount,
				"results":    len(res.records),
			}).Warn("slow bucket query")
		}

		if res.err == nil {
			sortRecords(res.records)
			if req.Limit > 0 && len(res.records) > req.Limit {
				res.records = res.records[:req.Limit]
			}
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.records, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes records matching the deletion criteria
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var keysToDelete [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			// Need values when filtering by counter or tier without a prefix
			needValues := opts.Counter == "" || opts.Tier == ""
			iterOpts.PrefetchValues = needValues

			var prefix []byte
			if !needValues {
				prefix = seriesPrefix(opts.Counter, opts.Tier)
				iterOpts.Prefix = prefix
			}

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var iterCount int
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				_, start := parseKey(item.Key())
				if start >= opts.Before {
					if !needValues {
						break // rest of the stream is newer
					}
					continue
				}

				if needValues {
					var r storage.Record
					if err := item.Value(func(val []byte) error {
						return json.Unmarshal(val, &r)
					}); err != nil {
						return fmt.Errorf("failed to decode record: %w", err)
					}
					if !opts.Matches(r) {
						continue
					}
				}

				keysToDelete = append(keysToDelete, item.KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			done <- err
			return
		}

		wb := s.db.NewWriteBatch()
		for _, key := range keysToDelete {
			if err := wb.Delete(key); err != nil {
				wb.Cancel()
				done <- err
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// ErrNoRewrite is returned by RunGC when no value log file was worth rewriting
var ErrNoRewrite = badger.ErrNoRewrite

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of a file can be discarded (0.5 = 50%)
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		var res statsResult
		stats := &storage.Stats{}

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			series := make(map[uint64]bool)
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				hash, start := parseKey(it.Item().Key())
				series[hash] = true

				if stats.TotalBuckets == 0 || start < stats.OldestBucket {
					stats.OldestBucket = start
				}
				if stats.TotalBuckets == 0 || start > stats.NewestBucket {
					stats.NewestBucket = start
				}
				stats.TotalBuckets++
			}

			stats.TotalSeries = uint64(len(series))
			return nil
		})

		if res.err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}

		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a sortable key: series_hash + bucket start
// Format: [xxhash(counter|tier) (8 bytes)][start (8 bytes)]
func makeKey(counter, tier string, start int64) []byte {
	key := make([]byte, 16)
	copy(key, seriesPrefix(counter, tier))
	binary.BigEndian.PutUint64(key[8:16], uint64(start))
	return key
}

func seriesPrefix(counter, tier string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(storage.SeriesKey(counter, tier)))
	return prefix
}

// parseKey extracts the series hash and bucket start from a storage key
func parseKey(key []byte) (uint64, int64) {
	return binary.BigEndian.Uint64(key[0:8]), int64(binary.BigEndian.Uint64(key[8:16]))
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

// badgerLogger routes badger's internal logging through logrus
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.entry.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.entry.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.entry.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.entry.Debugf(f, v...) }
