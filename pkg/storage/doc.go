/*
Package storage provides the bucket store used by the badger sink, the
exporter and the HTTP API.

A Record is one finalized bucket of one counter at one tier. Records are
keyed by (counter, tier, bucket start); writing the same key again replaces
the stored bucket, so re-running an import over the same window is safe.

Backends:
  - memory: in-memory storage for tests
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	records, err := store.Query(ctx, storage.QueryRequest{
	    Counters: []string{"web.frontend.requests"},
	    Tier:     "5m",
	    Start:    1298966400,
	})

Query results are ordered by counter, tier and bucket start.
*/
package storage
