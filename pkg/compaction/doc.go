/*
Package compaction re-rolls stored buckets from a finer tier into a coarser one
and enforces tier retention in the bucket store.

# Why

An import writes every tier straight from the archive. Once a store has been
filled, the finest tiers age out first: 10 second buckets are kept for days,
5 minute buckets for about a year and hourly buckets for years. Compaction
folds the buckets that fall out of a tier's retention into the next coarser
tier before deleting them, so nothing is lost that the coarser tier does not
already hold.

# Merging

Buckets carry sum, sum of squares, count, min and max, so two buckets merge
without loss:

	sum   = a.sum + b.sum
	sumsq = a.sumsq + b.sumsq
	count = a.count + b.count
	min   = min(a.min, b.min)
	max   = max(a.max, b.max)

A coarse bucket that already exists in the store is left untouched; the
import that wrote it saw the full-resolution archive.

# Usage

	compactor := compaction.New(store)
	result, err := compactor.CompactAndCleanup(ctx, cfg.Tiers, time.Now())

Tiers are paired in order of width. A pair is skipped when the coarse width is
not a multiple of the fine width.
*/
package compaction
