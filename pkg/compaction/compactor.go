package compaction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/storage"
)

// Compactor re-rolls stored buckets into coarser tiers
type Compactor struct {
	storage storage.Storage
	log     *logrus.Entry
}

// New creates a new compactor
func New(store storage.Storage) *Compactor {
	return &Compactor{
		storage: store,
		log:     logrus.WithField("component", "compaction"),
	}
}

// Rollup merges the buckets of tier from with start in [start, end) into
// buckets of width in tier to. Existing buckets of tier to are kept.
func (c *Compactor) Rollup(ctx context.Context, from config.Tier, to config.Tier, start, end int64) (TierResult, error) {
	res := TierResult{From: from.Name, To: to.Name, Cutoff: end}
	if end <= start {
		return res, nil
	}
	if to.Width <= 0 || from.Width <= 0 || to.Width%from.Width != 0 {
		return res, fmt.Errorf("tier %s (%ds) does not divide tier %s (%ds)", from.Name, from.Width, to.Name, to.Width)
	}

	fine, err := c.storage.Query(ctx, storage.QueryRequest{Start: start, End: end - 1, Tier: from.Name})
	if err != nil {
		return res, fmt.Errorf("failed to query %s buckets: %w", from.Name, err)
	}
	res.Read = len(fine)
	if len(fine) == 0 {
		return res, nil
	}

	coarseStart := alignDown(start, to.Width)
	existing, err := c.storage.Query(ctx, storage.QueryRequest{Start: coarseStart, End: end - 1, Tier: to.Name})
	if err != nil {
		return res, fmt.Errorf("failed to query %s buckets: %w", to.Name, err)
	}
	have := make(map[bucketKey]bool, len(existing))
	for _, r := range existing {
		have[bucketKey{r.Counter, r.Bucket.Start}] = true
	}

	aggs := make(map[bucketKey]resample.Aggregate)
	skipped := make(map[bucketKey]bool)
	for _, r := range fine {
		key := bucketKey{r.Counter, alignDown(r.Bucket.Start, to.Width)}
		if have[key] {
			skipped[key] = true
			continue
		}
		aggs[key] = Merge(aggs[key], r.Bucket.Aggregate)
	}
	res.SkippedExists = len(skipped)

	records := recordsOf(to.Name, to.Width, aggs)
	if len(records) > 0 {
		if err := c.storage.Write(ctx, records); err != nil {
			return res, fmt.Errorf("failed to write %s buckets: %w", to.Name, err)
		}
	}
	res.Written = len(records)
	return res, nil
}

// CompactAndCleanup rolls every tier's expired buckets into the next coarser
// tier and deletes them. The coarsest tier is only trimmed.
func (c *Compactor) CompactAndCleanup(ctx context.Context, tiers []config.Tier, now time.Time) (*Result, error) {
	sorted := make([]config.Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Width < sorted[j].Width })

	result := &Result{}
	for i, tier := range sorted {
		if tier.RetentionDays <= 0 {
			continue
		}
		cutoff := now.Unix() - tier.RetentionDays*config.SecondsPerDay

		if i+1 < len(sorted) {
			next := sorted[i+1]
			if next.Width%tier.Width != 0 {
				c.log.WithFields(logrus.Fields{"from": tier.Name, "to": next.Name}).Warn("tier widths do not nest, not compacting")
			} else {
				// only whole coarse buckets are folded
				aligned := alignDown(cutoff, next.Width)
				res, err := c.Rollup(ctx, tier, next, 0, aligned)
				if err != nil {
					return result, err
				}
				cutoff = aligned
				result.Tiers = append(result.Tiers, res)
				c.log.WithFields(logrus.Fields{
					"from":    res.From,
					"to":      res.To,
					"read":    res.Read,
					"written": res.Written,
				}).Debug("tier compacted")
			}
		}

		if err := c.storage.Delete(ctx, storage.DeleteOptions{Before: cutoff, Tier: tier.Name}); err != nil {
			return result, fmt.Errorf("failed to delete expired %s buckets: %w", tier.Name, err)
		}
	}

	return result, nil
}

// alignDown returns the start of the width-sized bucket holding t
func alignDown(t, width int64) int64 {
	m := t % width
	if m < 0 {
		m += width
	}
	return t - m
}
