package server

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/compaction"
	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/server/monitor"
	"github.com/nicktill/rrdimport/pkg/storage"
	"github.com/nicktill/rrdimport/pkg/storage/badger"
)

// gcDiscardRatio rewrites a value log file once half of it is garbage
const gcDiscardRatio = 0.5

// RunBadgerGC runs value log garbage collection every interval until ctx is done.
// Stores other than badger are left alone.
func RunBadgerGC(ctx context.Context, store storage.Storage, interval time.Duration) {
	log := logrus.WithField("component", "gc")

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Debug("storage is not badger, skipping gc")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval).Info("badger gc scheduler started")

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			logGCResult(log, badgerStore.RunGC(gcDiscardRatio), time.Since(start))
		case <-ctx.Done():
			log.Debug("stopping badger gc scheduler")
			return
		}
	}
}

func logGCResult(log *logrus.Entry, err error, took time.Duration) {
	log = log.WithField("took", took.Round(time.Millisecond))
	switch {
	case err == nil:
		log.Info("gc reclaimed disk space")
	case errors.Is(err, badger.ErrNoRewrite):
		log.Debug("gc finished, no rewrite needed")
	default:
		log.WithError(err).Warn("gc failed")
	}
}

// BroadcastStatus pushes the import status to WebSocket clients every interval.
func BroadcastStatus(ctx context.Context, imports *monitor.ImportMonitor, hub *EventHub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}
			if err := hub.Broadcast("import_status", imports.Status()); err != nil {
				logrus.WithError(err).Warn("failed to broadcast import status")
			}
		}
	}
}

// compactionRetries and compactionBackoff bound the retries of one scheduled run
const (
	compactionRetries = 3
	compactionBackoff = 30 * time.Second
)

// newCompactionBackoff doubles the delay from compactionBackoff for up to compactionRetries retries
func newCompactionBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = compactionBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = compactionBackoff << compactionRetries
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, compactionRetries), ctx)
}

// RunCompaction folds expired buckets into coarser tiers once at start and then every interval.
// Every attempt is recorded in mon.
func RunCompaction(ctx context.Context, compactor *compaction.Compactor, tiers []config.Tier, interval time.Duration, mon *monitor.CompactionMonitor) {
	log := logrus.WithField("component", "compaction")

	run := func() {
		attempt := 0
		op := func() error {
			attempt++
			start := time.Now()
			result, err := compactor.CompactAndCleanup(ctx, tiers, time.Now())
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				mon.RecordFailure(err)
				return err
			}
			mon.RecordSuccess(result.Written())
			log.WithFields(logrus.Fields{
				"written": result.Written(),
				"took":    time.Since(start).Round(time.Millisecond),
			}).Info("compaction completed")
			return nil
		}
		notify := func(err error, delay time.Duration) {
			log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("compaction failed, retrying")
		}

		if err := backoff.RetryNotify(op, newCompactionBackoff(ctx), notify); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("compaction failed after retries, waiting for next schedule")
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}
