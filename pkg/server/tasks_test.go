package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/rrdimport/pkg/compaction"
	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/server/monitor"
	"github.com/nicktill/rrdimport/pkg/storage"
	"github.com/nicktill/rrdimport/pkg/storage/badger"
	"github.com/nicktill/rrdimport/pkg/storage/memory"
)

func TestRunCompaction_RunsAtStart(t *testing.T) {
	store := memory.New()
	defer store.Close()

	old := time.Now().Unix() - 5*config.SecondsPerDay
	old -= old % 3600
	require.NoError(t, store.Write(context.Background(), []storage.Record{{
		Counter: "cpu",
		Tier:    "5m",
		Bucket:  resample.Bucket{Start: old, Width: 300, Aggregate: resample.Aggregate{Sum: 2, Min: 2, Max: 2, Count: 1}},
	}}))

	tiers := []config.Tier{
		{Name: "5m", Width: 300, RetentionDays: 1},
		{Name: "1h", Width: 3600, RetentionDays: 30},
	}

	mon := monitor.NewCompactionMonitor(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunCompaction(ctx, compaction.New(store), tiers, time.Hour, mon)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return mon.Status().Runs == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	status := mon.Status()
	require.True(t, status.Healthy)
	require.Equal(t, 1, status.LastWritten)
	require.NotEmpty(t, status.LastSuccess)

	out, _ := store.Query(context.Background(), storage.QueryRequest{Tier: "1h"})
	require.Len(t, out, 1)

	out, _ = store.Query(context.Background(), storage.QueryRequest{Tier: "5m"})
	require.Empty(t, out)
}

type brokenStore struct {
	*memory.Storage
}

func (brokenStore) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Record, error) {
	return nil, errors.New("value log corrupted")
}

func TestRunCompaction_RecordsFailure(t *testing.T) {
	store := brokenStore{memory.New()}
	defer store.Close()

	tiers := []config.Tier{
		{Name: "5m", Width: 300, RetentionDays: 1},
		{Name: "1h", Width: 3600, RetentionDays: 30},
	}

	mon := monitor.NewCompactionMonitor(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunCompaction(ctx, compaction.New(store), tiers, time.Hour, mon)
		close(done)
	}()

	// the first retry waits 30s, cancelling ends the wait
	require.Eventually(t, func() bool {
		return mon.Status().ConsecutiveErrors == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCompaction did not stop on cancel")
	}

	status := mon.Status()
	require.Equal(t, 1, status.ConsecutiveErrors)
	require.Contains(t, status.LastError, "value log corrupted")
	require.Empty(t, status.LastSuccess)
}

func TestRunBadgerGC_StopsOnCancel(t *testing.T) {
	store, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunBadgerGC(ctx, store, time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gc loop did not stop")
	}
}

func TestRunBadgerGC_SkipsOtherStores(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunBadgerGC(context.Background(), memory.New(), time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gc loop should return for non-badger stores")
	}
}

func TestCompactionBackoff(t *testing.T) {
	b := newCompactionBackoff(context.Background())
	b.Reset()

	require.Equal(t, compactionBackoff, b.NextBackOff())
	require.Equal(t, 2*compactionBackoff, b.NextBackOff())
	require.Equal(t, 4*compactionBackoff, b.NextBackOff())
	require.Equal(t, backoff.Stop, b.NextBackOff())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, backoff.Stop, newCompactionBackoff(ctx).NextBackOff())
}

func TestLogGCResult(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)

	tests := []struct {
		name  string
		err   error
		level logrus.Level
	}{
		{"reclaimed", nil, logrus.InfoLevel},
		{"nothing to rewrite", badger.ErrNoRewrite, logrus.DebugLevel},
		{"wrapped no rewrite", fmt.Errorf("gc: %w", badger.ErrNoRewrite), logrus.DebugLevel},
		{"real failure", errors.New("value log corrupted"), logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()
			logGCResult(log, tt.err, time.Millisecond)
			require.Len(t, hook.Entries, 1)
			require.Equal(t, tt.level, hook.LastEntry().Level)
		})
	}
}
