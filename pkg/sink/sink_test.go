package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/storage"
	"github.com/nicktill/rrdimport/pkg/storage/memory"
)

func bucket(start int64, sum float64, count int64) resample.Bucket {
	return resample.Bucket{
		Start: start,
		Width: 300,
		Aggregate: resample.Aggregate{
			Sum:        sum,
			SumSquares: sum * sum / float64(count),
			Min:        1,
			Max:        sum,
			Count:      count,
		},
	}
}

func writeAll(t *testing.T, o Opener, target Target, buckets ...resample.Bucket) {
	t.Helper()
	ctx := context.Background()
	s, err := o.Open(ctx, target)
	require.NoError(t, err)
	for _, b := range buckets {
		require.NoError(t, s.Write(ctx, b))
	}
	require.NoError(t, s.Close())
}

func TestFormatBucket(t *testing.T) {
	require.Equal(t,
		"1200 15.000000 45.000000 1.000000 15.000000 5\n",
		FormatBucket(bucket(1200, 15, 5)))
}

func TestTextOpener(t *testing.T) {
	var buf bytes.Buffer
	o := NewTextOpener(&buf)

	writeAll(t, o, Target{Counter: "a.b", Tier: "5m", Path: "/store/a/b/5m"}, bucket(0, 2, 2), bucket(300, 4, 2))

	// plain records only, as istatd_import expects
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{
		"0 2.000000 2.000000 1.000000 2.000000 2",
		"300 4.000000 8.000000 1.000000 4.000000 2",
	}, lines)
}

func TestTextOpener_Headers(t *testing.T) {
	var buf bytes.Buffer
	o := NewTextOpener(&buf)
	o.Headers = true

	writeAll(t, o, Target{Counter: "a.b", Tier: "5m", Path: "/store/a/b/5m"}, bucket(0, 2, 2))

	require.Equal(t, "# /store/a/b/5m\n0 2.000000 2.000000 1.000000 2.000000 2\n", buf.String())
}

func TestTextOpener_WritesBeforeClose(t *testing.T) {
	var buf bytes.Buffer
	o := NewTextOpener(&buf)

	ctx := context.Background()
	s, err := o.Open(ctx, Target{Counter: "c", Tier: "10s"})
	require.NoError(t, err)

	for i := int64(0); i < 1000; i++ {
		require.NoError(t, s.Write(ctx, bucket(i*10, 1, 1)))
	}
	// only the last partial buffer may still be pending
	require.Greater(t, buf.Len(), 0)
	pending := buf.Len()

	require.NoError(t, s.Close())
	require.Greater(t, buf.Len(), pending)
	require.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 1000)
}

func TestTextOpener_OneStreamAtATime(t *testing.T) {
	o := NewTextOpener(io.Discard)

	first, err := o.Open(context.Background(), Target{Counter: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = o.Open(ctx, Target{Counter: "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := o.Open(context.Background(), Target{Counter: "b"})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestTextOpener_StreamsDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	o := NewTextOpener(&buf)
	o.Headers = true

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var bs []resample.Bucket
			for j := int64(0); j < 500; j++ {
				bs = append(bs, bucket(j*300, float64(i+1), 1))
			}
			writeAll(t, o, Target{Counter: "c", Tier: "5m", Path: "p"}, bs...)
		}(i)
	}
	wg.Wait()

	// every header is followed by 500 lines with the same sum
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 8*501)
	for i := 0; i < len(lines); i += 501 {
		require.Equal(t, "# p", lines[i])
		first := strings.Fields(lines[i+1])[1]
		for j := 2; j <= 500; j++ {
			require.Equal(t, first, strings.Fields(lines[i+j])[1])
		}
	}
}

func TestFileOpener(t *testing.T) {
	dir := t.TempDir()
	o := &FileOpener{Dir: dir}

	writeAll(t, o, Target{Counter: "web.frontend.requests", Tier: "1h"}, bucket(3600, 6, 3))

	data, err := os.ReadFile(filepath.Join(dir, "web", "frontend", "requests", "1h.txt"))
	require.NoError(t, err)
	require.Equal(t, "3600 6.000000 12.000000 1.000000 6.000000 3\n", string(data))
}

func TestLineOpener(t *testing.T) {
	var buf bytes.Buffer
	o := NewLineOpener(&buf)

	writeAll(t, o, Target{Counter: "disk.free", Kind: resample.Gauge}, bucket(100, 5, 1))
	writeAll(t, o, Target{Counter: "net.bytes", Kind: resample.Counter}, bucket(100, 6, 2))

	require.Equal(t,
		"disk.free              100         5.00000\n"+
			"*net.bytes              100         3.00000\n",
		buf.String())
}

func TestCommandOpener(t *testing.T) {
	dir := t.TempDir()

	// Fake import tool: copies stdin to the file named by --stat-file
	tool := filepath.Join(dir, "fake_import")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\ncat > \"$2.in\"\n"), 0o755))

	statFile := filepath.Join(dir, "5m")
	require.NoError(t, os.WriteFile(statFile, nil, 0o644))

	o := &CommandOpener{Command: tool, RequireExisting: true}
	writeAll(t, o, Target{Counter: "a", Tier: "5m", Path: statFile}, bucket(0, 1, 1), bucket(300, 2, 1))

	data, err := os.ReadFile(statFile + ".in")
	require.NoError(t, err)
	require.Equal(t, FormatBucket(bucket(0, 1, 1))+FormatBucket(bucket(300, 2, 1)), string(data))
}

func TestCommandOpener_MissingStream(t *testing.T) {
	o := &CommandOpener{Command: "true", RequireExisting: true}
	_, err := o.Open(context.Background(), Target{Path: filepath.Join(t.TempDir(), "nope")})
	require.ErrorIs(t, err, ErrStreamMissing)
}

func TestCommandOpener_FailingCommand(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "broken_import")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\ncat > /dev/null\nexit 3\n"), 0o755))

	o := &CommandOpener{Command: tool}
	ctx := context.Background()
	s, err := o.Open(ctx, Target{Path: filepath.Join(dir, "x")})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, bucket(0, 1, 1)))
	require.Error(t, s.Close())
}

func TestStoreOpener(t *testing.T) {
	store := memory.New()
	o := &StoreOpener{Store: store, BatchSize: 2}

	writeAll(t, o, Target{Counter: "a.b", Tier: "5m"}, bucket(0, 1, 1), bucket(300, 2, 1), bucket(600, 3, 1))

	records, err := store.Query(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "a.b", records[2].Counter)
	require.Equal(t, "5m", records[2].Tier)
	require.Equal(t, 3.0, records[2].Bucket.Sum)
}

func TestParquetOpener(t *testing.T) {
	dir := t.TempDir()
	o := &ParquetOpener{Dir: dir, Compression: "snappy"}

	writeAll(t, o, Target{Counter: "a.b", Tier: "1h"}, bucket(0, 1, 1), bucket(3600, 2, 2))

	rows, err := parquet.ReadFile[BucketRow](filepath.Join(dir, "a.b", "1h.parquet"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(3600), rows[1].Start)
	require.Equal(t, int64(2), rows[1].Count)
	require.Equal(t, "a.b", rows[1].Counter)
}
