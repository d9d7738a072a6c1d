package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/rrdimport/pkg/importer"
	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/storage"
	"github.com/nicktill/rrdimport/pkg/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Storage) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })

	var records []storage.Record
	for i := int64(0); i < 5; i++ {
		records = append(records, storage.Record{
			Counter: "web.requests",
			Tier:    "5m",
			Bucket: resample.Bucket{
				Start:     i * 300,
				Width:     300,
				Aggregate: resample.Aggregate{Sum: float64(i), Min: 0, Max: float64(i), Count: 1},
			},
		})
	}
	records = append(records, storage.Record{
		Counter: "db.queries",
		Tier:    "1h",
		Bucket:  resample.Bucket{Start: 0, Width: 3600, Aggregate: resample.Aggregate{Sum: 1, Count: 1}},
	})
	require.NoError(t, store.Write(context.Background(), records))

	return New(store, "", ":8080"), store
}

func get(t *testing.T, s *Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestBuckets(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name      string
		url       string
		wantCode  int
		wantCount int
	}{
		{"all", "/v1/buckets", http.StatusOK, 6},
		{"by tier", "/v1/buckets?tier=5m", http.StatusOK, 5},
		{"by counter", "/v1/buckets?counter=db.queries", http.StatusOK, 1},
		{"range", "/v1/buckets?tier=5m&start=300&end=900", http.StatusOK, 3},
		{"limit", "/v1/buckets?limit=2", http.StatusOK, 2},
		{"bad limit", "/v1/buckets?limit=abc", http.StatusBadRequest, 0},
		{"limit too large", "/v1/buckets?limit=100000", http.StatusBadRequest, 0},
		{"inverted range", "/v1/buckets?start=900&end=300", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.url)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp BucketsResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			require.Equal(t, tt.wantCount, resp.Count)
			require.Len(t, resp.Buckets, tt.wantCount)
		})
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, uint64(6), resp.Storage.TotalBuckets)
	require.Equal(t, uint64(2), resp.Storage.TotalSeries)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	s.Imports.RunStarted(1)
	s.Imports.RunFinished(errors.New("sink failure: broken pipe"))

	rec = get(t, s, "/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "degraded", resp.Status)
	require.Contains(t, resp.Import.RunError, "broken pipe")
	require.True(t, resp.Compaction.Healthy)
}

func TestHealth_CompactionFailures(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 4; i++ {
		s.Compactions.RecordFailure(errors.New("write 1h: disk full"))
	}

	rec := get(t, s, "/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "degraded", resp.Status)
	require.True(t, resp.Import.Healthy)
	require.False(t, resp.Compaction.Healthy)
	require.Equal(t, 4, resp.Compaction.ConsecutiveErrors)
	require.Contains(t, resp.Compaction.LastError, "disk full")

	rec = get(t, s, "/v1/compaction/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "disk full")

	body := get(t, s, "/metrics").Body.String()
	require.Contains(t, body, "rrdimport_compaction_healthy 0")
	require.Contains(t, body, "rrdimport_compaction_consecutive_failures 4")

	s.Compactions.RecordSuccess(12)
	require.Equal(t, http.StatusOK, get(t, s, "/v1/health").Code)

	body = get(t, s, "/metrics").Body.String()
	require.Contains(t, body, "rrdimport_compaction_healthy 1")
	require.Contains(t, body, "rrdimport_compaction_buckets_written_total 12")
}

func TestImportStatus(t *testing.T) {
	s, _ := newTestServer(t)

	s.Imports.RunStarted(2)
	s.Imports.Observe(importer.Event{Type: importer.EventCounterDone, Counter: "a", Buckets: 10, Time: time.Now()})

	rec := get(t, s, "/v1/import/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Running  bool    `json:"running"`
		Done     int     `json:"done"`
		Buckets  int64   `json:"buckets"`
		Progress float64 `json:"progress"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.True(t, status.Running)
	require.Equal(t, 1, status.Done)
	require.Equal(t, int64(10), status.Buckets)
	require.InDelta(t, 0.5, status.Progress, 1e-9)
}

func TestExportRoute(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/v1/export?format=csv&tier=1h&start=0&end=7200")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 2)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketEvents(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub.Run(ctx)

	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, s.Hub.HasClients, time.Second, 10*time.Millisecond)

	s.Hub.Observe(importer.Event{
		Type:    importer.EventTierWritten,
		Counter: "web.requests",
		Tier:    "5m",
		Buckets: 42,
		Time:    time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data importer.Event `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "import_event", msg.Type)
	require.Equal(t, importer.EventTierWritten, msg.Data.Type)
	require.Equal(t, 42, msg.Data.Buckets)
}

func TestPortOf(t *testing.T) {
	require.Equal(t, "8080", portOf(":8080"))
	require.Equal(t, "9000", portOf("127.0.0.1:9000"))
	require.Equal(t, "8080", portOf("garbage"))
}

func TestPrometheusMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	s.Imports.RunStarted(4)
	s.Imports.Observe(importer.Event{Type: importer.EventCounterDone, Counter: "a", Buckets: 94, Time: time.Now()})
	s.Imports.Observe(importer.Event{Type: importer.EventCounterFailed, Counter: "b", Error: "malformed", Time: time.Now()})

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, `rrdimport_import_counters{state="done"} 1`)
	require.Contains(t, body, `rrdimport_import_counters{state="failed"} 1`)
	require.Contains(t, body, `rrdimport_import_counters{state="pending"} 2`)
	require.Contains(t, body, "rrdimport_import_buckets_total 94")
	require.Contains(t, body, "rrdimport_import_running 1")
	require.Contains(t, body, "rrdimport_store_buckets 6")
	require.Contains(t, body, "rrdimport_store_series 2")
	require.Contains(t, body, "rrdimport_compaction_healthy 1")
}
