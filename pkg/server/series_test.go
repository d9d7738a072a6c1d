package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/storage"
)

func TestCounters(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/v1/counters")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CountersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, []Stream{
		{Counter: "db.queries", Tier: "1h"},
		{Counter: "web.requests", Tier: "5m"},
	}, resp.Streams)
}

func TestSeries(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/v1/series?counter=web.requests&tier=5m&maxPoints=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SeriesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	// five buckets with sums 0..4 merge into runs of three and two
	require.Len(t, resp.Points, 2)
	require.Equal(t, Point{Timestamp: 0, Value: 1, Min: 0, Max: 2}, resp.Points[0])
	require.Equal(t, Point{Timestamp: 900, Value: 3.5, Min: 0, Max: 4}, resp.Points[1])

	for _, url := range []string{
		"/v1/series?tier=5m",
		"/v1/series?counter=web.requests&tier=5m&maxPoints=0",
		"/v1/series?counter=web.requests&tier=5m&maxPoints=lots",
	} {
		require.Equal(t, http.StatusBadRequest, get(t, s, url).Code, url)
	}
}

func TestDownsample_WeightsByCount(t *testing.T) {
	records := []storage.Record{
		{Bucket: resample.Bucket{Start: 0, Width: 10, Aggregate: resample.Aggregate{Sum: 10, Min: 1, Max: 9, Count: 10}}},
		{Bucket: resample.Bucket{Start: 10, Width: 10, Aggregate: resample.Aggregate{Sum: 100, Min: 100, Max: 100, Count: 1}}},
	}

	points := downsample(records, 1)
	require.Len(t, points, 1)
	require.InDelta(t, 10.0, points[0].Value, 1e-9)
	require.Equal(t, 1.0, points[0].Min)
	require.Equal(t, 100.0, points[0].Max)

	require.Empty(t, downsample(nil, 10))
	require.Len(t, downsample(records, 10), 2)
}
