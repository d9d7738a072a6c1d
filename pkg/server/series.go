package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nicktill/rrdimport/pkg/compaction"
	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/export"
	"github.com/nicktill/rrdimport/pkg/httpx"
	"github.com/nicktill/rrdimport/pkg/resample"
	"github.com/nicktill/rrdimport/pkg/storage"
)

const (
	defaultMaxPoints = 1000
	maxPointsLimit   = 5000
)

// Stream is one counter at one tier
type Stream struct {
	Counter string `json:"counter"`
	Tier    string `json:"tier"`
}

// CountersResponse lists the streams in the store
type CountersResponse struct {
	Streams []Stream `json:"streams"`
	Count   int      `json:"count"`
}

// Point is one chart point: a bucket, or several merged buckets
type Point struct {
	Timestamp int64   `json:"t"` // unix seconds of the first bucket
	Value     float64 `json:"v"` // average
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// SeriesResponse returns one stream shaped for charting
type SeriesResponse struct {
	Counter string  `json:"counter"`
	Tier    string  `json:"tier"`
	Points  []Point `json:"points"`
}

// handleCounters lists the distinct streams in the store.
func handleCounters(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		records, err := store.Query(ctx, storage.QueryRequest{})
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
			return
		}

		// records come ordered by counter and tier
		streams := []Stream{}
		for i, rec := range records {
			if i > 0 && records[i-1].Counter == rec.Counter && records[i-1].Tier == rec.Tier {
				continue
			}
			streams = append(streams, Stream{Counter: rec.Counter, Tier: rec.Tier})
		}

		httpx.RespondJSON(w, http.StatusOK, CountersResponse{Streams: streams, Count: len(streams)})
	}
}

// handleSeries returns one stream's buckets, merged down to at most maxPoints points.
func handleSeries(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		counter, tier := query.Get("counter"), query.Get("tier")
		if counter == "" || tier == "" {
			httpx.RespondErrorString(w, http.StatusBadRequest, "counter and tier parameters required")
			return
		}

		req := storage.QueryRequest{Counters: []string{counter}, Tier: tier}
		if v := query.Get("start"); v != "" {
			req.Start = export.ParseTime(v, time.Unix(0, 0)).Unix()
		}
		if v := query.Get("end"); v != "" {
			req.End = export.ParseTime(v, time.Unix(0, 0)).Unix()
		}
		if req.End > 0 && req.End < req.Start {
			httpx.RespondErrorString(w, http.StatusBadRequest, "end must be after start")
			return
		}

		maxPoints := defaultMaxPoints
		if mp := query.Get("maxPoints"); mp != "" {
			parsed, err := strconv.Atoi(mp)
			if err != nil {
				httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid maxPoints: %q is not an integer", mp))
				return
			}
			if parsed <= 0 || parsed > maxPointsLimit {
				httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("maxPoints must be between 1 and %d", maxPointsLimit))
				return
			}
			maxPoints = parsed
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		records, err := store.Query(ctx, req)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		httpx.RespondJSON(w, http.StatusOK, SeriesResponse{
			Counter: counter,
			Tier:    tier,
			Points:  downsample(records, maxPoints),
		})
	}
}

// downsample merges runs of consecutive buckets so at most maxPoints remain.
// Merged points average over all samples, not over bucket averages.
func downsample(records []storage.Record, maxPoints int) []Point {
	if len(records) == 0 {
		return []Point{}
	}
	size := (len(records) + maxPoints - 1) / maxPoints

	points := make([]Point, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		end := min(i+size, len(records))

		var agg resample.Aggregate
		for _, rec := range records[i:end] {
			agg = compaction.Merge(agg, rec.Bucket.Aggregate)
		}
		points = append(points, Point{
			Timestamp: records[i].Bucket.Start,
			Value:     agg.Average(),
			Min:       agg.Min,
			Max:       agg.Max,
		})
	}
	return points
}
