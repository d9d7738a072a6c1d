package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/export"
	"github.com/nicktill/rrdimport/pkg/httpx"
	"github.com/nicktill/rrdimport/pkg/server/monitor"
	"github.com/nicktill/rrdimport/pkg/storage"
)

// Version is reported by the health endpoint
var Version = "dev"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string                   `json:"status"`
	Version    string                   `json:"version"`
	Uptime     string                   `json:"uptime"`
	Import     monitor.ImportStatus     `json:"import"`
	Compaction monitor.CompactionStatus `json:"compaction"`
}

// StatsResponse combines store statistics with on-disk usage.
type StatsResponse struct {
	Storage   *storage.Stats `json:"storage"`
	DiskBytes int64          `json:"disk_bytes,omitempty"`
}

// BucketsResponse is returned by the bucket query endpoint.
type BucketsResponse struct {
	Buckets []storage.Record `json:"buckets"`
	Count   int              `json:"count"`
	Limit   int              `json:"limit"`
}

// handleHealth reports degraded while either the import or compaction monitor is unhealthy.
func handleHealth(imports *monitor.ImportMonitor, compactions *monitor.CompactionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := imports.Status()
		compaction := compactions.Status()

		overall, code := "healthy", http.StatusOK
		if !status.Healthy || !compaction.Healthy {
			overall, code = "degraded", http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, code, HealthResponse{
			Status:     overall,
			Version:    Version,
			Uptime:     time.Since(startTime).String(),
			Import:     status,
			Compaction: compaction,
		})
	}
}

func handleCompactionStatus(compactions *monitor.CompactionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, compactions.Status())
	}
}

// handleImportStatus returns the progress of the current or last import run.
func handleImportStatus(imports *monitor.ImportMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, imports.Status())
	}
}

// handleStats returns bucket store statistics. usage may be nil for in-memory stores.
func handleStats(store storage.Storage, usage *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
		defer cancel()

		stats, err := store.Stats(ctx)
		if err != nil {
			logrus.WithError(err).Error("failed to read storage stats")
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		resp := StatsResponse{Storage: stats}
		if usage != nil {
			disk, err := usage.Usage()
			if err != nil {
				logrus.WithError(err).Warn("failed to measure store directory")
			}
			resp.DiskBytes = disk
		}
		httpx.RespondJSON(w, http.StatusOK, resp)
	}
}

// handleBuckets handles GET /v1/buckets
// Query params:
//   - counter: counter name (optional, repeatable)
//   - tier: tier name (optional)
//   - start, end: bucket start range, unix seconds or RFC3339 (optional)
//   - limit: maximum buckets returned (default 1000)
func handleBuckets(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		req := storage.QueryRequest{
			Counters: query["counter"],
			Tier:     query.Get("tier"),
			Limit:    config.DefaultQueryLimit,
		}
		if v := query.Get("start"); v != "" {
			req.Start = export.ParseTime(v, time.Unix(0, 0)).Unix()
		}
		if v := query.Get("end"); v != "" {
			req.End = export.ParseTime(v, time.Unix(0, 0)).Unix()
		}
		if req.End > 0 && req.End < req.Start {
			httpx.RespondErrorString(w, http.StatusBadRequest, "end must not be before start")
			return
		}

		if v := query.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit <= 0 {
				httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
				return
			}
			if limit > config.MaxQueryLimit {
				httpx.RespondErrorString(w, http.StatusBadRequest,
					fmt.Sprintf("limit too large, maximum is %d", config.MaxQueryLimit))
				return
			}
			req.Limit = limit
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		records, err := store.Query(ctx, req)
		if err != nil {
			logrus.WithError(err).Error("bucket query failed")
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		if records == nil {
			records = []storage.Record{}
		}

		httpx.RespondJSON(w, http.StatusOK, BucketsResponse{
			Buckets: records,
			Count:   len(records),
			Limit:   req.Limit,
		})
	}
}
