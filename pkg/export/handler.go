package export

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/httpx"
	"github.com/nicktill/rrdimport/pkg/storage"
)

// Handler handles export/restore HTTP endpoints
type Handler struct {
	exporter *Exporter
	restorer *Restorer
	now      func() time.Time
}

// NewHandler creates a new export/restore handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		restorer: NewRestorer(store),
		now:      time.Now,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start: unix seconds or RFC3339 (default: 24h before end)
//   - end: unix seconds or RFC3339 (default: now)
//   - counter: counter name filter (optional, repeatable)
//   - tier: tier filter (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		http.Error(w, "Invalid format. Must be 'json' or 'csv'", http.StatusBadRequest)
		return
	}

	end := ParseTime(query.Get("end"), h.now())
	start := ParseTime(query.Get("start"), end.Add(-config.DefaultExportWindow))

	if !start.Before(end) {
		http.Error(w, "start must be before end", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		http.Error(w, fmt.Sprintf("Time range too large. Maximum is %v", config.MaxExportWindow), http.StatusBadRequest)
		return
	}

	opts := ExportOptions{
		Start:    start.Unix(),
		End:      end.Unix(),
		Counters: query["counter"],
		Tier:     query.Get("tier"),
		Format:   format,
	}

	timestamp := h.now().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=rrdimport-export-%s.%s", timestamp, format))

	ctx := r.Context()
	var result *ExportResult
	var err error
	if format == "json" {
		result, err = h.exporter.ExportToJSON(ctx, w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(ctx, w, opts)
	}

	if err != nil {
		logrus.WithError(err).Error("export failed")
		http.Error(w, fmt.Sprintf("Export failed: %v", err), http.StatusInternalServerError)
		return
	}

	logrus.WithFields(logrus.Fields{
		"buckets": result.BucketsExported,
		"format":  format,
		"range":   result.TimeRange,
	}).Info("exported buckets")
}

// HandleRestore handles POST /v1/restore with a JSON export as the body
func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !httpx.RequireJSON(w, r) {
		return
	}
	httpx.LimitBody(w, r, config.MaxRestoreBytes)

	result, err := h.restorer.RestoreFromJSON(r.Context(), r.Body)
	if httpx.IsBodyTooLarge(err) {
		httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("restore body exceeds %d bytes", config.MaxRestoreBytes))
		return
	}
	if err != nil {
		logrus.WithError(err).Error("restore failed")
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("restore failed: %w", err))
		return
	}

	if len(result.Errors) > 0 {
		logrus.WithField("errors", len(result.Errors)).Warn("restore completed with validation errors")
		for i, e := range result.Errors {
			if i == 10 {
				logrus.Warnf("... and %d more errors", len(result.Errors)-10)
				break
			}
			logrus.Warn(e)
		}
	}

	logrus.WithFields(logrus.Fields{
		"buckets": result.BucketsRestored,
		"batches": result.BatchesWritten,
	}).Info("restored buckets")

	httpx.RespondJSON(w, http.StatusOK, result)
}

// ParseTime parses unix seconds or an RFC3339 timestamp, or returns def
func ParseTime(param string, def time.Time) time.Time {
	if param == "" {
		return def
	}
	if secs, err := strconv.ParseInt(param, 10, 64); err == nil {
		return time.Unix(secs, 0)
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t
	}
	return def
}
