// Package server exposes the bucket store and import progress over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/compaction"
	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/export"
	"github.com/nicktill/rrdimport/pkg/server/monitor"
	"github.com/nicktill/rrdimport/pkg/storage"
)

// Server wires the store, monitors and WebSocket hub to a router.
type Server struct {
	Router      *mux.Router
	Hub         *EventHub
	Imports     *monitor.ImportMonitor
	Compactions *monitor.CompactionMonitor

	// Tiers enables periodic compaction of the store when set
	Tiers []config.Tier

	store storage.Storage
	usage *monitor.StorageMonitor
	log   *logrus.Entry
}

// New creates a server over store. dataDir is measured for disk usage;
// leave it empty for in-memory stores.
func New(store storage.Storage, dataDir, listen string) *Server {
	s := &Server{
		Router:      mux.NewRouter(),
		Hub:         NewEventHub(),
		Imports:     monitor.NewImportMonitor(),
		Compactions: monitor.NewCompactionMonitor(config.CompactionStaleAfter),
		store:       store,
		log:         logrus.WithField("component", "server"),
	}
	if dataDir != "" {
		s.usage = monitor.NewStorageMonitor(dataDir)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(s.Imports, s.Compactions, store))
	metrics := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	SetupRoutes(s.Router, store, export.NewHandler(store), s.usage, s.Imports, s.Compactions, s.Hub, metrics, portOf(listen))
	return s
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	store storage.Storage,
	exportHandler *export.Handler,
	storageMonitor *monitor.StorageMonitor,
	importMonitor *monitor.ImportMonitor,
	compactionMonitor *monitor.CompactionMonitor,
	hub *EventHub,
	metrics http.Handler,
	port string,
) {
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/buckets", handleBuckets(store)).Methods("GET")
	api.HandleFunc("/counters", handleCounters(store)).Methods("GET")
	api.HandleFunc("/series", handleSeries(store)).Methods("GET")
	api.HandleFunc("/stats", handleStats(store, storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(importMonitor, compactionMonitor)).Methods("GET")
	api.HandleFunc("/import/status", handleImportStatus(importMonitor)).Methods("GET")
	api.HandleFunc("/compaction/status", handleCompactionStatus(compactionMonitor)).Methods("GET")

	api.HandleFunc("/ws", hub.HandleWebSocket).Methods("GET")

	api.HandleFunc("/export", exportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/restore", exportHandler.HandleRestore).Methods("POST")

	// Prometheus scrape endpoint at the standard path
	router.Handle("/metrics", metrics).Methods("GET")
}

// Serve runs the HTTP server and its background tasks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:         listen,
		Handler:      s.Router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if len(s.Tiers) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RunCompaction(bgCtx, compaction.New(s.store), s.Tiers, config.CompactionInterval, s.Compactions)
		}()
	}
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.Hub.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		BroadcastStatus(bgCtx, s.Imports, s.Hub, config.StatusInterval)
	}()
	go func() {
		defer wg.Done()
		RunBadgerGC(bgCtx, s.store, config.BadgerGCInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("listen", listen).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("server shutdown")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("background tasks did not stop in time")
	}

	return serveErr
}

// corsMiddleware allows browser access from localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// portOf extracts the port from a listen address like ":8080" or "0.0.0.0:9000"
func portOf(listen string) string {
	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "8080"
	}
	return port
}
