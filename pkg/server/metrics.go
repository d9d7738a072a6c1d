package server

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/rrdimport/pkg/config"
	"github.com/nicktill/rrdimport/pkg/server/monitor"
	"github.com/nicktill/rrdimport/pkg/storage"
)

// Namespace prefixes every exported metric
const Namespace = "rrdimport"

func newDesc(name, help string, labels []string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
}

// Collector exposes import progress and store statistics, read at scrape time.
type Collector struct {
	imports     *monitor.ImportMonitor
	compactions *monitor.CompactionMonitor
	store       storage.Storage

	counters       *prometheus.Desc
	buckets        *prometheus.Desc
	skippedStreams *prometheus.Desc
	running        *prometheus.Desc
	healthy        *prometheus.Desc
	storeBuckets   *prometheus.Desc
	storeSeries    *prometheus.Desc
	storeBytes     *prometheus.Desc

	compactionHealthy  *prometheus.Desc
	compactionFailures *prometheus.Desc
	compactionWritten  *prometheus.Desc
}

// NewCollector creates a collector; store may be nil
func NewCollector(imports *monitor.ImportMonitor, compactions *monitor.CompactionMonitor, store storage.Storage) *Collector {
	return &Collector{
		imports:        imports,
		compactions:    compactions,
		store:          store,
		counters:       newDesc("import_counters", "Counters of the current run by state", []string{"state"}),
		buckets:        newDesc("import_buckets_total", "Buckets written by the current run", nil),
		skippedStreams: newDesc("import_skipped_streams", "Tiers skipped because the destination stream does not exist", nil),
		running:        newDesc("import_running", "1 while an import run is in progress", nil),
		healthy:        newDesc("import_healthy", "0 after a run error or repeated counter failures", nil),
		storeBuckets:   newDesc("store_buckets", "Buckets in the store", nil),
		storeSeries:    newDesc("store_series", "Counter and tier streams in the store", nil),
		storeBytes:     newDesc("store_size_bytes", "Estimated store size", nil),

		compactionHealthy:  newDesc("compaction_healthy", "0 after repeated or stale compaction runs", nil),
		compactionFailures: newDesc("compaction_consecutive_failures", "Compaction attempts failed since the last success", nil),
		compactionWritten:  newDesc("compaction_buckets_written_total", "Buckets written by compaction", nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.counters
	ch <- c.buckets
	ch <- c.skippedStreams
	ch <- c.running
	ch <- c.healthy
	ch <- c.storeBuckets
	ch <- c.storeSeries
	ch <- c.storeBytes
	ch <- c.compactionHealthy
	ch <- c.compactionFailures
	ch <- c.compactionWritten
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.imports.Status()

	pending := status.Counters - status.Done - status.Failed
	ch <- prometheus.MustNewConstMetric(c.counters, prometheus.GaugeValue, float64(status.Done), "done")
	ch <- prometheus.MustNewConstMetric(c.counters, prometheus.GaugeValue, float64(status.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(c.counters, prometheus.GaugeValue, float64(max(pending, 0)), "pending")
	ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.CounterValue, float64(status.Buckets))
	ch <- prometheus.MustNewConstMetric(c.skippedStreams, prometheus.GaugeValue, float64(status.SkippedStreams))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolValue(status.Running))
	ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, boolValue(status.Healthy))

	compaction := c.compactions.Status()
	ch <- prometheus.MustNewConstMetric(c.compactionHealthy, prometheus.GaugeValue, boolValue(compaction.Healthy))
	ch <- prometheus.MustNewConstMetric(c.compactionFailures, prometheus.GaugeValue, float64(compaction.ConsecutiveErrors))
	ch <- prometheus.MustNewConstMetric(c.compactionWritten, prometheus.CounterValue, float64(compaction.TotalWritten))

	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.StatsTimeout)
	defer cancel()
	stats, err := c.store.Stats(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to collect store stats")
		return
	}
	ch <- prometheus.MustNewConstMetric(c.storeBuckets, prometheus.GaugeValue, float64(stats.TotalBuckets))
	ch <- prometheus.MustNewConstMetric(c.storeSeries, prometheus.GaugeValue, float64(stats.TotalSeries))
	ch <- prometheus.MustNewConstMetric(c.storeBytes, prometheus.GaugeValue, float64(stats.SizeBytes))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
