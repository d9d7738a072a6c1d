package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/rrdimport/pkg/importer"
)

// ImportMonitor follows importer events and tracks run health.
// It implements importer.Observer.
type ImportMonitor struct {
	mu sync.RWMutex

	running   bool
	started   time.Time
	finished  time.Time
	lastEvent time.Time

	counters int
	done     int
	failed   int
	skipped  int
	buckets  int64

	consecutiveFailures int
	lastError           string
	runError            string
}

// NewImportMonitor creates an idle monitor
func NewImportMonitor() *ImportMonitor {
	return &ImportMonitor{}
}

// RunStarted resets the counters for a run over n counters
func (m *ImportMonitor) RunStarted(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = true
	m.started = time.Now()
	m.finished = time.Time{}
	m.lastEvent = time.Time{}
	m.counters = n
	m.done, m.failed, m.skipped, m.buckets = 0, 0, 0, 0
	m.consecutiveFailures = 0
	m.lastError, m.runError = "", ""
}

// RunFinished marks the run done; err is the run-level error, if any
func (m *ImportMonitor) RunFinished(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	m.finished = time.Now()
	if err != nil {
		m.runError = err.Error()
	}
}

// Observe implements importer.Observer
func (m *ImportMonitor) Observe(e importer.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEvent = e.Time
	switch e.Type {
	case importer.EventCounterDone:
		m.done++
		m.buckets += int64(e.Buckets)
		m.consecutiveFailures = 0
	case importer.EventCounterFailed:
		m.failed++
		m.consecutiveFailures++
		m.lastError = e.Error
	case importer.EventTierSkipped:
		m.skipped++
	}
}

// IsHealthy returns false after a run-level error or more than 3 consecutive counter failures
func (m *ImportMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy()
}

func (m *ImportMonitor) healthy() bool {
	return m.runError == "" && m.consecutiveFailures <= 3
}

// ImportStatus is the JSON view of the monitor
type ImportStatus struct {
	Healthy        bool    `json:"healthy"`
	Running        bool    `json:"running"`
	Counters       int     `json:"counters"`
	Done           int     `json:"done"`
	Failed         int     `json:"failed"`
	SkippedStreams int     `json:"skipped_streams"`
	Buckets        int64   `json:"buckets"`
	Progress       float64 `json:"progress"`
	Started        string  `json:"started,omitempty"`
	Finished       string  `json:"finished,omitempty"`
	Elapsed        string  `json:"elapsed,omitempty"`
	LastError      string  `json:"last_error,omitempty"`
	RunError       string  `json:"run_error,omitempty"`
}

// Status returns the current import status
func (m *ImportMonitor) Status() ImportStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := ImportStatus{
		Healthy:        m.healthy(),
		Running:        m.running,
		Counters:       m.counters,
		Done:           m.done,
		Failed:         m.failed,
		SkippedStreams: m.skipped,
		Buckets:        m.buckets,
		LastError:      m.lastError,
		RunError:       m.runError,
	}

	if m.counters > 0 {
		status.Progress = float64(m.done+m.failed) / float64(m.counters)
	}

	if !m.started.IsZero() {
		status.Started = m.started.Format(time.RFC3339)
		end := time.Now()
		if !m.finished.IsZero() {
			end = m.finished
			status.Finished = m.finished.Format(time.RFC3339)
		}
		status.Elapsed = end.Sub(m.started).String()
	}

	return status
}
