package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveCompactionFailures is one scheduled run with all its retries
const maxConsecutiveCompactionFailures = 3

// CompactionMonitor tracks scheduled compaction health and failures.
type CompactionMonitor struct {
	mu sync.RWMutex

	// staleAfter marks compaction unhealthy when the last success is older
	staleAfter time.Duration
	now        func() time.Time

	runs              int
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastWritten       int
	totalWritten      int64
	consecutiveErrors int
	lastError         string
}

// NewCompactionMonitor creates a monitor; staleAfter 0 disables the staleness check
func NewCompactionMonitor(staleAfter time.Duration) *CompactionMonitor {
	return &CompactionMonitor{staleAfter: staleAfter, now: time.Now}
}

// RecordSuccess records a compaction that wrote written coarse buckets.
func (cm *CompactionMonitor) RecordSuccess(written int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := cm.now()
	cm.runs++
	cm.lastSuccess = now
	cm.lastAttempt = now
	cm.lastWritten = written
	cm.totalWritten += int64(written)
	cm.consecutiveErrors = 0
	cm.lastError = ""
}

// RecordFailure records a failed compaction attempt.
func (cm *CompactionMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.runs++
	cm.lastAttempt = cm.now()
	cm.consecutiveErrors++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// IsHealthy returns false after more than 3 consecutive failures, or when the
// last success is older than staleAfter. A monitor that never ran is healthy.
func (cm *CompactionMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.healthy()
}

func (cm *CompactionMonitor) healthy() bool {
	if cm.consecutiveErrors > maxConsecutiveCompactionFailures {
		return false
	}
	if cm.staleAfter > 0 && !cm.lastSuccess.IsZero() && cm.now().Sub(cm.lastSuccess) > cm.staleAfter {
		return false
	}
	return true
}

// CompactionStatus is the JSON view of the monitor
type CompactionStatus struct {
	Healthy           bool   `json:"healthy"`
	Runs              int    `json:"runs"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastWritten       int    `json:"last_written"`
	TotalWritten      int64  `json:"total_written"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current compaction status for health checks.
func (cm *CompactionMonitor) Status() CompactionStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CompactionStatus{
		Healthy:      cm.healthy(),
		Runs:         cm.runs,
		LastWritten:  cm.lastWritten,
		TotalWritten: cm.totalWritten,
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = cm.now().Sub(cm.lastSuccess).String()
	}
	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}
	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	return status
}
