package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// StorageMonitor reports the on-disk size of the bucket store, cached to avoid rescanning on every request.
type StorageMonitor struct {
	dir           string
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a monitor for the store directory
func NewStorageMonitor(dir string) *StorageMonitor {
	return &StorageMonitor{
		dir:           dir,
		cacheDuration: 10 * time.Second,
	}
}

// Usage returns the store size in bytes, refreshed at most every 10 seconds
func (sm *StorageMonitor) Usage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := dirSize(sm.dir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += allocatedSize(path, info)
		return nil
	})
	return size, err
}
