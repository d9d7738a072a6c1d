package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorageMonitor_Usage(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "000001.vlog"), []byte("test data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "sub"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "sub", "000002.sst"), []byte("more"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(tmpDir)
	usage, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}

	// sizes are allocated blocks, which depend on the filesystem
	var want int64
	for _, name := range []string{"000001.vlog", filepath.Join("sub", "000002.sst")} {
		path := filepath.Join(tmpDir, name)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		want += allocatedSize(path, info)
	}
	if usage != want {
		t.Errorf("Usage() = %d, want %d", usage, want)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStorageMonitor(tmpDir)

	usage1, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}

	// new data is not visible until the cache expires
	os.WriteFile(filepath.Join(tmpDir, "late"), []byte("xxxx"), 0644)

	usage2, err := sm.Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage1 != usage2 {
		t.Errorf("Cached values differ: %d != %d", usage1, usage2)
	}
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor("/nonexistent/path/12345")
	if _, err := sm.Usage(); err == nil {
		t.Error("Usage() should return error for nonexistent directory")
	}
}
