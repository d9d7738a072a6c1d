package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Tiers, 3)
	require.Equal(t, int64(10), cfg.Tiers[0].Width)
	require.Equal(t, "split", cfg.Tiers[0].Strategy)
	require.Equal(t, int64(2205), cfg.Tiers[2].RetentionDays)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rrdimport.yaml")
	data := `
archive_dir: /srv/cacti/dumps
workers: 8
tiers:
  - name: 1m
    width: 60
    retention_days: 30
    strategy: split
sink:
  kind: badger
store:
  path: /tmp/buckets
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/cacti/dumps", cfg.ArchiveDir)
	require.Equal(t, 8, cfg.Workers)
	require.Len(t, cfg.Tiers, 1)
	require.Equal(t, "1m", cfg.Tiers[0].Name)
	require.Equal(t, SinkBadger, cfg.Sink.Kind)
	require.Equal(t, "/tmp/buckets", cfg.Store.Path)

	// untouched fields keep their defaults
	require.Equal(t, DefaultArchivePattern, cfg.ArchivePattern)
	require.Equal(t, int64(DefaultBaseGranularity), cfg.BaseGranularity)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sink:\n  kind: carrier-pigeon\n"), 0o644))
	_, err = Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no tiers", func(c *Config) { c.Tiers = nil }},
		{"zero width", func(c *Config) { c.Tiers[0].Width = 0 }},
		{"duplicate tier", func(c *Config) { c.Tiers[1].Name = c.Tiers[0].Name }},
		{"unknown strategy", func(c *Config) { c.Tiers[0].Strategy = "smear" }},
		{"negative retention", func(c *Config) { c.Tiers[0].RetentionDays = -1 }},
		{"zero granularity", func(c *Config) { c.BaseGranularity = 0 }},
		{"negative step", func(c *Config) { c.SourceStep = -300 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"command without tool", func(c *Config) { c.Sink.Kind = SinkCommand; c.Sink.Command = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RRDIMPORT_WORKERS", "16")
	t.Setenv("RRDIMPORT_ARCHIVE_DIR", "/data/rrd")
	t.Setenv("RRDIMPORT_MAX_MEMORY_MB", "not-a-number")

	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, 16, cfg.Workers)
	require.Equal(t, "/data/rrd", cfg.ArchiveDir)
	require.Equal(t, int64(DefaultMaxMemoryMB), cfg.Store.MaxMemoryMB)
}
