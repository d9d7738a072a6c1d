package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid config")

// Sink kinds
const (
	SinkText    = "text"    // istatd lines to stdout
	SinkFile    = "file"    // istatd lines, one file per stream under the store root
	SinkCommand = "command" // istatd lines piped into the import command
	SinkBadger  = "badger"  // bucket records in a badger store
	SinkParquet = "parquet" // one parquet file per stream
)

// Config is the importer configuration file.
type Config struct {
	// Tiers are the target resolutions, finest first.
	Tiers []Tier `yaml:"tiers"`

	// BaseGranularity is the destination's finest bucket width in seconds.
	BaseGranularity int64 `yaml:"base_granularity"`

	// SourceStep overrides the archive step in seconds. 0 reads it from each dump.
	SourceStep int64 `yaml:"source_step"`

	// ArchiveDir holds the archive dumps.
	ArchiveDir string `yaml:"archive_dir"`

	// ArchivePattern turns a counter id into a file name.
	ArchivePattern string `yaml:"archive_pattern"`

	// StoreRoot is the destination stream root.
	StoreRoot string `yaml:"store_root"`

	// Workers bounds the number of counters imported at once.
	Workers int `yaml:"workers"`

	Sink  SinkConfig  `yaml:"sink"`
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// Tier is one target resolution.
type Tier struct {
	Name          string `yaml:"name"`
	Width         int64  `yaml:"width"`
	RetentionDays int64  `yaml:"retention_days"`

	// Strategy is "rollup" or "split".
	Strategy string `yaml:"strategy"`
}

// SinkConfig selects where buckets go.
type SinkConfig struct {
	Kind string `yaml:"kind"`

	// Command is the import tool for the command sink.
	Command string `yaml:"command"`

	// Headers precedes each text sink stream with a "# path" line.
	Headers bool `yaml:"headers"`

	// RequireExisting skips streams whose file does not exist yet.
	RequireExisting bool `yaml:"require_existing"`

	// Compression for the parquet sink: zstd, snappy, none.
	Compression string `yaml:"compression"`
}

// StoreConfig configures the badger bucket store.
type StoreConfig struct {
	Path        string `yaml:"path"`
	InMemory    bool   `yaml:"in_memory"`
	MaxMemoryMB int64  `yaml:"max_memory_mb"`
	BatchSize   int    `yaml:"batch_size"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Tiers: []Tier{
			{Name: "10s", Width: 10, RetentionDays: 11, Strategy: "split"},
			{Name: "5m", Width: 300, RetentionDays: 376, Strategy: "rollup"},
			{Name: "1h", Width: 3600, RetentionDays: 2205, Strategy: "rollup"},
		},
		BaseGranularity: DefaultBaseGranularity,
		ArchiveDir:      ".",
		ArchivePattern:  DefaultArchivePattern,
		StoreRoot:       DefaultStoreRoot,
		Workers:         DefaultWorkers,
		Sink: SinkConfig{
			Kind:            SinkText,
			Command:         DefaultImportCommand,
			RequireExisting: true,
			Compression:     "zstd",
		},
		Store: StoreConfig{
			Path:        "./data",
			MaxMemoryMB: DefaultMaxMemoryMB,
			BatchSize:   DefaultBatchSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from RRDIMPORT_* environment variables.
func (c *Config) ApplyEnv() {
	c.ArchiveDir = getEnv("RRDIMPORT_ARCHIVE_DIR", c.ArchiveDir)
	c.StoreRoot = getEnv("RRDIMPORT_STORE_ROOT", c.StoreRoot)
	c.Store.Path = getEnv("RRDIMPORT_STORE_PATH", c.Store.Path)
	c.Workers = int(getEnvInt64("RRDIMPORT_WORKERS", int64(c.Workers)))
	c.Store.MaxMemoryMB = getEnvInt64("RRDIMPORT_MAX_MEMORY_MB", c.Store.MaxMemoryMB)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("%w: tier without name", ErrInvalidConfig)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfig, t.Name)
		}
		seen[t.Name] = true
		if t.Width <= 0 {
			return fmt.Errorf("%w: tier %q width must be positive", ErrInvalidConfig, t.Name)
		}
		if t.RetentionDays < 0 {
			return fmt.Errorf("%w: tier %q retention must not be negative", ErrInvalidConfig, t.Name)
		}
		switch t.Strategy {
		case "", "rollup", "split":
		default:
			return fmt.Errorf("%w: tier %q unknown strategy %q", ErrInvalidConfig, t.Name, t.Strategy)
		}
	}

	if c.BaseGranularity <= 0 {
		return fmt.Errorf("%w: base_granularity must be positive", ErrInvalidConfig)
	}
	if c.SourceStep < 0 {
		return fmt.Errorf("%w: source_step must not be negative", ErrInvalidConfig)
	}
	if c.ArchivePattern == "" {
		return fmt.Errorf("%w: archive_pattern is empty", ErrInvalidConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}

	switch c.Sink.Kind {
	case SinkText, SinkFile, SinkBadger, SinkParquet:
	case SinkCommand:
		if c.Sink.Command == "" {
			return fmt.Errorf("%w: command sink needs a command", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown sink %q", ErrInvalidConfig, c.Sink.Kind)
	}

	return nil
}

// getEnv gets a string from environment variable or returns default
func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt64 gets an int64 from environment variable or returns default
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := cast.ToInt64E(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
