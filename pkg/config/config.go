package config

import "time"

// Resampling defaults
const (
	DefaultBaseGranularity = 10
	DefaultSourceStep      = 300
	SecondsPerDay          = 86400
)

// Importer defaults
const (
	DefaultArchivePattern = "value_%s.xml"
	DefaultStoreRoot      = "/var/db/istatd/store"
	DefaultWorkers        = 4
	DefaultImportCommand  = "istatd_import"
)

// Store defaults
const (
	DefaultMaxMemoryMB = 48
	DefaultBatchSize   = 1000
	BadgerGCInterval   = 10 * time.Minute
	CompactionInterval = 1 * time.Hour
	// CompactionStaleAfter marks compaction unhealthy after three missed runs
	CompactionStaleAfter = 3 * CompactionInterval
)

// Server defaults
const (
	DefaultListen      = ":8080"
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 60 * time.Second
	ShutdownTimeout    = 30 * time.Second
	QueryTimeout       = 30 * time.Second
	StatsTimeout       = 5 * time.Second
	DefaultQueryLimit  = 1000
	MaxQueryLimit      = 10000
	StatusInterval     = 5 * time.Second
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
	MaxRestoreBytes     = 256 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
