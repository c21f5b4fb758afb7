package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// BatchConfig holds configuration for batch analysis and chunk processing.
type BatchConfig struct {
	// ChunkThreshold is the row count above which a batch is split into chunk jobs.
	// Batches at or below the threshold are processed inline.
	ChunkThreshold int `yaml:"chunk_threshold"`
	// ChunkSize is the number of rows per chunk job.
	ChunkSize int `yaml:"chunk_size"`
	// RetryLimit is the maximum number of attempts for a failing chunk job.
	RetryLimit int `yaml:"retry_limit"`
	// ChunkTimeoutSeconds is the per-job execution timeout.
	ChunkTimeoutSeconds int `yaml:"chunk_timeout_seconds"`
	// QueueWorkers is the number of concurrent job queue workers.
	QueueWorkers int `yaml:"queue_workers"`
	// DegradedFailureRatio is the row failure ratio at or above which a finished
	// batch is finalized as COMPLETED_WITH_ERRORS even when every chunk completed.
	DegradedFailureRatio float64 `yaml:"degraded_failure_ratio"`
	// KeyColumnCandidates is the ordered list of header names accepted as the
	// business key column of an uploaded file.
	KeyColumnCandidates []string `yaml:"key_column_candidates"`
	// CancelCheckInterval is the number of rows processed between cancellation checks.
	CancelCheckInterval int `yaml:"cancel_check_interval"`
}

// ReconcileConfig holds configuration for the reconciliation phase.
type ReconcileConfig struct {
	// GraceSeconds is the delay before the reconcile job of a chunked batch runs.
	GraceSeconds int `yaml:"grace_seconds"`
	// PollIntervalSeconds is the interval at which the reconciler re-checks chunk completion.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// MaxWaitSeconds is the total time the reconciler waits for chunks before
	// proceeding with a warning.
	MaxWaitSeconds int `yaml:"max_wait_seconds"`
}

// ProgressConfig holds configuration for the in-memory progress cache.
type ProgressConfig struct {
	// ChunkTTLHours is the retention of per-chunk progress entries.
	ChunkTTLHours int `yaml:"chunk_ttl_hours"`
	// SummaryTTLHours is the retention of batch summary entries.
	SummaryTTLHours int `yaml:"summary_ttl_hours"`
	// CacheSize is the maximum number of entries held per cache.
	CacheSize int `yaml:"cache_size"`
}

// ServerConfig holds configuration for the HTTP API server.
type ServerConfig struct {
	// Addr is the listen address (e.g., ":8080").
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// RepositoryDBRef is the name of the DBConnection used by the ingest repository (e.g., "metadata").
	RepositoryDBRef string `yaml:"repository_db_ref"`
	// FileStoreRef is the name of the storage connection uploaded files are archived to.
	FileStoreRef string `yaml:"file_store_ref"`
}

// IngotConfig holds all configuration under the "ingot" top-level key.
type IngotConfig struct {
	// Batch contains chunking and worker configurations.
	Batch BatchConfig `yaml:"batch"`
	// Reconcile contains reconciliation configurations.
	Reconcile ReconcileConfig `yaml:"reconcile"`
	// Progress contains progress cache configurations.
	Progress ProgressConfig `yaml:"progress"`
	// Server contains HTTP server configurations.
	Server ServerConfig `yaml:"server"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Infrastructure contains infrastructure-related configurations.
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// AdaptorConfigs holds configurations for database connections keyed by logical name.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds configurations for storage connections keyed by logical name.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Ingot contains the top-level configuration for the Ingot ingestion pipeline.
	Ingot IngotConfig `yaml:"ingot"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is expected to be set via fx.Supply or fx.Provide.
var GlobalConfig *Config

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Ingot: IngotConfig{
			Batch: BatchConfig{
				ChunkThreshold:       500,
				ChunkSize:            200,
				RetryLimit:           3,
				ChunkTimeoutSeconds:  300,
				QueueWorkers:         8,
				DegradedFailureRatio: 0.5,
				KeyColumnCandidates:  []string{"id", "external_id", "sku", "code", "key"},
				CancelCheckInterval:  50,
			},
			Reconcile: ReconcileConfig{
				GraceSeconds:        120,
				PollIntervalSeconds: 10,
				MaxWaitSeconds:      1800,
			},
			Progress: ProgressConfig{
				ChunkTTLHours:   24,
				SummaryTTLHours: 168,
				CacheSize:       4096,
			},
			Server: ServerConfig{
				Addr: ":8080",
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Infrastructure: InfrastructureConfig{
				RepositoryDBRef: "metadata",
				FileStoreRef:    "uploads",
			},
		},
	}

	// Populated by YAML or by mergeConfig.
	cfg.Ingot.AdaptorConfigs = map[string]interface{}{}
	cfg.Ingot.StorageConfigs = map[string]interface{}{}
	return cfg
}
