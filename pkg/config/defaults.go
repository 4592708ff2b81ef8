package config

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultRoot is the store root used when none is configured.
const DefaultRoot = "/var/lib/docket"

// ApplyDefaults fills every zero-valued field with its default. It runs
// after the file and environment have been unmarshalled, so anything the
// operator set explicitly survives. Default-true booleans
// (store.verify_on_open, ops.enabled) are defaulted in viper instead,
// because by this point false is indistinguishable from unset.
func ApplyDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}

	applyLogDefaults(&cfg.Log)
	applyStoreDefaults(&cfg.Store)
	applyIngestDefaults(&cfg.Ingest, cfg.Root)
	applyObjectStoreDefaults(&cfg.ObjectStore, cfg.Root)
	applyOpsDefaults(&cfg.Ops)
	applyTelemetryDefaults(&cfg.Telemetry)
}

// applyLogDefaults sets logging defaults and normalizes values.
func applyLogDefaults(cfg *LogConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// The rest of the code matches levels case-sensitively.
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyStoreDefaults sets record store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.ShardWidth == 0 {
		cfg.ShardWidth = 1000
	}
	if cfg.IndexRewriteInterval == 0 {
		cfg.IndexRewriteInterval = 100
	}
	if cfg.WALFsyncInterval == 0 {
		cfg.WALFsyncInterval = 8
	}
	if cfg.CompactionInterval == 0 {
		cfg.CompactionInterval = 10000
	}
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = 5000
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	// VerifyOnOpen defaults to true in viper (see newViper)
}

// applyIngestDefaults sets ingestion pipeline defaults.
// The journal directory defaults to a subdirectory of the store root.
func applyIngestDefaults(cfg *IngestConfig, root string) {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WorkerMin == 0 {
		cfg.WorkerMin = 5
	}
	if cfg.WorkerMax == 0 {
		cfg.WorkerMax = 1000
	}
	if cfg.ScaleInterval == 0 {
		cfg.ScaleInterval = time.Second
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
		}
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = filepath.Join(root, "journal")
	}
}

// applyObjectStoreDefaults sets payload backend defaults.
// The local payload directory defaults to a subdirectory of the store root.
func applyObjectStoreDefaults(cfg *ObjectStoreConfig, root string) {
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}

	if cfg.Local.Dir == "" {
		cfg.Local.Dir = filepath.Join(root, "payloads")
	}
	if cfg.Local.URLTTL == 0 {
		cfg.Local.URLTTL = 15 * time.Minute
	}

	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 3
	}

	if cfg.Hosted.MaxRetries == 0 {
		cfg.Hosted.MaxRetries = 3
	}
}

// applyOpsDefaults sets ops listener defaults.
// Enabled defaults to true in viper (see newViper).
func applyOpsDefaults(cfg *OpsConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7421"
	}
}

// applyTelemetryDefaults points tracing and profiling at their
// conventional local ports. Both stay disabled unless turned on.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4317"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Profiling.ServerAddress == "" {
		cfg.Profiling.ServerAddress = "http://localhost:4040"
	}
}

// GetDefaultConfig builds the configuration a server runs with when no
// file and no environment overrides exist. The default-true booleans are
// seeded here because ApplyDefaults cannot distinguish them from unset.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Root: DefaultRoot,
		Store: StoreConfig{
			VerifyOnOpen: true,
		},
		Ops: OpsConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Insecure: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
