package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/docket-io/docket/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full static configuration of the Docket engine:
// store root and record store tuning, ingestion pipeline sizing,
// payload backend selection, logging, metrics, telemetry, and the ops
// HTTP listener.
//
// Values layer as DOCKET_* environment variables over the file (YAML
// or TOML) over defaults; CLI flags sit above all of these where a
// command defines them.
type Config struct {
	// Root is the store root directory. The lock file, global index, WAL,
	// shard directories, and by default the payload directory and task
	// journal all live under this path.
	Root string `json:"root" mapstructure:"root" validate:"required" yaml:"root"`

	// Log controls log output behavior
	Log LogConfig `json:"log" mapstructure:"log" yaml:"log"`

	// Store tunes the record store (sharding, index, WAL, cache, compaction)
	Store StoreConfig `json:"store" mapstructure:"store" yaml:"store"`

	// Ingest sizes the ingestion pipeline (queue, workers, retries)
	Ingest IngestConfig `json:"ingest" mapstructure:"ingest" yaml:"ingest"`

	// ObjectStore selects and configures the payload backend
	ObjectStore ObjectStoreConfig `json:"object_store" mapstructure:"object_store" yaml:"object_store"`

	// Ops configures the operational HTTP listener
	Ops OpsConfig `json:"ops" mapstructure:"ops" yaml:"ops"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics" yaml:"metrics"`

	// Telemetry controls OpenTelemetry tracing and continuous profiling
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry" yaml:"telemetry"`
}

// LogConfig controls logging behavior.
type LogConfig struct {
	// Level is the minimum level emitted: DEBUG, INFO, WARN or ERROR,
	// accepted in either case and normalized to uppercase.
	Level string `json:"level" mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is "text" or "json".
	Format string `json:"format" mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `json:"output" mapstructure:"output" validate:"required" yaml:"output"`
}

// StoreConfig tunes the record store.
type StoreConfig struct {
	// ShardWidth is the number of record ids grouped into one shard
	// directory. Changing it on an existing store is rejected at open.
	// Valid values: 100, 1000, 10000
	// Default: 1000
	ShardWidth int `json:"shard_width" mapstructure:"shard_width" validate:"oneof=100 1000 10000" yaml:"shard_width"`

	// IndexRewriteInterval is the number of index mutations between full
	// index rewrites. Between rewrites mutations are appended to the WAL.
	// Minimum: 100
	// Default: 100
	IndexRewriteInterval int `json:"index_rewrite_interval" mapstructure:"index_rewrite_interval" validate:"min=100" yaml:"index_rewrite_interval"`

	// WALFsyncInterval is the number of WAL appends between fsyncs.
	// 1 fsyncs every append.
	// Default: 8
	WALFsyncInterval int `json:"wal_fsync_interval" mapstructure:"wal_fsync_interval" validate:"min=1" yaml:"wal_fsync_interval"`

	// CompactionInterval is the number of record mutations between
	// automatic compaction passes. 0 disables automatic compaction.
	// Default: 10000
	CompactionInterval int `json:"compaction_interval" mapstructure:"compaction_interval" validate:"min=0" yaml:"compaction_interval"`

	// CacheCapacity is the number of records held by the in-memory LRU.
	// Default: 5000
	CacheCapacity int `json:"cache_capacity" mapstructure:"cache_capacity" validate:"min=1" yaml:"cache_capacity"`

	// LockTimeout bounds how long opening the store waits for the store
	// lock before giving up.
	// Default: 5s
	LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout" validate:"gt=0" yaml:"lock_timeout"`

	// VerifyOnOpen re-checks the index against the shard directories at
	// open and repairs divergence before serving.
	// Default: true (defaulted in viper, see newViper)
	VerifyOnOpen bool `json:"verify_on_open" mapstructure:"verify_on_open" yaml:"verify_on_open"`
}

// IngestConfig sizes the ingestion pipeline.
type IngestConfig struct {
	// QueueSize is the capacity of the pending task queue. Submissions
	// beyond it are rejected, never dropped silently.
	// Default: 1024
	QueueSize int `json:"queue_size" mapstructure:"queue_size" validate:"min=1" yaml:"queue_size"`

	// WorkerMin is the number of workers kept alive when idle.
	// Minimum: 1
	// Default: 5
	WorkerMin int `json:"worker_min" mapstructure:"worker_min" validate:"min=1" yaml:"worker_min"`

	// WorkerMax caps the worker pool under load.
	// Must be >= worker_min.
	// Default: 1000
	WorkerMax int `json:"worker_max" mapstructure:"worker_max" validate:"gtefield=WorkerMin" yaml:"worker_max"`

	// ScaleInterval is how often the pool re-evaluates its size against
	// the queue depth.
	// Default: 1s
	ScaleInterval time.Duration `json:"scale_interval" mapstructure:"scale_interval" validate:"gt=0" yaml:"scale_interval"`

	// RetryDelays is the backoff schedule for transient task failures.
	// A task is attempted at most len(retry_delays)+1 times.
	// Default: [1s, 2s, 4s, 8s]
	RetryDelays []time.Duration `json:"retry_delays" mapstructure:"retry_delays" validate:"min=1,dive,gt=0" yaml:"retry_delays"`

	// ShutdownGrace bounds how long Stop waits for in-flight tasks before
	// abandoning them to the task journal.
	// Default: 30s
	ShutdownGrace time.Duration `json:"shutdown_grace" mapstructure:"shutdown_grace" validate:"gt=0" yaml:"shutdown_grace"`

	// JournalDir is the directory for the crash-recovery task journal.
	// Default: <root>/journal
	JournalDir string `json:"journal_dir,omitempty" mapstructure:"journal_dir" yaml:"journal_dir,omitempty"`

	// MaxFileSize caps individual payload sizes. Accepts human-readable
	// strings like "500Mi" or "1GB". Oversized uploads fail terminally
	// without being retried.
	// Default: 0 (unlimited)
	MaxFileSize bytesize.ByteSize `json:"max_file_size,omitempty" mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`
}

// ObjectStoreConfig selects and configures the payload backend.
type ObjectStoreConfig struct {
	// Backend selects the payload storage implementation.
	// Valid values: local, s3_compatible, hosted
	// Default: local
	Backend string `json:"backend" mapstructure:"backend" validate:"required,oneof=local s3_compatible hosted" yaml:"backend"`

	// Local configures the local-filesystem backend
	Local LocalStoreConfig `json:"local" mapstructure:"local" yaml:"local"`

	// S3 configures the S3-compatible backend
	S3 S3StoreConfig `json:"s3" mapstructure:"s3" yaml:"s3"`

	// Hosted configures the hosted object store backend
	Hosted HostedStoreConfig `json:"hosted" mapstructure:"hosted" yaml:"hosted"`
}

// LocalStoreConfig configures the local-filesystem payload backend.
type LocalStoreConfig struct {
	// Dir is the payload directory.
	// Default: <root>/payloads
	Dir string `json:"dir,omitempty" mapstructure:"dir" yaml:"dir,omitempty"`

	// BaseURL is the externally reachable prefix for signed payload URLs,
	// normally the ops listener. Example: "http://127.0.0.1:7421"
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url" yaml:"base_url,omitempty"`

	// SigningKey is the HMAC secret for signed payload URLs. Signed URLs
	// are unavailable while it is empty.
	SigningKey string `json:"signing_key,omitempty" mapstructure:"signing_key" yaml:"signing_key,omitempty"`

	// URLTTL is the lifetime of signed payload URLs.
	// Default: 15m
	URLTTL time.Duration `json:"url_ttl" mapstructure:"url_ttl" yaml:"url_ttl"`
}

// S3StoreConfig configures the S3-compatible payload backend.
type S3StoreConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible services
	// (MinIO, LocalStack, Ceph RGW). Empty means AWS S3 proper.
	Endpoint string `json:"endpoint,omitempty" mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Region is the bucket region.
	// Default: us-east-1
	Region string `json:"region" mapstructure:"region" yaml:"region"`

	// Bucket is the bucket name. The bucket must already exist.
	Bucket string `json:"bucket" mapstructure:"bucket" yaml:"bucket"`

	// AccessKeyID and SecretAccessKey are static credentials. When both
	// are empty the SDK's default credential chain is used.
	AccessKeyID     string `json:"access_key_id,omitempty" mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses path-style addressing (bucket in the path
	// rather than the host). Required by MinIO and LocalStack.
	ForcePathStyle bool `json:"force_path_style" mapstructure:"force_path_style" yaml:"force_path_style"`

	// MaxRetries is the number of retry attempts for transient errors.
	// Default: 3
	MaxRetries uint `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
}

// HostedStoreConfig configures the hosted object store backend.
type HostedStoreConfig struct {
	// Endpoint is the base URL of the hosted service.
	// Example: "https://objects.example.com"
	Endpoint string `json:"endpoint" mapstructure:"endpoint" yaml:"endpoint"`

	// APIKey is the bearer token for authentication.
	APIKey string `json:"api_key" mapstructure:"api_key" yaml:"api_key"`

	// MaxRetries is the number of retry attempts for transient errors.
	// Default: 3
	MaxRetries uint `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
}

// OpsConfig configures the operational HTTP listener serving health,
// stats, metrics, and locally signed payload URLs.
type OpsConfig struct {
	// Enabled controls whether the ops listener is started.
	// Default: true (defaulted in viper, see newViper)
	Enabled bool `json:"enabled" mapstructure:"enabled" yaml:"enabled"`

	// ListenAddr is the address the ops listener binds to.
	// Default: 127.0.0.1:7421
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr" yaml:"listen_addr"`
}

// MetricsConfig configures Prometheus metrics. Disabled means nothing
// is collected at all, not collected-and-hidden.
type MetricsConfig struct {
	// Enabled turns on collection and the ops listener's /metrics
	// endpoint.
	Enabled bool `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
}

// TelemetryConfig groups OpenTelemetry tracing and continuous
// profiling. Both are opt-in.
type TelemetryConfig struct {
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing" yaml:"tracing"`
	Profiling ProfilingConfig `json:"profiling" mapstructure:"profiling" yaml:"profiling"`
}

// TracingConfig exports spans to an OTLP collector when enabled.
type TracingConfig struct {
	// Enabled turns span export on. Default: false
	Enabled bool `json:"enabled" mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the collector's host:port.
	// Default: localhost:4317
	Endpoint string `json:"endpoint" mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure skips TLS on the collector connection.
	// Default: true
	Insecure bool `json:"insecure" mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept, 0.0 through 1.0.
	// Default: 1.0
	SampleRate float64 `json:"sample_rate" mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// ProfilingConfig streams CPU and memory profiles to a Pyroscope
// server when enabled.
type ProfilingConfig struct {
	// Enabled turns continuous profiling on. Default: false
	Enabled bool `json:"enabled" mapstructure:"enabled" yaml:"enabled"`

	// ServerAddress is the Pyroscope server URL.
	// Default: http://localhost:4040
	ServerAddress string `json:"server_address" mapstructure:"server_address" yaml:"server_address"`
}

// Load reads the configuration file and returns the validated result.
// An explicit path is used as-is (extension selects YAML or TOML); an
// empty path searches the default config directory. DOCKET_* environment
// variables override file values, and ApplyDefaults fills whatever
// remains unset.
//
// A missing file is not an error: defaults alone are a runnable
// configuration, which keeps quick local runs free of setup.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load for CLI entry points: a missing file produces
// instructions pointing at docket init instead of silently falling back
// to defaults.
func MustLoad(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Create it first with:\n"+
				"  docket init --config %s",
				configPath, configPath)
		}
		return nil, fmt.Errorf("no configuration file found at %s\n\n"+
			"Initialize one with:\n"+
			"  docket init\n\n"+
			"or pass --config /path/to/config.yaml",
			configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path as YAML, creating parent
// directories. Mode 0600: the file can carry credentials and signing
// keys.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// newViper builds the viper instance behind Load: DOCKET_ env prefix
// with dots mapped to underscores, the default-true booleans, and the
// file source. Those booleans live here as viper defaults because an
// explicit false in the file is indistinguishable from unset once
// unmarshalled into a struct.
func newViper(configPath string) *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("DOCKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.verify_on_open", true)
	v.SetDefault("ops.enabled", true)
	v.SetDefault("telemetry.tracing.insecure", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return v
	}

	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return v
}

// isNotFound distinguishes "no config file" from real read failures.
// Viper reports a search-path miss with its own error type; an explicit
// path that does not exist surfaces as a PathError.
func isNotFound(err error) bool {
	var viperNotFound viper.ConfigFileNotFoundError
	return errors.As(err, &viperNotFound) || os.IsNotExist(err)
}

// decodeHooks converts the custom config types during unmarshalling:
// duration strings ("30s") via the stock hook, raw numbers into
// durations as nanoseconds, and bytesize strings ("500Mi") through
// TextUnmarshaler. Applies to slice elements too, which is what
// retry_delays needs.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		numericDurationHook(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// numericDurationHook converts bare numbers to time.Duration. YAML
// hands integers over as int or int64 and sometimes as float64; all
// are taken as nanoseconds, matching what a Go marshal of the struct
// produces.
func numericDurationHook() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		}
		return data, nil
	}
}

// getConfigDir resolves the per-user config directory:
// $XDG_CONFIG_HOME/docket, else ~/.config/docket, else "." when no
// home directory can be determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docket")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "docket")
}

// GetConfigDir is getConfigDir for callers outside the package.
func GetConfigDir() string {
	return getConfigDir()
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
