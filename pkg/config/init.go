package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// configTemplate is the commented sample configuration written by
// InitConfig. It must stay loadable by Load with the documented
// defaults; init_test.go enforces that.
const configTemplate = `# Docket Configuration File
#
# Every key can be overridden with a DOCKET_* environment variable,
# e.g. DOCKET_LOG_LEVEL=DEBUG or DOCKET_INGEST_QUEUE_SIZE=4096.

# Root directory for the record store. The shard directories, global
# index, write-ahead log, lock file and (by default) the payload and
# journal directories all live underneath it.
root: /var/lib/docket

# Logging
log:
  level: INFO # DEBUG, INFO, WARN, ERROR
  format: text # text or json
  output: stdout # stdout, stderr, or a file path

# Record store tuning
store:
  shard_width: 1000 # records per shard directory (100, 1000 or 10000)
  index_rewrite_interval: 100 # index mutations between full rewrites
  wal_fsync_interval: 8 # WAL appends between fsyncs
  compaction_interval: 10000 # mutations between automatic compactions
  cache_capacity: 5000 # records kept in the in-memory cache
  lock_timeout: 5s # how long Open waits for the store lock
  verify_on_open: true # scan shards against the index on startup

# Ingestion pipeline
ingest:
  queue_size: 1024
  worker_min: 5
  worker_max: 1000
  scale_interval: 1s
  retry_delays: [1s, 2s, 4s, 8s]
  shutdown_grace: 30s
  # max_file_size: 500Mi # reject larger payloads (default: unlimited)
  # journal_dir defaults to <root>/journal
  # journal_dir: /var/lib/docket/journal

# Payload storage backend: local, s3_compatible or hosted
object_store:
  backend: local
  local:
    # dir defaults to <root>/payloads
    # dir: /var/lib/docket/payloads
    base_url: http://127.0.0.1:7421
    signing_key: "%s"
    url_ttl: 15m
  # s3:
  #   endpoint: http://localhost:9000
  #   region: us-east-1
  #   bucket: docket-payloads
  #   access_key_id: minioadmin
  #   secret_access_key: minioadmin
  #   force_path_style: true
  #   max_retries: 3
  # hosted:
  #   endpoint: https://objects.example.com
  #   api_key: your-api-key
  #   max_retries: 3

# Operational HTTP listener (health, stats, metrics, signed payload URLs)
ops:
  enabled: true
  listen_addr: 127.0.0.1:7421

# Prometheus metrics (served on the ops listener at /metrics)
metrics:
  enabled: false

# Tracing and continuous profiling
telemetry:
  tracing:
    enabled: false
    endpoint: localhost:4317
    sample_rate: 1.0
  profiling:
    enabled: false
    server_address: http://localhost:4040
`

// InitConfig writes the commented sample configuration to path,
// creating parent directories as needed. It refuses to overwrite an
// existing file unless force is set.
func InitConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	key, err := generateSigningKey()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600 because the rendered template embeds the signing key.
	content := fmt.Sprintf(configTemplate, key)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateSigningKey returns a fresh random HMAC key for local signed
// payload URLs, hex-encoded.
func generateSigningKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
