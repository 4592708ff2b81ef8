package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
root: "` + yamlSafePath(tmpDir) + `/store"

log:
  level: "INFO"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Log.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Log.Format)
	}
	if cfg.Log.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Log.Output)
	}
	if cfg.Store.ShardWidth != 1000 {
		t.Errorf("Expected default shard width 1000, got %d", cfg.Store.ShardWidth)
	}
	if !cfg.Store.VerifyOnOpen {
		t.Error("Expected verify_on_open to default to true")
	}
	if cfg.Ingest.QueueSize != 1024 {
		t.Errorf("Expected default queue size 1024, got %d", cfg.Ingest.QueueSize)
	}
	if cfg.ObjectStore.Backend != "local" {
		t.Errorf("Expected default backend 'local', got %q", cfg.ObjectStore.Backend)
	}
	if !cfg.Ops.Enabled {
		t.Error("Expected ops listener to default to enabled")
	}
	if cfg.Ops.ListenAddr != "127.0.0.1:7421" {
		t.Errorf("Expected default listen addr '127.0.0.1:7421', got %q", cfg.Ops.ListenAddr)
	}
}

func TestLoad_DerivedDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	root := yamlSafePath(tmpDir) + "/store"
	configContent := `
root: "` + root + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	wantJournal := filepath.Join(root, "journal")
	if cfg.Ingest.JournalDir != wantJournal {
		t.Errorf("Expected journal dir %q, got %q", wantJournal, cfg.Ingest.JournalDir)
	}
	wantPayloads := filepath.Join(root, "payloads")
	if cfg.ObjectStore.Local.Dir != wantPayloads {
		t.Errorf("Expected payload dir %q, got %q", wantPayloads, cfg.ObjectStore.Local.Dir)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	// This allows users to run the engine without a config file for quick testing.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}

	// Verify default config is returned
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}

	// Verify default root
	if cfg.Root != DefaultRoot {
		t.Errorf("Expected default root %q, got %q", DefaultRoot, cfg.Root)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	// Write invalid YAML
	configContent := `
log:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Should return error
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
root = "` + yamlSafePath(tmpDir) + `/store"

[log]
level = "WARN"
format = "json"

[store]
shard_width = 100
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Log.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Store.ShardWidth != 100 {
		t.Errorf("Expected shard width 100, got %d", cfg.Store.ShardWidth)
	}
}

func TestLoad_Durations(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
root: "` + yamlSafePath(tmpDir) + `/store"

store:
  lock_timeout: "10s"

ingest:
  scale_interval: "500ms"
  retry_delays: ["100ms", "200ms", "1s"]
  shutdown_grace: "1m"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Store.LockTimeout != 10*time.Second {
		t.Errorf("Expected lock timeout 10s, got %v", cfg.Store.LockTimeout)
	}
	if cfg.Ingest.ScaleInterval != 500*time.Millisecond {
		t.Errorf("Expected scale interval 500ms, got %v", cfg.Ingest.ScaleInterval)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, time.Second}
	if len(cfg.Ingest.RetryDelays) != len(want) {
		t.Fatalf("Expected %d retry delays, got %d", len(want), len(cfg.Ingest.RetryDelays))
	}
	for i, d := range want {
		if cfg.Ingest.RetryDelays[i] != d {
			t.Errorf("Expected retry delay %d to be %v, got %v", i, d, cfg.Ingest.RetryDelays[i])
		}
	}
	if cfg.Ingest.ShutdownGrace != time.Minute {
		t.Errorf("Expected shutdown grace 1m, got %v", cfg.Ingest.ShutdownGrace)
	}
}

func TestLoad_ByteSizes(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
root: "` + yamlSafePath(tmpDir) + `/store"

ingest:
  max_file_size: "500Mi"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got, want := uint64(cfg.Ingest.MaxFileSize), uint64(500*1024*1024); got != want {
		t.Errorf("Expected max file size %d, got %d", want, got)
	}
	if got := IngestOptions(cfg, nil).MaxFileSize; got != 500*1024*1024 {
		t.Errorf("Expected ingest option max file size %d, got %d", 500*1024*1024, got)
	}
}

func TestLoad_ExplicitFalseBooleans(t *testing.T) {
	// verify_on_open and ops.enabled default to true; an explicit false
	// in the config file must survive loading.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
root: "` + yamlSafePath(tmpDir) + `/store"

store:
  verify_on_open: false

ops:
  enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Store.VerifyOnOpen {
		t.Error("Expected explicit verify_on_open=false to be preserved")
	}
	if cfg.Ops.Enabled {
		t.Error("Expected explicit ops.enabled=false to be preserved")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	// Verify all defaults are set
	if cfg.Root != DefaultRoot {
		t.Errorf("Expected default root %q, got %q", DefaultRoot, cfg.Root)
	}
	if cfg.Log.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Log.Format)
	}
	if cfg.Log.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Log.Output)
	}
	if cfg.Store.ShardWidth != 1000 {
		t.Errorf("Expected default shard width 1000, got %d", cfg.Store.ShardWidth)
	}
	if cfg.Ingest.WorkerMin != 5 {
		t.Errorf("Expected default worker min 5, got %d", cfg.Ingest.WorkerMin)
	}
	if cfg.Ingest.WorkerMax != 1000 {
		t.Errorf("Expected default worker max 1000, got %d", cfg.Ingest.WorkerMax)
	}
	if cfg.ObjectStore.Backend != "local" {
		t.Errorf("Expected default backend 'local', got %q", cfg.ObjectStore.Backend)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// Set environment variables
	_ = os.Setenv("DOCKET_LOG_LEVEL", "ERROR")
	_ = os.Setenv("DOCKET_INGEST_QUEUE_SIZE", "4096")
	defer func() {
		_ = os.Unsetenv("DOCKET_LOG_LEVEL")
		_ = os.Unsetenv("DOCKET_INGEST_QUEUE_SIZE")
	}()

	// Create minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
root: "` + yamlSafePath(tmpDir) + `/store"

log:
  level: "INFO"

ingest:
  queue_size: 1024
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Log.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Log.Level)
	}
	if cfg.Ingest.QueueSize != 4096 {
		t.Errorf("Expected queue size 4096 from env var, got %d", cfg.Ingest.QueueSize)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	// Should contain docket and config.yaml
	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	// Should contain docket
	if filepath.Base(dir) != "docket" {
		t.Errorf("Expected directory name 'docket', got %q", filepath.Base(dir))
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Root = filepath.Join(tmpDir, "store")
	cfg.Log.Level = "DEBUG"
	cfg.ObjectStore.Backend = "hosted"
	cfg.ObjectStore.Hosted.Endpoint = "https://objects.example.com"
	cfg.ObjectStore.Hosted.APIKey = "test-key"

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	// Saved file should be readable only by the owner
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Failed to stat config file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected config file mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Log.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG' after round trip, got %q", loaded.Log.Level)
	}
	if loaded.ObjectStore.Backend != "hosted" {
		t.Errorf("Expected backend 'hosted' after round trip, got %q", loaded.ObjectStore.Backend)
	}
	if loaded.ObjectStore.Hosted.Endpoint != "https://objects.example.com" {
		t.Errorf("Expected hosted endpoint after round trip, got %q", loaded.ObjectStore.Hosted.Endpoint)
	}
}
