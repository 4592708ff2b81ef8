package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func initSampleConfig(t *testing.T, path string) {
	t.Helper()
	if err := InitConfig(path, false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
}

func TestInitConfig_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "config.yaml")

	initSampleConfig(t, path)

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read generated config: %v", err)
	}

	// The template should document every top-level section.
	for _, section := range []string{
		"# Docket Configuration File",
		"root:",
		"log:",
		"store:",
		"ingest:",
		"object_store:",
		"ops:",
		"metrics:",
		"telemetry:",
	} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Generated config missing %q", section)
		}
	}
}

func TestInitConfig_RefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	sentinel := []byte("root: /srv/docket\n")
	if err := os.WriteFile(path, sentinel, 0600); err != nil {
		t.Fatalf("Failed to seed config: %v", err)
	}

	err := InitConfig(path, false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}

	// The existing file must be left untouched.
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("Failed to read seeded config: %v", readErr)
	}
	if string(content) != string(sentinel) {
		t.Error("Refused init still modified the existing file")
	}
}

func TestInitConfig_ForceReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("stale: true\n"), 0600); err != nil {
		t.Fatalf("Failed to seed config: %v", err)
	}

	if err := InitConfig(path, true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read regenerated config: %v", err)
	}
	if strings.Contains(string(content), "stale:") {
		t.Error("Force init kept the old file content")
	}
	if !strings.Contains(string(content), "# Docket Configuration File") {
		t.Error("Force init did not write the sample template")
	}
}

func TestInitConfig_GeneratedFileLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	initSampleConfig(t, path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	// The template values must round-trip through Load as the
	// documented defaults.
	if cfg.Log.Level != "INFO" {
		t.Errorf("Log level = %q, want INFO", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log format = %q, want text", cfg.Log.Format)
	}
	if cfg.Store.ShardWidth != 1000 {
		t.Errorf("Shard width = %d, want 1000", cfg.Store.ShardWidth)
	}
	if cfg.Ingest.QueueSize != 1024 {
		t.Errorf("Queue size = %d, want 1024", cfg.Ingest.QueueSize)
	}
	if cfg.Ingest.WorkerMin != 5 || cfg.Ingest.WorkerMax != 1000 {
		t.Errorf("Worker bounds = %d/%d, want 5/1000", cfg.Ingest.WorkerMin, cfg.Ingest.WorkerMax)
	}
	if cfg.ObjectStore.Backend != "local" {
		t.Errorf("Object store backend = %q, want local", cfg.ObjectStore.Backend)
	}
	if cfg.Ops.ListenAddr != "127.0.0.1:7421" {
		t.Errorf("Ops listen addr = %q, want 127.0.0.1:7421", cfg.Ops.ListenAddr)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should default to disabled in the sample config")
	}
}

func TestInitConfig_GeneratesHexSigningKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	initSampleConfig(t, path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	raw, err := hex.DecodeString(cfg.ObjectStore.Local.SigningKey)
	if err != nil {
		t.Fatalf("Signing key is not hex: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("Signing key is %d bytes, want 32", len(raw))
	}
}

func TestInitConfig_SigningKeysAreUnique(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a", "config.yaml")
	second := filepath.Join(dir, "b", "config.yaml")
	initSampleConfig(t, first)
	initSampleConfig(t, second)

	cfgA, err := Load(first)
	if err != nil {
		t.Fatalf("Failed to load first config: %v", err)
	}
	cfgB, err := Load(second)
	if err != nil {
		t.Fatalf("Failed to load second config: %v", err)
	}

	if cfgA.ObjectStore.Local.SigningKey == cfgB.ObjectStore.Local.SigningKey {
		t.Error("Two generated configs share a signing key")
	}
}
