package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateObjectStore_Local(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "payloads")

	store, err := CreateObjectStore(context.Background(), ObjectStoreConfig{
		Backend: "local",
		Local:   LocalStoreConfig{Dir: dir},
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create local object store: %v", err)
	}
	defer func() { _ = store.Close() }()

	// The payload directory is created on demand
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Expected payload directory to be created: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("Expected %q to be a directory", dir)
	}
}

func TestCreateObjectStore_LocalRequiresDir(t *testing.T) {
	_, err := CreateObjectStore(context.Background(), ObjectStoreConfig{
		Backend: "local",
	}, nil)
	if err == nil {
		t.Fatal("Expected error for local backend without a directory")
	}
}

func TestCreateObjectStore_Hosted(t *testing.T) {
	store, err := CreateObjectStore(context.Background(), ObjectStoreConfig{
		Backend: "hosted",
		Hosted: HostedStoreConfig{
			Endpoint:   "https://objects.example.com",
			APIKey:     "test-key",
			MaxRetries: 3,
		},
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create hosted object store: %v", err)
	}
	defer func() { _ = store.Close() }()
}

func TestCreateObjectStore_UnknownBackend(t *testing.T) {
	_, err := CreateObjectStore(context.Background(), ObjectStoreConfig{
		Backend: "ftp",
	}, nil)
	if err == nil {
		t.Fatal("Expected error for unknown backend")
	}
}

func TestStoreOptions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Root = "/data/docket"
	cfg.Store.ShardWidth = 100
	cfg.Store.CacheCapacity = 42
	cfg.Store.LockTimeout = 3 * time.Second
	cfg.Store.VerifyOnOpen = false

	opts := StoreOptions(cfg, nil)

	if opts.Root != "/data/docket" {
		t.Errorf("Expected root '/data/docket', got %q", opts.Root)
	}
	if opts.ShardWidth != 100 {
		t.Errorf("Expected shard width 100, got %d", opts.ShardWidth)
	}
	if opts.CacheCapacity != 42 {
		t.Errorf("Expected cache capacity 42, got %d", opts.CacheCapacity)
	}
	if opts.LockTimeout != 3*time.Second {
		t.Errorf("Expected lock timeout 3s, got %v", opts.LockTimeout)
	}
	if opts.VerifyOnOpen {
		t.Error("Expected verify on open to be false")
	}
}

func TestIngestOptions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Ingest.QueueSize = 256
	cfg.Ingest.WorkerMin = 2
	cfg.Ingest.WorkerMax = 16
	cfg.Ingest.RetryDelays = []time.Duration{time.Second}

	opts := IngestOptions(cfg, nil)

	if opts.QueueSize != 256 {
		t.Errorf("Expected queue size 256, got %d", opts.QueueSize)
	}
	if opts.WorkerMin != 2 || opts.WorkerMax != 16 {
		t.Errorf("Expected worker bounds 2..16, got %d..%d", opts.WorkerMin, opts.WorkerMax)
	}
	if len(opts.RetryDelays) != 1 || opts.RetryDelays[0] != time.Second {
		t.Errorf("Expected single 1s retry delay, got %v", opts.RetryDelays)
	}
}
