package config

import (
	"context"
	"fmt"

	"github.com/docket-io/docket/pkg/docstore"
	"github.com/docket-io/docket/pkg/ingest"
	"github.com/docket-io/docket/pkg/objstore"
	objstorefs "github.com/docket-io/docket/pkg/objstore/fs"
	objstorehosted "github.com/docket-io/docket/pkg/objstore/hosted"
	objstores3 "github.com/docket-io/docket/pkg/objstore/s3"
)

// CreateObjectStore creates the payload backend selected by cfg.Backend.
//
// The S3-compatible backend needs a context because its constructor loads
// AWS configuration and may probe the bucket. The other backends ignore
// the context.
func CreateObjectStore(ctx context.Context, cfg ObjectStoreConfig, metrics objstore.Metrics) (objstore.Store, error) {
	switch objstore.Backend(cfg.Backend) {
	case objstore.BackendLocal, "":
		store, err := objstorefs.New(objstorefs.Config{
			Dir:        cfg.Local.Dir,
			BaseURL:    cfg.Local.BaseURL,
			SigningKey: cfg.Local.SigningKey,
			CreateDir:  true,
			Metrics:    metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create local object store: %w", err)
		}
		return store, nil

	case objstore.BackendS3:
		store, err := objstores3.New(ctx, objstores3.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			MaxRetries:      cfg.S3.MaxRetries,
			Metrics:         metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 object store: %w", err)
		}
		return store, nil

	case objstore.BackendHosted:
		store, err := objstorehosted.New(objstorehosted.Config{
			Endpoint:   cfg.Hosted.Endpoint,
			APIKey:     cfg.Hosted.APIKey,
			MaxRetries: cfg.Hosted.MaxRetries,
			Metrics:    metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create hosted object store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown object store backend: %q", cfg.Backend)
	}
}

// StoreOptions converts the configuration into record store options.
func StoreOptions(cfg *Config, metrics docstore.StoreMetrics) docstore.Config {
	return docstore.Config{
		Root:                 cfg.Root,
		ShardWidth:           cfg.Store.ShardWidth,
		IndexRewriteInterval: cfg.Store.IndexRewriteInterval,
		WALFsyncInterval:     cfg.Store.WALFsyncInterval,
		CompactionInterval:   cfg.Store.CompactionInterval,
		CacheCapacity:        cfg.Store.CacheCapacity,
		LockTimeout:          cfg.Store.LockTimeout,
		VerifyOnOpen:         cfg.Store.VerifyOnOpen,
		Metrics:              metrics,
	}
}

// IngestOptions converts the configuration into ingestion pipeline options.
func IngestOptions(cfg *Config, metrics ingest.Metrics) ingest.Config {
	return ingest.Config{
		QueueSize:     cfg.Ingest.QueueSize,
		WorkerMin:     cfg.Ingest.WorkerMin,
		WorkerMax:     cfg.Ingest.WorkerMax,
		ScaleInterval: cfg.Ingest.ScaleInterval,
		RetryDelays:   cfg.Ingest.RetryDelays,
		ShutdownGrace: cfg.Ingest.ShutdownGrace,
		MaxFileSize:   cfg.Ingest.MaxFileSize.Int64(),
		Metrics:       metrics,
	}
}
