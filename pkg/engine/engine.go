// Package engine composes the record store, object storage backend, task
// journal, ingestion pipeline, and ranker into one runnable service, and
// hosts the operational HTTP listener in front of them.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/pkg/config"
	"github.com/docket-io/docket/pkg/docstore"
	"github.com/docket-io/docket/pkg/ingest"
	"github.com/docket-io/docket/pkg/ingest/journal"
	"github.com/docket-io/docket/pkg/metrics"
	promMetrics "github.com/docket-io/docket/pkg/metrics/prometheus"
	"github.com/docket-io/docket/pkg/objstore"
	"github.com/docket-io/docket/pkg/rank"
)

// Engine owns every component of a running docket instance. Construct it
// with New, run it with Serve, and reach the components through the
// accessors when embedding the engine in another program.
type Engine struct {
	cfg      *config.Config
	store    *docstore.Store
	objects  objstore.Store
	journal  *journal.Journal
	ingestor *ingest.Ingestor
	ranker   *rank.Ranker
	ops      *OpsServer

	startedAt time.Time
	serveOnce sync.Once
	served    bool
}

// New builds an engine from a loaded configuration. The enricher may be
// nil, which skips the enrichment handoff after each ingested record.
//
// Opening the record store takes the store lock, so New fails when another
// process already serves the same root. On any later constructor error the
// components opened so far are closed again before returning.
func New(ctx context.Context, cfg *config.Config, enricher ingest.Enricher) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var (
		storeMetrics  docstore.StoreMetrics
		objMetrics    objstore.Metrics
		ingestMetrics ingest.Metrics
	)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		storeMetrics = promMetrics.NewStoreMetrics()
		objMetrics = promMetrics.NewObjstoreMetrics()
		ingestMetrics = promMetrics.NewIngestMetrics()
	}

	store, err := docstore.Open(ctx, config.StoreOptions(cfg, storeMetrics))
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	objects, err := config.CreateObjectStore(ctx, cfg.ObjectStore, objMetrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	jrnl, err := journal.Open(cfg.Ingest.JournalDir)
	if err != nil {
		_ = objects.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to open task journal: %w", err)
	}

	ingestor, err := ingest.New(config.IngestOptions(cfg, ingestMetrics), store, objects, jrnl, enricher)
	if err != nil {
		_ = jrnl.Close()
		_ = objects.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create ingestor: %w", err)
	}

	eng := &Engine{
		cfg:       cfg,
		store:     store,
		objects:   objects,
		journal:   jrnl,
		ingestor:  ingestor,
		ranker:    rank.New(store),
		startedAt: time.Now(),
	}

	if cfg.Ops.Enabled {
		eng.ops = NewOpsServer(cfg.Ops, eng)
	}

	return eng, nil
}

// Serve starts the ingestion pipeline and the ops listener, then blocks
// until the context is cancelled or the listener fails. It always runs the
// graceful shutdown sequence before returning; a second call is a no-op.
func (e *Engine) Serve(ctx context.Context) error {
	var err error

	e.serveOnce.Do(func() {
		e.served = true
		err = e.serve(ctx)
	})

	return err
}

func (e *Engine) serve(ctx context.Context) error {
	logger.Info("Starting docket engine",
		"root", e.cfg.Root,
		"backend", e.cfg.ObjectStore.Backend)

	// Journal recovery happens inside Start, before workers spin up.
	if err := e.ingestor.Start(ctx); err != nil {
		e.shutdown()
		return fmt.Errorf("failed to start ingestor: %w", err)
	}

	opsErrChan := make(chan error, 1)
	if e.ops != nil {
		go func() {
			if err := e.ops.Start(ctx); err != nil {
				logger.Error("Ops server error", "error", err)
				opsErrChan <- err
			}
		}()
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", ctx.Err())
		shutdownErr = ctx.Err()

	case err := <-opsErrChan:
		logger.Error("Ops server failed - initiating shutdown", "error", err)
		shutdownErr = fmt.Errorf("ops server error: %w", err)
	}

	e.shutdown()

	logger.Info("Docket engine stopped")
	return shutdownErr
}

// shutdown stops the components in dependency order: the pipeline drains
// first so no worker touches a closed store, the store goes last so its
// lock is held until all writers are gone.
func (e *Engine) shutdown() {
	logger.Info("Stopping ingestion pipeline")
	e.ingestor.Stop()

	logger.Debug("Closing task journal")
	if err := e.journal.Close(); err != nil {
		logger.Warn("Error closing task journal", "error", err)
	}

	logger.Debug("Closing object store")
	if err := e.objects.Close(); err != nil {
		logger.Warn("Error closing object store", "error", err)
	}

	logger.Info("Closing record store")
	if err := e.store.Close(); err != nil {
		logger.Warn("Error closing record store", "error", err)
	}

	if e.ops != nil {
		logger.Debug("Stopping ops server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.ops.Stop(ctx); err != nil {
			logger.Error("Ops server shutdown error", "error", err)
		}
	}
}

// Store returns the record store.
func (e *Engine) Store() *docstore.Store {
	return e.store
}

// Objects returns the payload object store.
func (e *Engine) Objects() objstore.Store {
	return e.objects
}

// Ingestor returns the ingestion pipeline.
func (e *Engine) Ingestor() *ingest.Ingestor {
	return e.ingestor
}

// Ranker returns the similarity ranker.
func (e *Engine) Ranker() *rank.Ranker {
	return e.ranker
}

// StartedAt returns the engine construction time.
func (e *Engine) StartedAt() time.Time {
	return e.startedAt
}

// Remove deletes a record and releases its payload and markdown artifact
// from object storage. The record is gone once the store delete returns;
// artifact release is best-effort and a failure only leaves an
// unreferenced object behind, so it is logged rather than surfaced.
func (e *Engine) Remove(ctx context.Context, id string) (*docstore.Record, error) {
	rec, err := e.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	e.releaseArtifacts(ctx, rec)
	return rec, nil
}

// RemoveFolder deletes a folder with docstore.DeleteFolder semantics and
// releases the artifacts of every removed record.
func (e *Engine) RemoveFolder(ctx context.Context, folder string, recursive bool) ([]*docstore.Record, error) {
	recs, err := e.store.DeleteFolder(ctx, folder, recursive)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		e.releaseArtifacts(ctx, rec)
	}
	return recs, nil
}

func (e *Engine) releaseArtifacts(ctx context.Context, rec *docstore.Record) {
	if rec.PayloadRef != "" {
		if err := e.objects.Delete(ctx, rec.PayloadRef); err != nil {
			logger.Warn("Failed to release payload of deleted record",
				"record_id", rec.ID,
				"key", rec.PayloadRef,
				"error", err)
		}
	}
	if rec.MarkdownRef != "" {
		if err := e.objects.Delete(ctx, rec.MarkdownRef); err != nil {
			logger.Warn("Failed to release markdown artifact of deleted record",
				"record_id", rec.ID,
				"key", rec.MarkdownRef,
				"error", err)
		}
	}
}

// StatsSnapshot combines record store and pipeline statistics, as served
// on the ops listener's /v1/stats endpoint.
type StatsSnapshot struct {
	Store  docstore.Stats `json:"store"`
	Ingest ingest.Stats   `json:"ingest"`
}

// Stats returns a point-in-time statistics snapshot.
func (e *Engine) Stats(ctx context.Context) (StatsSnapshot, error) {
	storeStats, err := e.store.Stats(ctx)
	if err != nil {
		return StatsSnapshot{}, err
	}
	return StatsSnapshot{
		Store:  storeStats,
		Ingest: e.ingestor.Stats(),
	}, nil
}
