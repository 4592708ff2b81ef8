package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/docket-io/docket/internal/bufpool"
	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/internal/telemetry"
	"github.com/docket-io/docket/pkg/docstore"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/objstore"
)

// RecordStore is the slice of the record store the processor writes
// through. The docstore.Store satisfies it.
type RecordStore interface {
	// Create persists a new record.
	Create(ctx context.Context, rec *docstore.Record, opts docstore.CreateOptions) (*docstore.Record, error)

	// FindByChecksum returns the id of the oldest record carrying the
	// checksum, or NotFound.
	FindByChecksum(ctx context.Context, checksum string) (string, error)

	// NextID allocates a fresh monotonic record id.
	NextID() (string, error)
}

// Enricher is the publish-only handoff to the external enrichment
// collaborator. A failed handoff leaves the record ready; enrichment can be
// re-requested later.
type Enricher interface {
	EnrichmentRequested(ctx context.Context, recordID, payloadKey string) error
}

// Outcome is the result of one successful processing pass.
type Outcome struct {
	// RecordID is the created record's id, or the existing record's id
	// when the payload was a duplicate.
	RecordID string

	// Duplicate reports whether the payload already had a record.
	Duplicate bool
}

// Processor executes one upload task: checksum, dedup, payload write,
// record write, enrichment handoff. Errors come back classified through the
// store taxonomy; the pool retries the transient ones.
type Processor struct {
	store       RecordStore
	objects     objstore.Store
	enricher    Enricher
	maxFileSize int64
}

// NewProcessor creates a processor. enricher may be nil, in which case the
// handoff step is skipped.
func NewProcessor(store RecordStore, objects objstore.Store, enricher Enricher) *Processor {
	return &Processor{
		store:    store,
		objects:  objects,
		enricher: enricher,
	}
}

// SetMaxFileSize caps payload sizes. Oversized payloads fail the task
// terminally. Zero or negative means unlimited.
func (p *Processor) SetMaxFileSize(limit int64) {
	p.maxFileSize = limit
}

// Process runs the task through the five steps. The returned error is nil
// for both fresh creations and duplicates; the outcome distinguishes them.
func (p *Processor) Process(ctx context.Context, task *UploadTask) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, dserrors.NewCancelledError(err)
	}

	// Step 1: stream the payload through the digest. A read error here is
	// fatal for the task, not retried.
	checksum, size, err := p.digest(ctx, task)
	if err != nil {
		return Outcome{}, err
	}
	telemetry.SetAttributes(ctx, telemetry.Checksum(checksum), telemetry.RecordSize(size))

	if task.DeclaredChecksum != "" && task.DeclaredChecksum != checksum {
		return Outcome{}, dserrors.NewChecksumMismatchError(task.DeclaredChecksum, checksum)
	}

	// Step 2: an existing record with this checksum wins; no new record.
	existingID, err := p.store.FindByChecksum(ctx, checksum)
	if err == nil {
		logger.DebugCtx(ctx, "Payload already stored",
			"record_id", existingID,
			"checksum", checksum)
		return Outcome{RecordID: existingID, Duplicate: true}, nil
	}
	if !dserrors.IsNotFoundError(err) {
		return Outcome{}, err
	}

	// Steps 3 and 4: payload first, record second, so no record ever
	// points at a payload that is not durable. An id collision allocates a
	// fresh id and repeats both steps once.
	id, err := p.store.NextID()
	if err != nil {
		return Outcome{}, err
	}

	for attempt := 0; ; attempt++ {
		key := PayloadKey(id)

		if err := p.putPayload(ctx, task, key, size); err != nil {
			return Outcome{}, err
		}

		created, err := p.store.Create(ctx, &docstore.Record{
			ID:         id,
			Filename:   task.Filename,
			Folder:     task.Folder,
			Checksum:   checksum,
			Size:       size,
			Status:     docstore.StatusReady,
			PayloadRef: key,
		}, docstore.CreateOptions{UniqueChecksum: true})

		if err == nil {
			p.handoff(ctx, created.ID, key)
			return Outcome{RecordID: created.ID}, nil
		}

		// A concurrent task with the same payload won the checksum race
		// between steps 2 and 4. Same answer as step 2, minus the orphan.
		if dserrors.IsChecksumConflictError(err) {
			p.removeOrphan(ctx, key)
			winnerID, findErr := p.store.FindByChecksum(ctx, checksum)
			if findErr != nil {
				return Outcome{}, findErr
			}
			return Outcome{RecordID: winnerID, Duplicate: true}, nil
		}

		if dserrors.IsDuplicateError(err) && attempt == 0 {
			p.removeOrphan(ctx, key)
			id, err = p.store.NextID()
			if err != nil {
				return Outcome{}, err
			}
			continue
		}

		p.removeOrphan(ctx, key)
		return Outcome{}, err
	}
}

// digest streams the payload through SHA-256, returning the hex digest and
// the payload length.
func (p *Processor) digest(ctx context.Context, task *UploadTask) (string, int64, error) {
	rc, err := task.Source.Open(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("opening payload: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if p.maxFileSize > 0 {
		// One extra byte so the size check below can tell "exactly at the
		// limit" from "over it" without reading the whole excess.
		r = io.LimitReader(rc, p.maxFileSize+1)
	}

	h := sha256.New()
	size, err := bufpool.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("reading payload: %w", err)
	}
	if p.maxFileSize > 0 && size > p.maxFileSize {
		return "", 0, fmt.Errorf("payload exceeds maximum size of %d bytes", p.maxFileSize)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// putPayload re-opens the source and writes the payload to object storage.
func (p *Processor) putPayload(ctx context.Context, task *UploadTask, key string, size int64) error {
	rc, err := task.Source.Open(ctx)
	if err != nil {
		return fmt.Errorf("reopening payload: %w", err)
	}
	defer rc.Close()

	return p.objects.Put(ctx, key, rc, size)
}

// removeOrphan best-effort deletes a payload whose record was never
// created. Leftovers are harmless, they just occupy space.
func (p *Processor) removeOrphan(ctx context.Context, key string) {
	if err := p.objects.Delete(ctx, key); err != nil {
		logger.WarnCtx(ctx, "Failed to remove orphaned payload",
			"key", key,
			"error", err)
	}
}

// handoff publishes the new record to the enrichment collaborator. Failure
// is logged, never propagated: the record stays ready and enrichment can be
// re-requested.
func (p *Processor) handoff(ctx context.Context, recordID, key string) {
	if p.enricher == nil {
		return
	}
	if err := p.enricher.EnrichmentRequested(ctx, recordID, key); err != nil {
		logger.WarnCtx(ctx, "Enrichment handoff failed",
			"record_id", recordID,
			"error", err)
	}
}
