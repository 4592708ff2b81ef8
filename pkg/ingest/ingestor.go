package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/pkg/docstore"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/objstore"
)

// Journal persists task state across restarts. Entries are written on
// submit and on every status transition and removed when a task reaches a
// terminal state; whatever is left at startup is interrupted work. A nil
// Journal disables durability, tasks then live only in memory.
type Journal interface {
	// Record upserts the entry for a task.
	Record(ctx context.Context, entry JournalEntry) error

	// Remove deletes the entry for a task.
	Remove(ctx context.Context, taskID string) error

	// Entries returns every journaled entry.
	Entries(ctx context.Context) ([]JournalEntry, error)
}

// JournalEntry is the durable state of one task.
type JournalEntry struct {
	TaskID           string     `json:"task_id"`
	Filename         string     `json:"filename"`
	Folder           string     `json:"folder,omitempty"`
	DeclaredChecksum string     `json:"declared_checksum,omitempty"`
	SourceRef        string     `json:"source_ref,omitempty"`
	Status           TaskStatus `json:"status"`
	Attempts         int        `json:"attempts"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Config holds configuration for the ingestor.
type Config struct {
	// QueueSize is the queue high-water mark; submits beyond it fail with
	// QueueFull. Default: 1024.
	QueueSize int

	// WorkerMin and WorkerMax bound the adaptive pool size.
	// Defaults: 5 and 1000.
	WorkerMin int
	WorkerMax int

	// ScaleInterval is how often the pool re-evaluates its size.
	// Default: 1s.
	ScaleInterval time.Duration

	// RetryDelays is the backoff sequence for transient task failures; the
	// k-th retry waits RetryDelays[k-1]. A task that fails transiently
	// after the last delay transitions to failed.
	// Default: [1s, 2s, 4s, 8s].
	RetryDelays []time.Duration

	// ShutdownGrace bounds how long Stop waits for in-flight tasks.
	// Default: 30s.
	ShutdownGrace time.Duration

	// MaxFileSize caps individual payload sizes in bytes. Oversized
	// uploads fail terminally. Zero means unlimited.
	MaxFileSize int64

	// Metrics receives pipeline measurements. Nil disables
	// instrumentation.
	Metrics Metrics
}

// DefaultConfig returns the default ingestor configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		WorkerMin:     5,
		WorkerMax:     1000,
		ScaleInterval: time.Second,
		RetryDelays:   []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		ShutdownGrace: 30 * time.Second,
	}
}

// Stats is a snapshot of pipeline counters, suitable for a stats endpoint.
type Stats struct {
	Pending    int   `json:"pending"`
	Processing int   `json:"processing"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Duplicates int64 `json:"duplicates"`
	Retries    int64 `json:"retries"`
	Workers    int   `json:"workers"`
}

// Ingestor runs the upload pipeline: it accepts tasks, keeps their durable
// journal state, and feeds them through the worker pool to the processor.
type Ingestor struct {
	cfg       Config
	queue     *queue
	processor *Processor
	journal   Journal
	metrics   Metrics

	mu      sync.RWMutex
	tasks   map[string]*TaskInfo
	started bool
	stopped bool

	processing atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
	retries    atomic.Int64

	workers      atomic.Int64
	nextWorkerID atomic.Int64
	quitCh       chan struct{}
	stopCh       chan struct{}
	stoppedCh    chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// New creates an ingestor. journal and enricher may be nil: a nil journal
// turns off crash recovery, a nil enricher skips the handoff step.
func New(cfg Config, store RecordStore, objects objstore.Store, journal Journal, enricher Enricher) (*Ingestor, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WorkerMin <= 0 {
		cfg.WorkerMin = 5
	}
	if cfg.WorkerMax < cfg.WorkerMin {
		cfg.WorkerMax = 1000
	}
	if cfg.ScaleInterval <= 0 {
		cfg.ScaleInterval = time.Second
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultConfig().RetryDelays
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}

	processor := NewProcessor(store, objects, enricher)
	if cfg.MaxFileSize > 0 {
		processor.SetMaxFileSize(cfg.MaxFileSize)
	}

	return &Ingestor{
		cfg:       cfg,
		queue:     newQueue(cfg.QueueSize),
		processor: processor,
		journal:   journal,
		metrics:   cfg.Metrics,
		tasks:     make(map[string]*TaskInfo),
		quitCh:    make(chan struct{}, cfg.WorkerMax),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Start recovers journaled tasks and launches the worker pool. It is a
// no-op when called twice.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started || in.stopped {
		in.mu.Unlock()
		return nil
	}
	in.started = true
	in.mu.Unlock()

	if err := in.recoverJournal(ctx); err != nil {
		return err
	}

	logger.Info("Starting ingestor",
		"queue_size", in.cfg.QueueSize,
		"worker_min", in.cfg.WorkerMin,
		"worker_max", in.cfg.WorkerMax,
		"pending", in.queue.depth())

	for i := 0; i < in.cfg.WorkerMin; i++ {
		in.spawnWorker()
	}

	in.wg.Add(1)
	go in.scaler()

	// Monitor goroutine to close stoppedCh when the pool has fully
	// wound down.
	go func() {
		in.wg.Wait()
		close(in.stoppedCh)
	}()

	return nil
}

// Stop shuts the pipeline down: workers finish their current task within
// the grace period, queued and retrying tasks stay journaled for the next
// startup.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	if !in.started {
		in.stopped = true
		in.mu.Unlock()
		return
	}
	in.stopped = true
	in.mu.Unlock()

	in.stopOnce.Do(func() {
		logger.Info("Stopping ingestor",
			"pending", in.queue.depth(),
			"processing", in.processing.Load())

		close(in.stopCh)

		// Retry timers are cancelled; their tasks stay journaled as
		// retrying and are recovered on the next startup.
		in.timersMu.Lock()
		for id, timer := range in.timers {
			timer.Stop()
			delete(in.timers, id)
		}
		in.timersMu.Unlock()

		select {
		case <-in.stoppedCh:
			logger.Info("Ingestor stopped gracefully")
		case <-time.After(in.cfg.ShutdownGrace):
			logger.Warn("Ingestor stop timed out, abandoning in-flight tasks",
				"processing", in.processing.Load())
		}

		// Queued tasks are dropped from memory only; their journal
		// entries make them recoverable.
		if drained := in.queue.drain(); len(drained) > 0 {
			logger.Info("Left queued tasks for recovery", "count", len(drained))
		}
	})
}

// Submit enqueues one upload task and returns its id. The task fields
// Filename and Source are required; ID, Status, and Attempts are assigned
// here. Fails with QueueFull at the high-water mark.
func (in *Ingestor) Submit(ctx context.Context, task UploadTask) (string, error) {
	ids, err := in.SubmitAll(ctx, []UploadTask{task})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SubmitAll enqueues a batch all-or-nothing: either every task is accepted
// or none is, so a QueueFull rejection never leaves a partial batch.
func (in *Ingestor) SubmitAll(ctx context.Context, batch []UploadTask) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	in.mu.RLock()
	stopped := in.stopped
	in.mu.RUnlock()
	if stopped {
		return nil, fmt.Errorf("ingestor is stopped")
	}

	now := time.Now()
	tasks := make([]*UploadTask, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for i := range batch {
		t := batch[i]
		if t.Source == nil {
			return nil, fmt.Errorf("task %d: payload source is required", i)
		}
		if t.Filename == "" {
			return nil, fmt.Errorf("task %d: filename is required", i)
		}
		folder, err := docstore.NormalizeFolder(t.Folder)
		if err != nil {
			return nil, err
		}

		t.ID = uuid.NewString()
		t.Folder = folder
		t.Status = TaskPending
		t.Attempts = 0
		t.NextEligibleAt = time.Time{}
		t.submittedAt = now

		tasks = append(tasks, &t)
		ids = append(ids, t.ID)
	}

	if err := in.queue.pushAll(tasks); err != nil {
		if in.metrics != nil {
			in.metrics.RecordSubmit(false)
		}
		logger.WarnCtx(ctx, "Submit rejected, queue full",
			"batch", len(batch),
			"pending", in.queue.depth())
		return nil, err
	}

	for _, t := range tasks {
		in.registerTask(t)
		in.journalTask(ctx, t)
		if in.metrics != nil {
			in.metrics.RecordSubmit(true)
		}
	}

	logger.DebugCtx(ctx, "Tasks submitted",
		"count", len(tasks),
		"pending", in.queue.depth())
	return ids, nil
}

// Status returns the snapshot of a task submitted or recovered during this
// run.
func (in *Ingestor) Status(taskID string) (TaskInfo, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()

	info, ok := in.tasks[taskID]
	if !ok {
		return TaskInfo{}, false
	}
	return *info, true
}

// Stats returns a snapshot of the pipeline counters.
func (in *Ingestor) Stats() Stats {
	return Stats{
		Pending:    in.queue.depth(),
		Processing: int(in.processing.Load()),
		Succeeded:  in.succeeded.Load(),
		Failed:     in.failed.Load(),
		Duplicates: in.duplicates.Load(),
		Retries:    in.retries.Load(),
		Workers:    int(in.workers.Load()),
	}
}

// registerTask makes the task visible to Status.
func (in *Ingestor) registerTask(t *UploadTask) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.tasks[t.ID] = &TaskInfo{
		ID:          t.ID,
		Filename:    t.Filename,
		Folder:      t.Folder,
		Status:      t.Status,
		Attempts:    t.Attempts,
		SubmittedAt: t.submittedAt,
	}
}

// updateInfo applies a mutation to the task's visible snapshot.
func (in *Ingestor) updateInfo(taskID string, fn func(*TaskInfo)) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if info, ok := in.tasks[taskID]; ok {
		fn(info)
	}
}

// journalTask upserts the task's journal entry. Journal failures are
// logged, not propagated: they degrade crash recovery, not the pipeline.
func (in *Ingestor) journalTask(ctx context.Context, t *UploadTask) {
	if in.journal == nil {
		return
	}
	err := in.journal.Record(ctx, JournalEntry{
		TaskID:           t.ID,
		Filename:         t.Filename,
		Folder:           t.Folder,
		DeclaredChecksum: t.DeclaredChecksum,
		SourceRef:        t.Source.Ref(),
		Status:           t.Status,
		Attempts:         t.Attempts,
		UpdatedAt:        time.Now(),
	})
	if err != nil {
		logger.WarnCtx(ctx, "Failed to journal task",
			"task_id", t.ID,
			"status", string(t.Status),
			"error", err)
	}
}

// journalRemove drops the task's journal entry once it is terminal.
func (in *Ingestor) journalRemove(ctx context.Context, taskID string) {
	if in.journal == nil {
		return
	}
	if err := in.journal.Remove(ctx, taskID); err != nil {
		logger.WarnCtx(ctx, "Failed to remove journaled task",
			"task_id", taskID,
			"error", err)
	}
}

// recoverJournal re-enqueues interrupted tasks whose payload source
// survived the restart and fails the rest.
func (in *Ingestor) recoverJournal(ctx context.Context) error {
	if in.journal == nil {
		return nil
	}

	entries, err := in.journal.Entries(ctx)
	if err != nil {
		return fmt.Errorf("reading task journal: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var requeued, abandoned int
	now := time.Now()

	for _, e := range entries {
		if e.Status.Terminal() {
			in.journalRemove(ctx, e.TaskID)
			continue
		}

		source := SourceFromRef(e.SourceRef)
		if source == nil {
			// The payload lived in the dead process.
			in.mu.Lock()
			in.tasks[e.TaskID] = &TaskInfo{
				ID:          e.TaskID,
				Filename:    e.Filename,
				Folder:      e.Folder,
				Status:      TaskFailed,
				Attempts:    e.Attempts,
				Error:       "payload source did not survive restart",
				SubmittedAt: now,
				CompletedAt: &now,
			}
			in.mu.Unlock()
			in.failed.Add(1)
			in.journalRemove(ctx, e.TaskID)
			abandoned++
			continue
		}

		t := &UploadTask{
			ID:               e.TaskID,
			Filename:         e.Filename,
			Folder:           e.Folder,
			DeclaredChecksum: e.DeclaredChecksum,
			Source:           source,
			Attempts:         e.Attempts,
			Status:           TaskPending,
			submittedAt:      now,
		}
		if err := in.queue.push(t); err != nil {
			// Queue sized below the journal backlog; keep the entry and
			// let the next startup pick it up.
			logger.Warn("Recovered task does not fit the queue, leaving journaled",
				"task_id", e.TaskID)
			continue
		}
		in.registerTask(t)
		in.journalTask(ctx, t)
		requeued++
	}

	if requeued > 0 || abandoned > 0 {
		logger.Info("Recovered journaled tasks",
			"requeued", requeued,
			"abandoned", abandoned)
	}
	return nil
}

// Ensure the record store satisfies the processor's contract.
var _ RecordStore = (*docstore.Store)(nil)
