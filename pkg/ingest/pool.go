package ingest

import (
	"context"
	"math"
	"time"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/internal/telemetry"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// taskTimeout bounds a single processing attempt, including the payload
// upload.
const taskTimeout = 5 * time.Minute

// targetWorkers maps queue depth to a pool size. Small backlogs grow the
// pool linearly, one worker per 20 queued tasks; past 100 the growth is
// logarithmic so a flood of submissions cannot translate into a flood of
// goroutines fighting over the same stores.
func targetWorkers(pending, wmin, wmax int) int {
	var target int
	switch {
	case pending < 100:
		target = wmin + pending/20
	case pending < 10000:
		target = wmin + int(math.Ceil(10*math.Log10(float64(pending))))
	default:
		target = wmin + int(math.Ceil(15*math.Log10(float64(pending))))
	}

	if target < wmin {
		target = wmin
	}
	if target > wmax {
		target = wmax
	}
	return target
}

// worker pulls tasks until it is stopped or retired. The first select
// prefers the queue, so a quit token is only ever consumed by a worker
// with nothing to do; a busy worker keeps draining until it goes idle.
func (in *Ingestor) worker(id int) {
	defer in.wg.Done()
	defer in.workers.Add(-1)

	logger.Debug("Ingest worker started", "worker_id", id)

	for {
		select {
		case <-in.stopCh:
			logger.Debug("Ingest worker stopped", "worker_id", id)
			return
		default:
		}

		select {
		case t := <-in.queue.tasks:
			in.runTask(id, t)
			continue
		default:
		}

		select {
		case t := <-in.queue.tasks:
			in.runTask(id, t)
		case <-in.quitCh:
			logger.Debug("Ingest worker retired", "worker_id", id)
			return
		case <-in.stopCh:
			logger.Debug("Ingest worker stopped", "worker_id", id)
			return
		}
	}
}

// runTask drives one processing attempt and routes the outcome.
func (in *Ingestor) runTask(workerID int, t *UploadTask) {
	t.Attempts++
	t.Status = TaskProcessing

	in.processing.Add(1)
	in.updateInfo(t.ID, func(info *TaskInfo) {
		info.Status = TaskProcessing
		info.Attempts = t.Attempts
		info.NextAttemptAt = nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	ctx, span := telemetry.StartTaskSpan(ctx, "task", t.ID,
		telemetry.TaskFilename(t.Filename),
		telemetry.TaskAttempt(t.Attempts))
	ctx = logger.WithContext(ctx, &logger.LogContext{
		TraceID:   telemetry.TraceID(ctx),
		SpanID:    telemetry.SpanID(ctx),
		Operation: "ingest",
		TaskID:    t.ID,
	})
	in.journalTask(ctx, t)

	logger.DebugCtx(ctx, "Processing task",
		"worker_id", workerID,
		"filename", t.Filename,
		"attempt", t.Attempts)

	outcome, err := in.processor.Process(ctx, t)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	cancel()
	in.processing.Add(-1)

	var status TaskStatus
	switch {
	case err == nil && outcome.Duplicate:
		status = TaskDuplicate
	case err == nil:
		status = TaskSucceeded
	case dserrors.IsTransient(err) && t.Attempts <= len(in.cfg.RetryDelays):
		status = TaskRetrying
	default:
		status = TaskFailed
	}
	span.SetAttributes(telemetry.TaskStatus(string(status)))
	span.End()

	switch status {
	case TaskRetrying:
		in.scheduleRetry(t, err)
	case TaskFailed:
		in.complete(t, TaskFailed, "", err)
	default:
		in.complete(t, status, outcome.RecordID, nil)
	}
}

// complete moves a task into a terminal state: counters, journal cleanup,
// metrics, and the visible snapshot.
func (in *Ingestor) complete(t *UploadTask, status TaskStatus, recordID string, cause error) {
	t.Status = status
	now := time.Now()

	in.updateInfo(t.ID, func(info *TaskInfo) {
		info.Status = status
		info.RecordID = recordID
		info.CompletedAt = &now
		info.NextAttemptAt = nil
		if cause != nil {
			info.Error = cause.Error()
		}
	})

	switch status {
	case TaskSucceeded:
		in.succeeded.Add(1)
	case TaskDuplicate:
		in.duplicates.Add(1)
	case TaskFailed:
		in.failed.Add(1)
	}

	in.journalRemove(context.Background(), t.ID)

	if in.metrics != nil {
		in.metrics.ObserveTask(string(status), time.Since(t.submittedAt))
	}

	switch status {
	case TaskFailed:
		logger.Warn("Task failed",
			"task_id", t.ID,
			"filename", t.Filename,
			"attempts", t.Attempts,
			"error", cause)
	case TaskDuplicate:
		logger.Debug("Task resolved as duplicate",
			"task_id", t.ID,
			"record_id", recordID)
	default:
		logger.Debug("Task succeeded",
			"task_id", t.ID,
			"record_id", recordID)
	}
}

// scheduleRetry parks a transiently failed task until its backoff delay
// elapses, then requeues it. The timer survives in the timers map so Stop
// can cancel it; a cancelled retry stays journaled and is recovered on the
// next startup.
func (in *Ingestor) scheduleRetry(t *UploadTask, cause error) {
	delay := in.cfg.RetryDelays[t.Attempts-1]
	t.Status = TaskRetrying
	t.NextEligibleAt = time.Now().Add(delay)

	in.retries.Add(1)
	if in.metrics != nil {
		in.metrics.RecordRetry()
	}

	next := t.NextEligibleAt
	in.updateInfo(t.ID, func(info *TaskInfo) {
		info.Status = TaskRetrying
		info.Error = cause.Error()
		info.NextAttemptAt = &next
	})
	in.journalTask(context.Background(), t)

	logger.Warn("Task failed transiently, retrying",
		"task_id", t.ID,
		"attempt", t.Attempts,
		"delay", delay,
		"error", cause)

	in.timersMu.Lock()
	in.timers[t.ID] = time.AfterFunc(delay, func() {
		in.timersMu.Lock()
		delete(in.timers, t.ID)
		in.timersMu.Unlock()

		t.Status = TaskPending
		in.updateInfo(t.ID, func(info *TaskInfo) {
			info.Status = TaskPending
			info.NextAttemptAt = nil
		})
		in.journalTask(context.Background(), t)

		if !in.queue.requeue(t, in.stopCh) {
			logger.Debug("Requeue aborted by shutdown", "task_id", t.ID)
		}
	})
	in.timersMu.Unlock()
}

// scaler re-evaluates the pool size every tick.
func (in *Ingestor) scaler() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			in.resize()
		case <-in.stopCh:
			return
		}
	}
}

// resize steers the pool toward the target for the current backlog.
// Scale-down is cooperative: a quit token is issued per surplus worker and
// consumed only by an idle one. Tokens not consumed by the next tick are
// stale (the target has moved) and are reissued from scratch, which also
// keeps the pool from ever retiring below the floor.
func (in *Ingestor) resize() {
	in.drainQuitTokens()

	pending := in.queue.depth()
	current := int(in.workers.Load())
	target := targetWorkers(pending, in.cfg.WorkerMin, in.cfg.WorkerMax)

	if in.metrics != nil {
		in.metrics.SetQueueDepth(pending)
		in.metrics.SetWorkers(current)
	}

	switch {
	case target > current:
		for i := current; i < target; i++ {
			in.spawnWorker()
		}
		logger.Debug("Scaled worker pool up",
			"pending", pending,
			"workers", target)
	case target < current:
		for i := 0; i < current-target; i++ {
			select {
			case in.quitCh <- struct{}{}:
			default:
			}
		}
		logger.Debug("Scaling worker pool down",
			"pending", pending,
			"current", current,
			"target", target)
	}
}

func (in *Ingestor) spawnWorker() {
	id := int(in.nextWorkerID.Add(1))
	in.workers.Add(1)
	in.wg.Add(1)
	go in.worker(id)
}

func (in *Ingestor) drainQuitTokens() {
	for {
		select {
		case <-in.quitCh:
		default:
			return
		}
	}
}
