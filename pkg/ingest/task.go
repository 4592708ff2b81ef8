// Package ingest implements the concurrent upload pipeline: a bounded task
// queue, an adaptively sized worker pool, and the per-task processor that
// checksums payloads, deduplicates them, persists payload and record, and
// hands off enrichment.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docket-io/docket/pkg/docstore/shard"
)

// TaskStatus represents the lifecycle state of an upload task.
type TaskStatus string

const (
	// TaskPending marks a task waiting in the queue.
	TaskPending TaskStatus = "pending"
	// TaskProcessing marks a task claimed by a worker.
	TaskProcessing TaskStatus = "processing"
	// TaskSucceeded marks a task whose record was created.
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed marks a task that exhausted its retries or hit a
	// non-retryable error.
	TaskFailed TaskStatus = "failed"
	// TaskDuplicate marks a task whose payload already had a record.
	TaskDuplicate TaskStatus = "duplicate"
	// TaskRetrying marks a task waiting out a retry delay.
	TaskRetrying TaskStatus = "retrying"
)

// IsValid checks if the status is a known lifecycle state.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskSucceeded, TaskFailed, TaskDuplicate, TaskRetrying:
		return true
	}
	return false
}

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskDuplicate:
		return true
	}
	return false
}

// PayloadSource provides the payload bytes of an upload task. Open may be
// called more than once: the processor streams the payload once for the
// checksum and again for the object-storage write.
type PayloadSource interface {
	// Open returns a fresh reader over the payload. The caller closes it.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Ref returns a stable reference the journal can persist and resolve
	// after a restart, or "" when the source dies with the process.
	Ref() string
}

// fileSource reads the payload from a file path. Survives restarts.
type fileSource struct {
	path string
}

// FileSource returns a payload source backed by a file path. File sources
// are journal-recoverable: an interrupted task is re-enqueued on startup.
func FileSource(path string) PayloadSource {
	return &fileSource{path: path}
}

func (f *fileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(f.path)
}

func (f *fileSource) Ref() string {
	return "file:" + f.path
}

// bytesSource serves the payload from memory. Not recoverable.
type bytesSource struct {
	data []byte
}

// BytesSource returns a payload source over an in-memory buffer. Tasks with
// in-memory sources cannot be recovered after a crash; the journal marks
// them failed on startup.
func BytesSource(data []byte) PayloadSource {
	return &bytesSource{data: data}
}

func (b *bytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *bytesSource) Ref() string {
	return ""
}

// SourceFromRef resolves a journaled source reference back into a payload
// source, or nil when the reference is empty or unknown.
func SourceFromRef(ref string) PayloadSource {
	if path, ok := strings.CutPrefix(ref, "file:"); ok {
		return FileSource(path)
	}
	return nil
}

// UploadTask is one unit of ingestion work.
type UploadTask struct {
	// ID uniquely identifies the task, assigned at submit.
	ID string

	// Filename is the target record filename.
	Filename string

	// Folder is the target folder path, empty for the root.
	Folder string

	// DeclaredChecksum is the client-declared hex SHA-256 of the payload,
	// empty when the client declared none. A mismatch against the computed
	// checksum fails the task.
	DeclaredChecksum string

	// Source provides the payload bytes.
	Source PayloadSource

	// Attempts counts processing attempts, including the current one.
	Attempts int

	// NextEligibleAt is the earliest time the next attempt may start.
	// Zero means immediately.
	NextEligibleAt time.Time

	// Status is the task's lifecycle state.
	Status TaskStatus

	submittedAt time.Time
}

// TaskInfo is the externally visible snapshot of a task.
type TaskInfo struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	Folder        string     `json:"folder,omitempty"`
	Status        TaskStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	RecordID      string     `json:"record_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// payloadGroup is the number of payload objects per key directory.
const payloadGroup = 1000

// PayloadKey returns the deterministic object-storage key for a record id.
// Payloads are grouped a thousand per directory, mirroring the shard
// layout, so local backends never accumulate millions of files in one
// directory. Non-numeric ids take their position from the same stable hash
// the shard store uses.
func PayloadKey(id string) string {
	lo := shard.Ordinal(id) / payloadGroup * payloadGroup
	return fmt.Sprintf("payloads/%06d-%06d/%s", lo, lo+payloadGroup-1, id)
}
