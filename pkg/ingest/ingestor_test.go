package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docket-io/docket/pkg/docstore"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/objstore/memory"
)

// testConfig returns a config tuned for fast tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.QueueSize = 64
	cfg.WorkerMin = 2
	cfg.WorkerMax = 8
	cfg.ScaleInterval = 20 * time.Millisecond
	cfg.RetryDelays = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	cfg.ShutdownGrace = 2 * time.Second
	return cfg
}

func newTestIngestor(t *testing.T, mutate ...func(*Config)) (*Ingestor, *docstore.Store, *memory.Store) {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	store := newStore(t)
	objects := memory.New()

	in, err := New(cfg, store, objects, nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(in.Stop)

	return in, store, objects
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// waitTerminal waits until every listed task reaches an end state.
func waitTerminal(t *testing.T, in *Ingestor, ids []string) {
	t.Helper()

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			info, ok := in.Status(id)
			if !ok || !info.Status.Terminal() {
				return false
			}
		}
		return true
	}, "tasks did not reach a terminal state")
}

func TestIngestor_SubmitAndProcess(t *testing.T) {
	ctx := context.Background()
	in, store, objects := newTestIngestor(t)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	id, err := in.Submit(ctx, UploadTask{
		Filename: "report.pdf",
		Source:   BytesSource([]byte("annual report")),
	})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	waitTerminal(t, in, []string{id})

	info, ok := in.Status(id)
	if !ok {
		t.Fatalf("Status(%q) not found", id)
	}
	if info.Status != TaskSucceeded {
		t.Fatalf("Status = %q (error %q), want %q", info.Status, info.Error, TaskSucceeded)
	}
	if info.RecordID == "" {
		t.Fatal("terminal task has no record id")
	}
	if info.CompletedAt == nil {
		t.Error("terminal task has no completion time")
	}

	rec, err := store.Get(ctx, info.RecordID)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", info.RecordID, err)
	}
	if rec.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want %q", rec.Filename, "report.pdf")
	}

	exists, err := objects.Exists(ctx, rec.PayloadRef)
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if !exists {
		t.Error("payload object missing")
	}

	stats := in.Stats()
	if stats.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", stats.Succeeded)
	}
}

func TestIngestor_IdenticalPayloadsCreateOneRecord(t *testing.T) {
	ctx := context.Background()
	in, store, objects := newTestIngestor(t, func(cfg *Config) {
		cfg.WorkerMin = 4
	})

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	payload := []byte("the same bytes five times over")
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := in.Submit(ctx, UploadTask{
			Filename: fmt.Sprintf("copy-%d.pdf", i),
			Source:   BytesSource(payload),
		})
		if err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
		ids = append(ids, id)
	}

	waitTerminal(t, in, ids)

	var succeeded, duplicate int
	recordIDs := make(map[string]bool)
	for _, id := range ids {
		info, _ := in.Status(id)
		switch info.Status {
		case TaskSucceeded:
			succeeded++
		case TaskDuplicate:
			duplicate++
		default:
			t.Errorf("task %s: status = %q (error %q)", id, info.Status, info.Error)
		}
		recordIDs[info.RecordID] = true
	}

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
	if duplicate != 4 {
		t.Errorf("duplicate = %d, want 4", duplicate)
	}
	if len(recordIDs) != 1 {
		t.Errorf("tasks resolved to %d distinct records, want 1", len(recordIDs))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Records != 1 {
		t.Errorf("store records = %d, want 1", stats.Records)
	}
	if objects.ObjectCount() != 1 {
		t.Errorf("ObjectCount() = %d, want 1 (orphaned payloads must be removed)", objects.ObjectCount())
	}
}

func TestIngestor_SubmitValidation(t *testing.T) {
	ctx := context.Background()
	in, _, _ := newTestIngestor(t)

	if _, err := in.Submit(ctx, UploadTask{Filename: "a.pdf"}); err == nil {
		t.Error("Submit() without a source should fail")
	}
	if _, err := in.Submit(ctx, UploadTask{Source: BytesSource(nil)}); err == nil {
		t.Error("Submit() without a filename should fail")
	}
	if _, err := in.Submit(ctx, UploadTask{
		Filename: "a.pdf",
		Folder:   "../escape",
		Source:   BytesSource(nil),
	}); err == nil {
		t.Error("Submit() with a traversing folder should fail")
	}
}

func TestIngestor_QueueFull(t *testing.T) {
	ctx := context.Background()
	in, _, _ := newTestIngestor(t, func(cfg *Config) {
		cfg.QueueSize = 2
	})
	// Not started: nothing drains the queue.

	for i := 0; i < 2; i++ {
		if _, err := in.Submit(ctx, UploadTask{
			Filename: fmt.Sprintf("f%d.pdf", i),
			Source:   BytesSource([]byte{byte(i)}),
		}); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	_, err := in.Submit(ctx, UploadTask{
		Filename: "overflow.pdf",
		Source:   BytesSource([]byte("x")),
	})
	if !dserrors.IsQueueFullError(err) {
		t.Fatalf("Submit() error = %v, want QueueFull", err)
	}
	if dserrors.IsTransient(err) {
		t.Error("QueueFull must not be classified transient")
	}
}

func TestIngestor_SubmitAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	in, _, _ := newTestIngestor(t, func(cfg *Config) {
		cfg.QueueSize = 3
	})

	// Two slots taken, one free.
	for i := 0; i < 2; i++ {
		if _, err := in.Submit(ctx, UploadTask{
			Filename: fmt.Sprintf("f%d.pdf", i),
			Source:   BytesSource([]byte{byte(i)}),
		}); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	batch := []UploadTask{
		{Filename: "b0.pdf", Source: BytesSource([]byte("b0"))},
		{Filename: "b1.pdf", Source: BytesSource([]byte("b1"))},
	}
	ids, err := in.SubmitAll(ctx, batch)
	if !dserrors.IsQueueFullError(err) {
		t.Fatalf("SubmitAll() error = %v, want QueueFull", err)
	}
	if ids != nil {
		t.Errorf("SubmitAll() ids = %v, want nil", ids)
	}
	if depth := in.Stats().Pending; depth != 2 {
		t.Errorf("Pending = %d, want 2 (rejected batch must not land partially)", depth)
	}
}

func TestIngestor_TransientFailureRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	in, store, objects := newTestIngestor(t)

	// First two payload writes fail with a retryable backend error.
	objects.FailNext("put", 2)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	id, err := in.Submit(ctx, UploadTask{
		Filename: "flaky.pdf",
		Source:   BytesSource([]byte("eventually lands")),
	})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	waitTerminal(t, in, []string{id})

	info, _ := in.Status(id)
	if info.Status != TaskSucceeded {
		t.Fatalf("Status = %q (error %q), want %q", info.Status, info.Error, TaskSucceeded)
	}
	if info.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", info.Attempts)
	}

	stats := in.Stats()
	if stats.Retries != 2 {
		t.Errorf("Retries = %d, want 2", stats.Retries)
	}

	if _, err := store.Get(ctx, info.RecordID); err != nil {
		t.Errorf("Get(%q) failed: %v", info.RecordID, err)
	}
}

func TestIngestor_TransientFailureExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	in, _, objects := newTestIngestor(t, func(cfg *Config) {
		cfg.RetryDelays = []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}
	})

	objects.FailNext("put", 100)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	id, err := in.Submit(ctx, UploadTask{
		Filename: "doomed.pdf",
		Source:   BytesSource([]byte("never lands")),
	})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	waitTerminal(t, in, []string{id})

	info, _ := in.Status(id)
	if info.Status != TaskFailed {
		t.Fatalf("Status = %q, want %q", info.Status, TaskFailed)
	}
	if info.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4 (initial try plus one per delay)", info.Attempts)
	}
	if info.Error == "" {
		t.Error("failed task carries no error")
	}

	stats := in.Stats()
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.Retries != 3 {
		t.Errorf("Retries = %d, want 3", stats.Retries)
	}
}

func TestIngestor_ChecksumMismatchFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	in, _, _ := newTestIngestor(t)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	id, err := in.Submit(ctx, UploadTask{
		Filename:         "claimed.pdf",
		DeclaredChecksum: sha256hex([]byte("what the client claimed")),
		Source:           BytesSource([]byte("what actually arrived")),
	})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	waitTerminal(t, in, []string{id})

	info, _ := in.Status(id)
	if info.Status != TaskFailed {
		t.Fatalf("Status = %q, want %q", info.Status, TaskFailed)
	}
	if info.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (mismatch is not retryable)", info.Attempts)
	}
	if in.Stats().Retries != 0 {
		t.Errorf("Retries = %d, want 0", in.Stats().Retries)
	}
}

// ============================================================================
// Pool scaling
// ============================================================================

// countingStore is a minimal thread-safe store for scheduling tests.
type countingStore struct {
	ids     atomic.Int64
	created atomic.Int64
}

func (s *countingStore) FindByChecksum(ctx context.Context, checksum string) (string, error) {
	return "", dserrors.NewNotFoundError(checksum, "checksum")
}

func (s *countingStore) Create(ctx context.Context, rec *docstore.Record, opts docstore.CreateOptions) (*docstore.Record, error) {
	s.created.Add(1)
	return rec, nil
}

func (s *countingStore) NextID() (string, error) {
	return strconv.FormatInt(s.ids.Add(1), 10), nil
}

// gateSource blocks Open until the gate is released.
type gateSource struct {
	data []byte
	gate <-chan struct{}
}

func (g *gateSource) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return BytesSource(g.data).Open(ctx)
}

func (g *gateSource) Ref() string { return "" }

func TestIngestor_ScalesWithBacklog(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.QueueSize = 1500
	cfg.WorkerMin = 2
	cfg.WorkerMax = 50
	cfg.ScaleInterval = 20 * time.Millisecond

	in, err := New(cfg, &countingStore{}, memory.New(), nil, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(in.Stop)

	gate := make(chan struct{})
	released := false
	defer func() {
		if !released {
			close(gate)
		}
	}()

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	batch := make([]UploadTask, 1000)
	for i := range batch {
		batch[i] = UploadTask{
			Filename: fmt.Sprintf("bulk-%d.bin", i),
			Source:   &gateSource{data: []byte(fmt.Sprintf("payload %d", i)), gate: gate},
		}
	}
	ids, err := in.SubmitAll(ctx, batch)
	if err != nil {
		t.Fatalf("SubmitAll() failed: %v", err)
	}

	// A backlog of ~1000 calls for 2 + ceil(10*log10(1000)) = 32 workers.
	waitFor(t, 2*time.Second, func() bool {
		return in.Stats().Workers > 20
	}, "pool did not scale up under backlog")

	close(gate)
	released = true

	waitTerminal(t, in, ids)

	// Drained queue shrinks the pool back to the floor.
	waitFor(t, 2*time.Second, func() bool {
		return in.Stats().Workers == cfg.WorkerMin
	}, "pool did not scale back down after drain")

	if got := in.Stats().Succeeded; got != 1000 {
		t.Errorf("Succeeded = %d, want 1000", got)
	}
}

func TestTargetWorkers(t *testing.T) {
	tests := []struct {
		pending int
		wmin    int
		wmax    int
		want    int
	}{
		{0, 5, 1000, 5},
		{19, 5, 1000, 5},
		{20, 5, 1000, 6},
		{99, 5, 1000, 9},
		{100, 5, 1000, 25},   // 5 + ceil(10*2) = 25
		{999, 5, 1000, 35},   // 5 + ceil(10*2.9996) = 35
		{2000, 5, 1000, 39},  // 5 + ceil(10*3.301) = 39
		{10000, 5, 1000, 65},   // 5 + ceil(15*4) = 65
		{1000000, 5, 1000, 95}, // 5 + ceil(15*6) = 95
		{2000, 5, 20, 20},      // clamped to the ceiling
	}
	for _, tt := range tests {
		if got := targetWorkers(tt.pending, tt.wmin, tt.wmax); got != tt.want {
			t.Errorf("targetWorkers(%d, %d, %d) = %d, want %d",
				tt.pending, tt.wmin, tt.wmax, got, tt.want)
		}
	}
}

// ============================================================================
// Journal and recovery
// ============================================================================

// fakeJournal is an in-memory journal for contract tests.
type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]JournalEntry
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: make(map[string]JournalEntry)}
}

func (j *fakeJournal) Record(ctx context.Context, entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[entry.TaskID] = entry
	return nil
}

func (j *fakeJournal) Remove(ctx context.Context, taskID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, taskID)
	return nil
}

func (j *fakeJournal) Entries(ctx context.Context) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]JournalEntry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	return out, nil
}

func (j *fakeJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func TestIngestor_RecoversJournaledFileTasks(t *testing.T) {
	ctx := context.Background()
	journal := newFakeJournal()
	store := newStore(t)
	objects := memory.New()

	dir := t.TempDir()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("upload-%d.bin", i))
		if err := os.WriteFile(paths[i], []byte(fmt.Sprintf("payload %d", i)), 0o644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	// First life: tasks are journaled but never processed.
	first, err := New(testConfig(), store, objects, journal, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ids := make([]string, 0, len(paths))
	for i, path := range paths {
		id, err := first.Submit(ctx, UploadTask{
			Filename: fmt.Sprintf("doc-%d.pdf", i),
			Source:   FileSource(path),
		})
		if err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
		ids = append(ids, id)
	}
	if journal.len() != 3 {
		t.Fatalf("journal entries = %d, want 3", journal.len())
	}

	// Second life: startup recovery re-enqueues and processes them.
	second, err := New(testConfig(), store, objects, journal, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(second.Stop)

	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	waitTerminal(t, second, ids)

	for _, id := range ids {
		info, _ := second.Status(id)
		if info.Status != TaskSucceeded {
			t.Errorf("task %s: status = %q (error %q), want %q", id, info.Status, info.Error, TaskSucceeded)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Records != 3 {
		t.Errorf("store records = %d, want 3", stats.Records)
	}

	waitFor(t, time.Second, func() bool { return journal.len() == 0 },
		"journal not emptied after recovery completed")
}

func TestIngestor_RecoveryFailsUnresolvableSources(t *testing.T) {
	ctx := context.Background()
	journal := newFakeJournal()

	// An in-memory payload died with the previous process.
	journal.entries["ghost"] = JournalEntry{
		TaskID:    "ghost",
		Filename:  "lost.pdf",
		Status:    TaskProcessing,
		Attempts:  1,
		SourceRef: "",
		UpdatedAt: time.Now(),
	}
	// Terminal leftovers are pruned, not re-run.
	journal.entries["done"] = JournalEntry{
		TaskID:    "done",
		Filename:  "done.pdf",
		Status:    TaskSucceeded,
		UpdatedAt: time.Now(),
	}

	in, err := New(testConfig(), &countingStore{}, memory.New(), journal, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(in.Stop)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	info, ok := in.Status("ghost")
	if !ok {
		t.Fatal("unresolvable task should be visible after recovery")
	}
	if info.Status != TaskFailed {
		t.Errorf("Status = %q, want %q", info.Status, TaskFailed)
	}
	if info.Error == "" {
		t.Error("unresolvable task carries no error")
	}
	if in.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", in.Stats().Failed)
	}

	if _, ok := in.Status("done"); ok {
		t.Error("terminal journal remnant should not become a task")
	}
	if journal.len() != 0 {
		t.Errorf("journal entries = %d, want 0", journal.len())
	}
}

func TestIngestor_StopLeavesQueuedTasksJournaled(t *testing.T) {
	ctx := context.Background()
	journal := newFakeJournal()

	cfg := testConfig()
	cfg.WorkerMin = 1
	cfg.WorkerMax = 1
	cfg.ScaleInterval = time.Hour
	cfg.ShutdownGrace = 50 * time.Millisecond

	in, err := New(cfg, &countingStore{}, memory.New(), journal, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	gate := make(chan struct{})
	defer close(gate)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := in.Submit(ctx, UploadTask{
			Filename: fmt.Sprintf("stuck-%d.pdf", i),
			Source:   &gateSource{data: []byte{byte(i)}, gate: gate},
		}); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	// The lone worker blocks on the gate with one task; three stay queued.
	waitFor(t, time.Second, func() bool {
		return in.Stats().Processing == 1 && in.Stats().Pending == 3
	}, "worker did not claim a task")

	in.Stop()

	// Nothing completed, so every task is still journaled for recovery.
	if journal.len() != 4 {
		t.Errorf("journal entries = %d, want 4", journal.len())
	}
	if in.Stats().Pending != 0 {
		t.Errorf("Pending = %d, want 0 after drain", in.Stats().Pending)
	}
}

func TestIngestor_SubmitAfterStopFails(t *testing.T) {
	ctx := context.Background()
	in, _, _ := newTestIngestor(t)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	in.Stop()

	if _, err := in.Submit(ctx, UploadTask{
		Filename: "late.pdf",
		Source:   BytesSource([]byte("too late")),
	}); err == nil {
		t.Error("Submit() after Stop() should fail")
	}
}

func TestIngestor_StopWithoutStart(t *testing.T) {
	in, _, _ := newTestIngestor(t)
	in.Stop()
	in.Stop()
}

func TestIngestor_DoubleStart(t *testing.T) {
	ctx := context.Background()
	in, _, _ := newTestIngestor(t)

	if err := in.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := in.Start(ctx); err != nil {
		t.Fatalf("second Start() failed: %v", err)
	}
	in.Stop()
}

func TestIngestor_StatusUnknownTask(t *testing.T) {
	in, _, _ := newTestIngestor(t)

	if _, ok := in.Status("no-such-task"); ok {
		t.Error("Status() of an unknown task should report not found")
	}
}
