package journal

import (
	"context"
	"testing"
	"time"

	"github.com/docket-io/docket/pkg/ingest"
)

func openJournal(t *testing.T, dir string) *Journal {
	t.Helper()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	return j
}

func entry(id string, status ingest.TaskStatus) ingest.JournalEntry {
	return ingest.JournalEntry{
		TaskID:    id,
		Filename:  id + ".pdf",
		Folder:    "inbox",
		SourceRef: "file:/tmp/" + id,
		Status:    status,
		Attempts:  1,
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestJournal_RecordAndEntries(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, t.TempDir())

	if err := j.Record(ctx, entry("a", ingest.TaskPending)); err != nil {
		t.Fatalf("Record(a) failed: %v", err)
	}
	if err := j.Record(ctx, entry("b", ingest.TaskProcessing)); err != nil {
		t.Fatalf("Record(b) failed: %v", err)
	}

	entries, err := j.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Entries() returned %d, want 2", len(entries))
	}

	byID := make(map[string]ingest.JournalEntry)
	for _, e := range entries {
		byID[e.TaskID] = e
	}
	a, ok := byID["a"]
	if !ok {
		t.Fatal("entry a missing")
	}
	if a.Filename != "a.pdf" || a.Folder != "inbox" || a.SourceRef != "file:/tmp/a" {
		t.Errorf("entry a round-trip mismatch: %+v", a)
	}
	if a.Status != ingest.TaskPending {
		t.Errorf("entry a status = %q, want %q", a.Status, ingest.TaskPending)
	}
}

func TestJournal_RecordUpserts(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, t.TempDir())

	if err := j.Record(ctx, entry("a", ingest.TaskPending)); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}

	updated := entry("a", ingest.TaskRetrying)
	updated.Attempts = 3
	if err := j.Record(ctx, updated); err != nil {
		t.Fatalf("Record() update failed: %v", err)
	}

	entries, err := j.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Entries() returned %d, want 1", len(entries))
	}
	if entries[0].Status != ingest.TaskRetrying || entries[0].Attempts != 3 {
		t.Errorf("upsert not applied: %+v", entries[0])
	}
}

func TestJournal_Remove(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, t.TempDir())

	if err := j.Record(ctx, entry("a", ingest.TaskPending)); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := j.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	// Removing an absent entry is fine.
	if err := j.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() of absent entry failed: %v", err)
	}

	entries, err := j.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Entries() returned %d, want 0", len(entries))
	}
}

func TestJournal_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := j.Record(ctx, entry("survivor", ingest.TaskProcessing)); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened := openJournal(t, dir)
	entries, err := reopened.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "survivor" {
		t.Fatalf("Entries() after reopen = %+v, want the surviving task", entries)
	}
	if entries[0].Status != ingest.TaskProcessing {
		t.Errorf("Status = %q, want %q", entries[0].Status, ingest.TaskProcessing)
	}
}

func TestJournal_Healthcheck(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, t.TempDir())

	if err := j.Healthcheck(ctx); err != nil {
		t.Errorf("Healthcheck() failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := j.Healthcheck(cancelled); err == nil {
		t.Error("Healthcheck() with cancelled context should fail")
	}
}
