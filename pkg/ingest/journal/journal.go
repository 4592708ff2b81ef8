// Package journal persists ingestion task state in a BadgerDB database.
// The ingestor writes an entry per task on submit and on every status
// transition and removes it once the task is terminal, so whatever the
// journal holds at startup is interrupted work to recover.
package journal

import (
	"context"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/docket-io/docket/pkg/ingest"
)

// Key layout:
//
//	t:<task-id> -> JSON-encoded ingest.JournalEntry
const prefixTask = "t:"

func keyTask(taskID string) []byte {
	return []byte(prefixTask + taskID)
}

// Journal is a BadgerDB-backed task journal.
type Journal struct {
	db *badgerdb.DB
}

var _ ingest.Journal = (*Journal)(nil)

// Open opens (or creates) the journal database at dir.
func Open(dir string) (*Journal, error) {
	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open task journal at %s: %w", dir, err)
	}

	return &Journal{db: db}, nil
}

// Record upserts the entry for a task.
func (j *Journal) Record(ctx context.Context, entry ingest.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeEntry(&entry)
	if err != nil {
		return err
	}

	return j.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyTask(entry.TaskID), data); err != nil {
			return fmt.Errorf("failed to store journal entry: %w", err)
		}
		return nil
	})
}

// Remove deletes the entry for a task. Removing an absent entry is not an
// error.
func (j *Journal) Remove(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return j.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(keyTask(taskID))
	})
}

// Entries returns every journaled entry.
func (j *Journal) Entries(ctx context.Context) ([]ingest.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []ingest.JournalEntry

	err := j.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTask)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if len(entries)%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				entries = append(entries, *e)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan task journal: %w", err)
	}

	return entries, nil
}

// Healthcheck verifies the journal database can serve a read transaction.
func (j *Journal) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := j.db.View(func(txn *badgerdb.Txn) error {
		return nil
	})
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func encodeEntry(e *ingest.JournalEntry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*ingest.JournalEntry, error) {
	var e ingest.JournalEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode journal entry: %w", err)
	}
	return &e, nil
}
