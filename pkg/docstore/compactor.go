package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/docket-io/docket/internal/logger"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/docstore/index"
	"github.com/docket-io/docket/pkg/docstore/wal"
)

// CompactionStats summarizes one compaction pass.
type CompactionStats struct {
	// Scanned is the number of index entries examined.
	Scanned int `json:"scanned"`

	// DanglingRemoved counts index entries dropped because their shard
	// file no longer exists.
	DanglingRemoved int `json:"dangling_removed"`

	// Demoted counts records rewritten with failed status because their
	// shard file stopped decoding.
	Demoted int `json:"demoted"`

	// OrphansRemoved counts shard files deleted because no index entry
	// references them.
	OrphansRemoved int `json:"orphans_removed"`

	// TempSwept counts interrupted-write leftovers removed.
	TempSwept int `json:"temp_swept"`

	// IndexRewritten reports whether the pass ended with an index rewrite
	// and WAL truncation.
	IndexRewritten bool `json:"index_rewritten"`

	Duration time.Duration `json:"duration"`
}

// Compact runs one maintenance pass: it drops index entries whose shard
// files vanished, demotes records whose files no longer decode to failed
// status, removes shard files nothing references, sweeps interrupted-write
// leftovers, and finishes by rewriting the index and truncating the WAL.
// Passes are serialized; operations keep running while a pass scans and
// are only briefly excluded while it applies repairs.
func (s *Store) Compact(ctx context.Context) (CompactionStats, error) {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	start := time.Now()
	var stats CompactionStats

	ids, err := s.snapshotIDs()
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(ids)

	// Probe without locks. Every suspect is rechecked under the store
	// mutex before any repair, so a record that changes underfoot is
	// simply skipped.
	var dangling, undecodable []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, dserrors.NewCancelledError(err)
		}

		exists, err := s.shards.Exists(id)
		if err != nil {
			return stats, err
		}
		if !exists {
			dangling = append(dangling, id)
			continue
		}
		data, err := s.shards.Read(id)
		if err != nil {
			continue
		}
		if _, err := decodeRecord(s.shards.Path(id), data, id); err != nil {
			undecodable = append(undecodable, id)
		}
	}

	if len(dangling) > 0 || len(undecodable) > 0 {
		removed, demoted, err := s.applyRepairs(ctx, dangling, undecodable)
		stats.DanglingRemoved = removed
		stats.Demoted = demoted
		if err != nil {
			return stats, err
		}
	}

	orphans, err := s.removeOrphans(ctx)
	stats.OrphansRemoved = orphans
	if err != nil {
		return stats, err
	}

	swept, err := s.sweepTemp()
	stats.TempSwept = swept
	if err != nil {
		return stats, err
	}

	if err := s.finishPass(ctx); err != nil {
		return stats, err
	}
	stats.IndexRewritten = true
	stats.Duration = time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordCompaction(stats)
	}
	logger.InfoCtx(ctx, "Compaction pass finished",
		"entries", stats.Scanned,
		"dangling", stats.DanglingRemoved,
		"demoted", stats.Demoted,
		"orphans", stats.OrphansRemoved,
		"temp_swept", stats.TempSwept,
		"duration_ms", float64(stats.Duration.Microseconds())/1000.0)
	return stats, nil
}

func (s *Store) snapshotIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.idx.IDs(), nil
}

// applyRepairs rechecks the probed suspects under the store mutex and
// repairs the ones still broken: dangling entries get a WAL DEL and leave
// the index, undecodable files are rewritten as failed-status stubs built
// from their index entry.
func (s *Store) applyRepairs(ctx context.Context, dangling, undecodable []string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, ErrClosed
	}

	confirmedDangling := make([]string, 0, len(dangling))
	for _, id := range dangling {
		if !s.idx.Has(id) {
			continue
		}
		exists, err := s.shards.Exists(id)
		if err != nil {
			return 0, 0, err
		}
		if !exists {
			confirmedDangling = append(confirmedDangling, id)
		}
	}

	// Stub files are written before the WAL entries so the index never
	// points at content that has not been persisted.
	type demotion struct {
		id   string
		stub *Record
	}
	confirmedDemotions := make([]demotion, 0, len(undecodable))
	for _, id := range undecodable {
		entry, ok := s.idx.Get(id)
		if !ok {
			continue
		}
		data, err := s.shards.Read(id)
		if err != nil {
			continue
		}
		if _, err := decodeRecord(s.shards.Path(id), data, id); err == nil {
			continue
		}

		stub := &Record{
			ID:        id,
			Filename:  entry.Filename,
			Checksum:  entry.Checksum,
			Folder:    entry.Folder,
			Status:    StatusFailed,
			CreatedAt: entry.UpdatedAt,
			UpdatedAt: time.Now().UTC(),
		}
		encoded, err := encodeRecord(stub)
		if err != nil {
			return 0, 0, err
		}
		if err := s.shards.Write(id, encoded); err != nil {
			return 0, 0, err
		}
		confirmedDemotions = append(confirmedDemotions, demotion{id: id, stub: stub})
	}

	if len(confirmedDangling) == 0 && len(confirmedDemotions) == 0 {
		return 0, 0, nil
	}

	removed, demoted := 0, 0
	err := s.withGlobalLock(ctx, func() error {
		for _, id := range confirmedDangling {
			entry, ok := s.idx.Get(id)
			if !ok {
				continue
			}
			if _, err := s.wal.Append(wal.Entry{Op: wal.OpDel, ID: id, Shard: entry.Shard}); err != nil {
				return fmt.Errorf("appending wal entry: %w", err)
			}
			s.idx.Delete(id)
			s.cache.remove(id)
			removed++
			logger.Warn("Dropped index entry with missing shard file", "record_id", id)
		}

		for _, d := range confirmedDemotions {
			coord := s.shards.Coordinate(d.id)
			if _, err := s.wal.Append(wal.Entry{
				Op:          wal.OpPut,
				ID:          d.id,
				Shard:       coord,
				PayloadHash: d.stub.Checksum,
			}); err != nil {
				return fmt.Errorf("appending wal entry: %w", err)
			}
			s.idx.Put(d.id, index.Entry{
				Shard:     coord,
				Filename:  d.stub.Filename,
				Folder:    d.stub.Folder,
				Checksum:  d.stub.Checksum,
				UpdatedAt: d.stub.UpdatedAt,
			})
			s.cache.remove(d.id)
			demoted++
			logger.Warn("Demoted undecodable record to failed status", "record_id", d.id)
		}

		s.totalMutations += uint64(removed + demoted)
		return nil
	})
	return removed, demoted, err
}

// removeOrphans deletes shard files without index entries. The directory
// walk runs lock-free; each candidate is rechecked under the store mutex
// before removal.
func (s *Store) removeOrphans(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, dserrors.NewCancelledError(err)
	}

	files, err := s.shards.List()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	removed := 0
	for _, f := range files {
		if s.idx.Has(f.ID) {
			continue
		}
		if err := s.shards.RemovePath(f.Path); err != nil {
			return removed, err
		}
		s.cache.remove(f.ID)
		removed++
		logger.Warn("Removed orphan shard file", "record_id", f.ID, "path", f.Path)
	}
	return removed, nil
}

func (s *Store) sweepTemp() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	return s.shards.SweepTemp()
}

// finishPass absorbs everything the WAL holds into a fresh index rewrite,
// then truncates the WAL.
func (s *Store) finishPass(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.withGlobalLock(ctx, func() error {
		if err := s.rewriteIndexLocked(); err != nil {
			return err
		}
		return s.wal.Truncate()
	})
}
