package docstore

import (
	"context"

	"github.com/docket-io/docket/internal/logger"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// VerifyReport summarizes a read-only consistency scan.
type VerifyReport struct {
	// Records is the number of index entries examined.
	Records int `json:"records"`

	// MissingFiles lists ids that are indexed but have no shard file.
	MissingFiles []string `json:"missing_files,omitempty"`

	// Undecodable lists ids whose shard file exists but does not decode.
	Undecodable []string `json:"undecodable,omitempty"`

	// Orphans lists ids of shard files no index entry references.
	Orphans []string `json:"orphans,omitempty"`

	// TempFiles counts interrupted-write leftovers.
	TempFiles int `json:"temp_files"`

	// EmbeddingDim is the store-wide embedding dimensionality.
	EmbeddingDim int `json:"embedding_dim"`

	// LastWALSeq is the highest WAL sequence issued so far.
	LastWALSeq uint64 `json:"last_wal_seq"`
}

// Clean reports whether the scan found nothing to repair.
func (r VerifyReport) Clean() bool {
	return len(r.MissingFiles) == 0 && len(r.Undecodable) == 0 &&
		len(r.Orphans) == 0 && r.TempFiles == 0
}

// Verify scans the store for inconsistencies without repairing anything.
// Mutations are excluded for the duration of the scan, so the report is a
// consistent snapshot.
func (s *Store) Verify(ctx context.Context) (VerifyReport, error) {
	if err := ctx.Err(); err != nil {
		return VerifyReport{}, dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return VerifyReport{}, ErrClosed
	}

	report := VerifyReport{
		EmbeddingDim: s.idx.EmbeddingDim(),
		LastWALSeq:   s.wal.LastSeq(),
	}

	ids := s.idx.IDs()
	report.Records = len(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, dserrors.NewCancelledError(err)
		}

		exists, err := s.shards.Exists(id)
		if err != nil {
			return report, err
		}
		if !exists {
			report.MissingFiles = append(report.MissingFiles, id)
			continue
		}
		data, err := s.shards.Read(id)
		if err != nil {
			return report, err
		}
		if _, err := decodeRecord(s.shards.Path(id), data, id); err != nil {
			report.Undecodable = append(report.Undecodable, id)
		}
	}

	files, err := s.shards.List()
	if err != nil {
		return report, err
	}
	for _, f := range files {
		if !s.idx.Has(f.ID) {
			report.Orphans = append(report.Orphans, f.ID)
		}
	}

	temps, err := s.shards.CountTemp()
	if err != nil {
		return report, err
	}
	report.TempFiles = temps

	return report, nil
}

// Recover opens the store in healing mode, runs a full compaction pass,
// and closes it again. WAL entries whose shard files are gone or broken
// are dropped instead of failing recovery, dangling index entries and
// orphan files are removed, and the store is left with a freshly rewritten
// index and an empty WAL. Recover is the repair path for roots that fail
// Open with Inconsistent.
func Recover(ctx context.Context, cfg Config) (CompactionStats, error) {
	s, err := open(ctx, cfg, true)
	if err != nil {
		return CompactionStats{}, err
	}

	stats, compactErr := s.Compact(ctx)
	closeErr := s.Close()
	if compactErr != nil {
		return stats, compactErr
	}
	if closeErr != nil {
		return stats, closeErr
	}

	logger.InfoCtx(ctx, "Store recovered",
		"root", cfg.Root,
		"dangling", stats.DanglingRemoved,
		"demoted", stats.Demoted,
		"orphans", stats.OrphansRemoved)
	return stats, nil
}
