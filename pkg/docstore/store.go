package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/internal/telemetry"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/docstore/index"
	"github.com/docket-io/docket/pkg/docstore/lock"
	"github.com/docket-io/docket/pkg/docstore/shard"
	"github.com/docket-io/docket/pkg/docstore/wal"
)

// On-disk names under the store root.
const (
	lockFileName   = "lock"
	indexFileName  = "index.v1"
	walDirName     = "wal"
	shardsDirName  = "shards"
	foldersDirName = "folders"
)

// Defaults for Config fields left at zero.
const (
	DefaultIndexRewriteInterval = 100
	DefaultCompactionInterval   = 10000
	DefaultCacheCapacity        = 5000
	DefaultLockTimeout          = 5 * time.Second
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("docstore: store is closed")

// Config controls a Store. The zero value of each numeric field selects its
// default; negative IndexRewriteInterval, CompactionInterval, or
// CacheCapacity disable interval rewrites, background compaction, and
// caching respectively.
type Config struct {
	// Root is the store directory. Created when absent.
	Root string

	// ShardWidth is the shard bucket size. Must be a power of ten between
	// 100 and 10000.
	ShardWidth int

	// IndexRewriteInterval is the number of mutations between atomic index
	// rewrites. Between rewrites, durability comes from the WAL.
	IndexRewriteInterval int

	// WALFsyncInterval is the number of WAL appends between fsyncs.
	WALFsyncInterval int

	// CompactionInterval is the number of mutations between background
	// compaction passes.
	CompactionInterval int

	// CacheCapacity bounds the decoded-record LRU.
	CacheCapacity int

	// LockTimeout bounds waits for the cross-process store lock.
	LockTimeout time.Duration

	// VerifyOnOpen checks that every indexed record has a shard file
	// before the store starts serving. Missing files fail Open with
	// Inconsistent; use Recover to heal such a store.
	VerifyOnOpen bool

	// Metrics receives store measurements. Nil disables instrumentation.
	Metrics StoreMetrics
}

// DefaultConfig returns the default store configuration for the given root.
func DefaultConfig(root string) Config {
	return Config{
		Root:                 root,
		ShardWidth:           shard.DefaultWidth,
		IndexRewriteInterval: DefaultIndexRewriteInterval,
		WALFsyncInterval:     wal.DefaultFsyncInterval,
		CompactionInterval:   DefaultCompactionInterval,
		CacheCapacity:        DefaultCacheCapacity,
		LockTimeout:          DefaultLockTimeout,
		VerifyOnOpen:         true,
	}
}

func (cfg *Config) normalize() error {
	if cfg.Root == "" {
		return fmt.Errorf("store root must not be empty")
	}
	if cfg.ShardWidth == 0 {
		cfg.ShardWidth = shard.DefaultWidth
	}
	if cfg.IndexRewriteInterval == 0 {
		cfg.IndexRewriteInterval = DefaultIndexRewriteInterval
	}
	if cfg.WALFsyncInterval == 0 {
		cfg.WALFsyncInterval = wal.DefaultFsyncInterval
	}
	if cfg.CompactionInterval == 0 {
		cfg.CompactionInterval = DefaultCompactionInterval
	}
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	return nil
}

// CreateOptions adjust Create behavior.
type CreateOptions struct {
	// UniqueChecksum rejects the create with ChecksumConflict when another
	// record already carries the same checksum. Checksum uniqueness is
	// advisory: pre-existing duplicates are tolerated, only new ones are
	// refused.
	UniqueChecksum bool
}

// Stats is a point-in-time snapshot of store internals.
type Stats struct {
	Records       int    `json:"records"`
	Folders       int    `json:"folders"`
	CacheEntries  int    `json:"cache_entries"`
	CacheCapacity int    `json:"cache_capacity"`
	LastWALSeq    uint64 `json:"last_wal_seq"`
	EmbeddingDim  int    `json:"embedding_dim"`
	Mutations     uint64 `json:"mutations"`
}

// Store is the durable record store. All public methods are safe for
// concurrent use.
//
// Lock ordering is fixed: the store mutex is always taken before the
// cross-process file lock, and the file lock is held only around WAL
// appends and index rewrites, never across shard or object-storage I/O.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	root   string
	closed bool

	shards  *shard.Store
	wal     *wal.Log
	idx     *index.Index
	cache   *recordCache
	folders *folderRegistry
	metrics StoreMetrics

	sinceRewrite    int
	sinceCompaction int
	totalMutations  uint64

	// compactMu serializes compaction passes without blocking operations.
	compactMu sync.Mutex

	compactCh chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// Open opens or creates the store rooted at cfg.Root, recovering any WAL
// entries the index has not absorbed. If cfg.VerifyOnOpen is set and an
// indexed record has no shard file, Open fails with Inconsistent and the
// store refuses to serve; Recover repairs such roots.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	return open(ctx, cfg, false)
}

// open performs startup recovery. In healing mode (used by Recover and the
// compactor's replay) WAL entries whose shard files are missing or
// undecodable are skipped instead of failing recovery.
func open(ctx context.Context, cfg Config, healing bool) (*Store, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}

	shards, err := shard.New(filepath.Join(cfg.Root, shardsDirName), cfg.ShardWidth)
	if err != nil {
		return nil, err
	}
	folders, err := newFolderRegistry(filepath.Join(cfg.Root, foldersDirName))
	if err != nil {
		return nil, err
	}

	// The recovery lock spans index load, replay, and verification so two
	// processes can never recover the same root concurrently.
	recoveryLock, err := lock.Acquire(ctx, filepath.Join(cfg.Root, lockFileName), cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := recoveryLock.Close(); closeErr != nil {
			logger.Warn("Releasing recovery lock failed", "path", recoveryLock.Path(), "error", closeErr)
		}
	}()

	idx, err := index.Load(filepath.Join(cfg.Root, indexFileName))
	if err != nil {
		return nil, err
	}

	wl, err := wal.Open(wal.Config{
		Dir:           filepath.Join(cfg.Root, walDirName),
		FsyncInterval: cfg.WALFsyncInterval,
		FloorSeq:      idx.LastWALSeq(),
	})
	if err != nil {
		return nil, err
	}

	replayed, err := replayWAL(ctx, wl, idx, shards, healing)
	if err != nil {
		_ = wl.Close()
		return nil, err
	}

	if wl.LastSeq() > 0 {
		if replayed > 0 || idx.Dirty() > 0 {
			idx.SetLastWALSeq(wl.LastSeq())
			if err := idx.Save(); err != nil {
				_ = wl.Close()
				return nil, fmt.Errorf("saving index after replay: %w", err)
			}
		}
		if err := wl.Truncate(); err != nil {
			_ = wl.Close()
			return nil, err
		}
	}

	if cfg.VerifyOnOpen && !healing {
		if err := verifyShardFiles(idx, shards); err != nil {
			_ = wl.Close()
			return nil, err
		}
	}

	s := &Store{
		cfg:       cfg,
		root:      cfg.Root,
		shards:    shards,
		wal:       wl,
		idx:       idx,
		cache:     newRecordCache(cfg.CacheCapacity),
		folders:   folders,
		metrics:   cfg.Metrics,
		compactCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go s.compactionLoop()

	logger.Info("Store opened",
		"root", s.root,
		"entries", idx.Len(),
		"replayed", replayed,
		"wal_seq", wl.LastSeq())
	return s, nil
}

// replayWAL re-applies every WAL entry newer than the index's last absorbed
// sequence. PUT entries are rebuilt from the shard file, so the index ends
// up with the full entry even though the log records only the mutation.
func replayWAL(ctx context.Context, wl *wal.Log, idx *index.Index, shards *shard.Store, healing bool) (int, error) {
	replayed := 0
	err := wl.Replay(idx.LastWALSeq()+1, func(e wal.Entry) error {
		if err := ctx.Err(); err != nil {
			return dserrors.NewCancelledError(err)
		}

		switch e.Op {
		case wal.OpDel:
			idx.Delete(e.ID)
		case wal.OpPut:
			data, err := shards.Read(e.ID)
			if err != nil {
				if dserrors.IsNotFoundError(err) {
					if healing {
						return nil
					}
					return dserrors.NewInconsistentError(fmt.Sprintf(
						"wal seq %d references record %s with no shard file", e.Seq, e.ID))
				}
				return err
			}
			rec, err := decodeRecord(shards.Path(e.ID), data, e.ID)
			if err != nil {
				if healing {
					return nil
				}
				return dserrors.NewInconsistentError(fmt.Sprintf(
					"wal seq %d references record %s whose shard file does not decode: %v", e.Seq, e.ID, err))
			}
			idx.Put(e.ID, index.Entry{
				Shard:     e.Shard,
				Filename:  rec.Filename,
				Folder:    rec.Folder,
				Checksum:  rec.Checksum,
				UpdatedAt: rec.UpdatedAt,
			})
			if len(rec.Embedding) > 0 {
				if err := idx.SetEmbeddingDim(len(rec.Embedding)); err != nil && !healing {
					return dserrors.NewInconsistentError(err.Error())
				}
			}
		default:
			return dserrors.NewCorruptError("", fmt.Sprintf("wal seq %d has unknown op %q", e.Seq, e.Op))
		}
		replayed++
		return nil
	})
	return replayed, err
}

// verifyShardFiles asserts that every indexed record has a shard file.
func verifyShardFiles(idx *index.Index, shards *shard.Store) error {
	for _, id := range idx.IDs() {
		exists, err := shards.Exists(id)
		if err != nil {
			return err
		}
		if !exists {
			return dserrors.NewInconsistentError(fmt.Sprintf(
				"record %s is indexed but its shard file is missing", id))
		}
	}
	return nil
}

// ============================================================================
// Public API
// ============================================================================

// Create inserts a new record. A record with an empty id gets a freshly
// allocated monotonic id; a caller-supplied id that already exists fails
// with Duplicate. With opts.UniqueChecksum set, a checksum already present
// in the store fails with ChecksumConflict. Timestamps are assigned by the
// store. The returned record is the caller's copy.
func (s *Store) Create(ctx context.Context, rec *Record, opts CreateOptions) (*Record, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "create", "")
	defer span.End()

	start := time.Now()
	created, err := s.create(ctx, rec, opts)
	s.observe("create", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	} else {
		span.SetAttributes(telemetry.RecordID(created.ID), telemetry.Folder(created.Folder))
	}
	return created, err
}

func (s *Store) create(ctx context.Context, rec *Record, opts CreateOptions) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("record must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}

	folder, err := NormalizeFolder(rec.Folder)
	if err != nil {
		return nil, err
	}
	if rec.Size < 0 {
		return nil, fmt.Errorf("record size must not be negative, got %d", rec.Size)
	}

	stamped := rec.Clone()
	stamped.Folder = folder
	if stamped.Status == "" {
		stamped.Status = StatusReady
	}
	if !stamped.Status.IsValid() {
		return nil, fmt.Errorf("unknown record status %q", stamped.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if stamped.ID == "" {
		stamped.ID = s.idx.AllocateID()
	} else if s.idx.Has(stamped.ID) {
		return nil, dserrors.NewDuplicateError(stamped.ID)
	}

	if opts.UniqueChecksum && stamped.Checksum != "" {
		if existingID, ok := s.idx.ByChecksum(stamped.Checksum); ok {
			return nil, dserrors.NewChecksumConflictError(stamped.Checksum, existingID)
		}
	}

	if len(stamped.Embedding) > 0 {
		if dim := s.idx.EmbeddingDim(); dim > 0 && len(stamped.Embedding) != dim {
			return nil, fmt.Errorf("embedding has %d dimensions, store is fixed at %d", len(stamped.Embedding), dim)
		}
	}

	now := time.Now().UTC()
	stamped.CreatedAt = now
	stamped.UpdatedAt = now

	data, err := encodeRecord(stamped)
	if err != nil {
		return nil, err
	}
	if err := s.shards.Write(stamped.ID, data); err != nil {
		return nil, err
	}

	coord := s.shards.Coordinate(stamped.ID)
	err = s.withGlobalLock(ctx, func() error {
		seq, err := s.wal.Append(wal.Entry{
			Op:          wal.OpPut,
			ID:          stamped.ID,
			Shard:       coord,
			PayloadHash: stamped.Checksum,
		})
		if err != nil {
			return fmt.Errorf("appending wal entry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.RecordWALAppend(seq)
		}

		s.idx.Put(stamped.ID, index.Entry{
			Shard:     coord,
			Filename:  stamped.Filename,
			Folder:    stamped.Folder,
			Checksum:  stamped.Checksum,
			UpdatedAt: stamped.UpdatedAt,
		})
		if len(stamped.Embedding) > 0 {
			if err := s.idx.SetEmbeddingDim(len(stamped.Embedding)); err != nil {
				return err
			}
		}
		s.afterMutationsLocked(1)
		return nil
	})
	if err != nil {
		// The commit did not happen, so the freshly written shard file
		// would be an orphan. Remove it rather than leaving work for the
		// compactor.
		_ = s.shards.Remove(stamped.ID)
		return nil, err
	}

	s.cachePut(stamped)
	logger.DebugCtx(ctx, "Record created",
		"record_id", stamped.ID,
		"folder", stamped.Folder,
		"checksum", stamped.Checksum,
		"status", string(stamped.Status))
	return stamped, nil
}

// Get returns the record for id, or NotFound. A record whose shard file is
// missing or undecodable fails with Corrupt; the entry stays in the index
// until the compactor decides its fate.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	start := time.Now()
	rec, err := s.get(ctx, id)
	s.observe("get", start, err)
	return rec, err
}

func (s *Store) get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.loadRecordLocked(id)
}

// Update applies a partial patch to the record's mutable fields. An empty
// patch is a no-op returning the current record. The update is atomic per
// record; the returned record is the updated copy.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*Record, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "update", id)
	defer span.End()

	start := time.Now()
	rec, err := s.update(ctx, id, patch)
	s.observe("update", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	} else {
		span.SetAttributes(telemetry.RecordStatus(string(rec.Status)))
	}
	return rec, err
}

func (s *Store) update(ctx context.Context, id string, patch Patch) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	if patch.IsZero() {
		return s.get(ctx, id)
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		return nil, fmt.Errorf("unknown record status %q", *patch.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	current, err := s.loadRecordLocked(id)
	if err != nil {
		return nil, err
	}

	if patch.Embedding != nil && len(*patch.Embedding) > 0 {
		if dim := s.idx.EmbeddingDim(); dim > 0 && len(*patch.Embedding) != dim {
			return nil, fmt.Errorf("embedding has %d dimensions, store is fixed at %d", len(*patch.Embedding), dim)
		}
	}

	updated := current.Clone()
	applyPatch(updated, patch)
	updated.UpdatedAt = time.Now().UTC()

	data, err := encodeRecord(updated)
	if err != nil {
		return nil, err
	}
	if err := s.shards.Write(id, data); err != nil {
		return nil, err
	}

	coord := s.shards.Coordinate(id)
	err = s.withGlobalLock(ctx, func() error {
		seq, err := s.wal.Append(wal.Entry{
			Op:          wal.OpPut,
			ID:          id,
			Shard:       coord,
			PayloadHash: updated.Checksum,
		})
		if err != nil {
			return fmt.Errorf("appending wal entry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.RecordWALAppend(seq)
		}

		s.idx.Put(id, index.Entry{
			Shard:     coord,
			Filename:  updated.Filename,
			Folder:    updated.Folder,
			Checksum:  updated.Checksum,
			UpdatedAt: updated.UpdatedAt,
		})
		if len(updated.Embedding) > 0 {
			if err := s.idx.SetEmbeddingDim(len(updated.Embedding)); err != nil {
				return err
			}
		}
		s.afterMutationsLocked(1)
		return nil
	})
	if err != nil {
		// The shard file already holds the newer version while the index
		// holds the older entry. Both decode, so replay or the next
		// compaction reconciles; nothing to roll back.
		return nil, err
	}

	s.cachePut(updated)
	logger.DebugCtx(ctx, "Record updated", "record_id", id, "status", string(updated.Status))
	return updated, nil
}

// Delete removes the record, its shard file, and its index references, and
// returns the removed record so callers can release dependent artifacts.
// Deleting an absent id fails with a benign NotFound and no side effects.
func (s *Store) Delete(ctx context.Context, id string) (*Record, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "delete", id)
	defer span.End()

	start := time.Now()
	rec, err := s.deleteOne(ctx, id)
	s.observe("delete", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return rec, err
}

func (s *Store) deleteOne(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if !s.idx.Has(id) {
		return nil, dserrors.NewNotFoundError(id, "record")
	}

	var deleted *Record
	err := s.withGlobalLock(ctx, func() error {
		var err error
		deleted, err = s.deleteOneLocked(id)
		if err != nil {
			return err
		}
		s.afterMutationsLocked(1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.DebugCtx(ctx, "Record deleted", "record_id", id)
	return deleted, nil
}

// deleteOneLocked removes one record. The caller holds the store mutex and
// the global lock. Index retirement precedes file removal, matching WAL
// order; a file that survives its index entry is swept by compaction.
func (s *Store) deleteOneLocked(id string) (*Record, error) {
	entry, ok := s.idx.Get(id)
	if !ok {
		return nil, dserrors.NewNotFoundError(id, "record")
	}

	deleted := s.snapshotForDeleteLocked(id, entry)

	seq, err := s.wal.Append(wal.Entry{Op: wal.OpDel, ID: id, Shard: entry.Shard})
	if err != nil {
		return nil, fmt.Errorf("appending wal entry: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordWALAppend(seq)
	}

	s.idx.Delete(id)
	if err := s.shards.Remove(id); err != nil {
		logger.Warn("Removing shard file failed, compaction will sweep it",
			"record_id", id, "error", err)
	}
	s.cache.remove(id)
	return deleted, nil
}

// snapshotForDeleteLocked captures the record about to be deleted. When the
// shard file no longer decodes, a failed-status stub built from the index
// entry is returned instead so the caller still learns what went away.
func (s *Store) snapshotForDeleteLocked(id string, entry index.Entry) *Record {
	rec, err := s.loadRecordLocked(id)
	if err == nil {
		return rec
	}
	return &Record{
		ID:        id,
		Filename:  entry.Filename,
		Checksum:  entry.Checksum,
		Folder:    entry.Folder,
		Status:    StatusFailed,
		UpdatedAt: entry.UpdatedAt,
	}
}

// List returns the ids whose folder equals path, or equals-or-descends from
// path when recursive is set, in insertion order.
func (s *Store) List(ctx context.Context, folder string, recursive bool) ([]string, error) {
	start := time.Now()
	ids, err := s.list(ctx, folder, recursive)
	s.observe("list", start, err)
	return ids, err
}

func (s *Store) list(ctx context.Context, folder string, recursive bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	normalized, err := NormalizeFolder(folder)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.idx.ByFolder(normalized, recursive), nil
}

// FindByChecksum returns the id of the oldest record carrying the checksum,
// or NotFound.
func (s *Store) FindByChecksum(ctx context.Context, checksum string) (string, error) {
	start := time.Now()
	id, err := s.findByChecksum(ctx, checksum)
	s.observe("find_by_checksum", start, err)
	return id, err
}

func (s *Store) findByChecksum(ctx context.Context, checksum string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrClosed
	}
	id, ok := s.idx.ByChecksum(checksum)
	if !ok {
		return "", dserrors.NewNotFoundError(checksum, "checksum")
	}
	return id, nil
}

// CreateFolder records an explicit, possibly empty folder. Creating an
// existing folder is a no-op; the root always exists.
func (s *Store) CreateFolder(ctx context.Context, folder string) error {
	start := time.Now()
	err := s.createFolder(ctx, folder)
	s.observe("create_folder", start, err)
	return err
}

func (s *Store) createFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	normalized, err := NormalizeFolder(folder)
	if err != nil {
		return err
	}
	if normalized == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.folders.create(normalized)
}

// DeleteFolder removes a folder. Without recursive, the folder must be
// empty: no records in it and nothing beneath it. With recursive, every
// record whose folder equals the path or descends from it is deleted, along
// with all explicit markers under the path. The deleted records are
// returned so callers can release dependent artifacts.
func (s *Store) DeleteFolder(ctx context.Context, folder string, recursive bool) ([]*Record, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "delete_folder", "", telemetry.Folder(folder))
	defer span.End()

	start := time.Now()
	deleted, err := s.deleteFolder(ctx, folder, recursive)
	s.observe("delete_folder", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return deleted, err
}

func (s *Store) deleteFolder(ctx context.Context, folder string, recursive bool) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	normalized, err := NormalizeFolder(folder)
	if err != nil {
		return nil, err
	}
	if normalized == "" && !recursive {
		return nil, fmt.Errorf("cannot delete the root folder")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ids := s.idx.ByFolder(normalized, true)

	if normalized != "" {
		explicit, err := s.folders.exists(normalized)
		if err != nil {
			return nil, err
		}
		if !explicit && len(ids) == 0 && !s.hasDescendantFoldersLocked(normalized) {
			return nil, dserrors.NewNotFoundError(normalized, "folder")
		}
	}

	if !recursive {
		if len(ids) > 0 || s.hasDescendantFoldersLocked(normalized) {
			return nil, fmt.Errorf("folder %q is not empty, use recursive delete", normalized)
		}
		return nil, s.folders.remove(normalized)
	}

	var deleted []*Record
	if len(ids) > 0 {
		err := s.withGlobalLock(ctx, func() error {
			for _, id := range ids {
				rec, err := s.deleteOneLocked(id)
				if err != nil {
					return err
				}
				deleted = append(deleted, rec)
			}
			s.afterMutationsLocked(len(ids))
			return nil
		})
		if err != nil {
			// Records deleted before the failure stay deleted; the WAL
			// already holds their entries.
			return deleted, err
		}
	}

	if _, err := s.folders.removePrefix(normalized); err != nil {
		return deleted, err
	}

	logger.InfoCtx(ctx, "Folder deleted",
		"folder", normalized,
		"records", len(deleted))
	return deleted, nil
}

// hasDescendantFoldersLocked reports whether any record folder or explicit
// marker lies strictly under folder.
func (s *Store) hasDescendantFoldersLocked(folder string) bool {
	for _, f := range s.idx.Folders() {
		if isDescendant(folder, f) {
			return true
		}
	}
	markers, err := s.folders.list()
	if err != nil {
		return true
	}
	for _, f := range markers {
		if isDescendant(folder, f) {
			return true
		}
	}
	return false
}

// ListFolders returns every known folder path: folders referenced by
// records, explicitly created folders, and all their ancestors, sorted.
func (s *Store) ListFolders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]struct{})
	add := func(folder string) {
		for folder != "" {
			if _, ok := seen[folder]; ok {
				return
			}
			seen[folder] = struct{}{}
			slash := strings.LastIndexByte(folder, '/')
			if slash < 0 {
				return
			}
			folder = folder[:slash]
		}
	}

	for _, f := range s.idx.Folders() {
		add(f)
	}
	markers, err := s.folders.list()
	if err != nil {
		return nil, err
	}
	for _, f := range markers {
		add(f)
	}

	folders := make([]string, 0, len(seen))
	for f := range seen {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, nil
}

// NextID allocates and returns a fresh monotonic record id.
func (s *Store) NextID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	return s.idx.AllocateID(), nil
}

// Stats returns a snapshot of store internals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrClosed
	}

	markers, err := s.folders.list()
	if err != nil {
		return Stats{}, err
	}
	folderSet := make(map[string]struct{})
	for _, f := range s.idx.Folders() {
		folderSet[f] = struct{}{}
	}
	for _, f := range markers {
		folderSet[f] = struct{}{}
	}

	return Stats{
		Records:       s.idx.Len(),
		Folders:       len(folderSet),
		CacheEntries:  s.cache.len(),
		CacheCapacity: s.cfg.CacheCapacity,
		LastWALSeq:    s.wal.LastSeq(),
		EmbeddingDim:  s.idx.EmbeddingDim(),
		Mutations:     s.totalMutations,
	}, nil
}

// EmbeddingDim returns the store-wide embedding dimensionality, 0 when no
// embedding has been written yet.
func (s *Store) EmbeddingDim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.EmbeddingDim()
}

// Close stops background compaction, rewrites the index a final time, and
// closes the WAL. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.stoppedCh

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	err := s.withGlobalLock(context.Background(), func() error {
		return s.rewriteIndexLocked()
	})
	if err != nil {
		errs = append(errs, err)
	}
	if err := s.wal.Close(); err != nil {
		errs = append(errs, err)
	}
	s.cache.purge()

	logger.Info("Store closed", "root", s.root)
	return errors.Join(errs...)
}

// ============================================================================
// Internals
// ============================================================================

// loadRecordLocked returns the record for id, serving from the cache when
// possible and filling it otherwise. The caller holds the store mutex in at
// least read mode, so a fill can never race a delete.
func (s *Store) loadRecordLocked(id string) (*Record, error) {
	if cached, ok := s.cache.get(id); ok {
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(true)
		}
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(false)
	}

	if _, ok := s.idx.Get(id); !ok {
		return nil, dserrors.NewNotFoundError(id, "record")
	}

	data, err := s.shards.Read(id)
	if err != nil {
		if dserrors.IsNotFoundError(err) {
			return nil, dserrors.NewCorruptError(s.shards.Path(id),
				"record is indexed but its shard file is missing")
		}
		return nil, err
	}
	rec, err := decodeRecord(s.shards.Path(id), data, id)
	if err != nil {
		return nil, err
	}

	s.cachePut(rec)
	return rec, nil
}

// withGlobalLock runs fn while holding the cross-process store lock.
func (s *Store) withGlobalLock(ctx context.Context, fn func() error) error {
	flk, err := lock.Acquire(ctx, s.lockPath(), s.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := flk.Close(); closeErr != nil {
			logger.Warn("Releasing store lock failed", "path", flk.Path(), "error", closeErr)
		}
	}()
	return fn()
}

// afterMutationsLocked accounts for n committed mutations: it rewrites the
// index when the rewrite interval is reached and nudges the background
// compactor when the compaction interval is reached. The caller holds the
// store mutex and the global lock. Rewrite failures are logged, not
// surfaced: the WAL already holds the mutations and replay converges.
func (s *Store) afterMutationsLocked(n int) {
	s.totalMutations += uint64(n)
	s.sinceRewrite += n
	s.sinceCompaction += n

	if s.cfg.IndexRewriteInterval > 0 && s.sinceRewrite >= s.cfg.IndexRewriteInterval {
		if err := s.rewriteIndexLocked(); err != nil {
			logger.Warn("Interval index rewrite failed, wal retains the mutations", "error", err)
		}
	}

	if s.cfg.CompactionInterval > 0 && s.sinceCompaction >= s.cfg.CompactionInterval {
		s.sinceCompaction = 0
		select {
		case s.compactCh <- struct{}{}:
		default:
		}
	}
}

// rewriteIndexLocked syncs the WAL and atomically rewrites the index. The
// caller holds the store mutex and the global lock.
func (s *Store) rewriteIndexLocked() error {
	start := time.Now()

	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("syncing wal before index rewrite: %w", err)
	}
	s.idx.SetLastWALSeq(s.wal.LastSeq())
	if err := s.idx.Save(); err != nil {
		return fmt.Errorf("rewriting index: %w", err)
	}
	s.sinceRewrite = 0

	if s.metrics != nil {
		s.metrics.RecordIndexRewrite(s.idx.Len(), time.Since(start))
	}
	logger.Debug("Index rewritten", "entries", s.idx.Len(), "wal_seq", s.wal.LastSeq())
	return nil
}

// cachePut stores the record in the cache and reports evictions.
func (s *Store) cachePut(rec *Record) {
	if evicted := s.cache.put(rec); evicted > 0 && s.metrics != nil {
		s.metrics.RecordCacheEviction(evicted)
	}
}

// observe reports one public operation to the metrics sink.
func (s *Store) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		if code := dserrors.CodeOf(err); code != 0 {
			outcome = code.String()
		} else {
			outcome = "error"
		}
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
}

// compactionLoop consumes compaction triggers until Close.
func (s *Store) compactionLoop() {
	defer close(s.stoppedCh)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case <-s.stopCh:
			return
		case <-s.compactCh:
			if _, err := s.Compact(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				logger.Warn("Background compaction failed", "root", s.root, "error", err)
			}
		}
	}
}

// abandon tears the store down without the final index rewrite. Crash
// simulation hook for tests: everything not yet rewritten stays only in
// the WAL.
func (s *Store) abandon() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.stoppedCh
	_ = s.wal.Close()
}

func (s *Store) lockPath() string {
	return filepath.Join(s.root, lockFileName)
}

// applyPatch copies the patch's set fields onto the record. Slice and map
// fields are copied so the record never aliases caller memory.
func applyPatch(r *Record, p Patch) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Summary != nil {
		r.Summary = *p.Summary
	}
	if p.MarkdownRef != nil {
		r.MarkdownRef = *p.MarkdownRef
	}
	if p.Tags != nil {
		if len(*p.Tags) == 0 {
			r.Tags = nil
		} else {
			r.Tags = append([]string(nil), (*p.Tags)...)
		}
	}
	if p.Embedding != nil {
		if len(*p.Embedding) == 0 {
			r.Embedding = nil
		} else {
			r.Embedding = append([]float32(nil), (*p.Embedding)...)
		}
	}
	if p.ExtractedFields != nil {
		if len(*p.ExtractedFields) == 0 {
			r.ExtractedFields = nil
		} else {
			fields := make(map[string]any, len(*p.ExtractedFields))
			for k, v := range *p.ExtractedFields {
				fields[k] = v
			}
			r.ExtractedFields = fields
		}
	}
}
