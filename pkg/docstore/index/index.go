// Package index implements the global record index: an in-memory map from
// record id to shard coordinates and denormalized attributes, with an
// authoritative on-disk representation (index.v1) rewritten atomically.
//
// Secondary maps (folder → ids, checksum → id) are derived from the primary
// map and kept incrementally consistent with it. Ids carry an insertion
// sequence so folder listings preserve insertion order, including across a
// reload.
//
// Durability between rewrites is provided by the write-ahead log; the index
// header records the WAL sequence number it is consistent with, and startup
// recovery replays anything newer.
//
// Thread Safety: all methods are safe for concurrent use.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// Version is the on-disk format version of index.v1.
const Version = 1

// Entry is the indexed view of one record. Seq is the insertion sequence,
// assigned once when the id first enters the index and preserved across
// updates and reloads.
type Entry struct {
	Shard     int       `json:"shard"`
	Filename  string    `json:"filename"`
	Folder    string    `json:"folder"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
	Seq       uint64    `json:"seq"`
}

// document is the persisted form of the index.
type document struct {
	Version      int              `json:"version"`
	LastIDOrd    uint64           `json:"last_id_ord"`
	LastWALSeq   uint64           `json:"last_wal_seq"`
	EmbeddingDim int              `json:"embedding_dim"`
	Entries      map[string]Entry `json:"entries"`
}

// Index is the in-memory global index with atomic persistence.
type Index struct {
	mu           sync.RWMutex
	path         string
	lastIDOrd    uint64
	lastWALSeq   uint64
	embeddingDim int
	insertSeq    uint64
	entries      map[string]Entry
	byFolder     map[string][]string
	byChecksum   map[string]string
	dirty        int
}

// Load reads the index at path, or returns an empty index when the file
// does not exist. A file that fails to parse or declares an unknown version
// fails with Corrupt.
func Load(path string) (*Index, error) {
	idx := &Index{
		path:       path,
		entries:    make(map[string]Entry),
		byFolder:   make(map[string][]string),
		byChecksum: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dserrors.NewCorruptError(path, fmt.Sprintf("index does not parse: %v", err))
	}
	if doc.Version != Version {
		return nil, dserrors.NewCorruptError(path, fmt.Sprintf("unknown index version %d", doc.Version))
	}

	idx.lastIDOrd = doc.LastIDOrd
	idx.lastWALSeq = doc.LastWALSeq
	idx.embeddingDim = doc.EmbeddingDim
	if doc.Entries != nil {
		idx.entries = doc.Entries
	}
	idx.rebuildSecondaries()
	return idx, nil
}

// rebuildSecondaries derives the folder and checksum maps from the primary
// map, in insertion order.
func (idx *Index) rebuildSecondaries() {
	idx.byFolder = make(map[string][]string)
	idx.byChecksum = make(map[string]string)
	idx.insertSeq = 0

	ids := make([]string, 0, len(idx.entries))
	for id, e := range idx.entries {
		ids = append(ids, id)
		if e.Seq > idx.insertSeq {
			idx.insertSeq = e.Seq
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return idx.entries[ids[i]].Seq < idx.entries[ids[j]].Seq
	})

	for _, id := range ids {
		e := idx.entries[id]
		idx.byFolder[e.Folder] = append(idx.byFolder[e.Folder], id)
		if _, taken := idx.byChecksum[e.Checksum]; !taken && e.Checksum != "" {
			idx.byChecksum[e.Checksum] = id
		}
	}
}

// Save atomically rewrites the index file: marshal to <path>.tmp, fsync,
// rename over the destination. Resets the dirty mutation counter.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.saveLocked()
}

func (idx *Index) saveLocked() error {
	doc := document{
		Version:      Version,
		LastIDOrd:    idx.lastIDOrd,
		LastWALSeq:   idx.lastWALSeq,
		EmbeddingDim: idx.embeddingDim,
		Entries:      idx.entries,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}

	tmpPath := idx.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating index temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing index temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing index temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing index temp file: %w", err)
	}
	if err := os.Rename(tmpPath, idx.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming index: %w", err)
	}

	idx.dirty = 0
	return nil
}

// Get returns the entry for id.
func (idx *Index) Get(id string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.entries[id]
	return e, ok
}

// Has reports whether id is present.
func (idx *Index) Has(id string) bool {
	_, ok := idx.Get(id)
	return ok
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Put inserts or replaces the entry for id and maintains the secondary
// maps. New ids are assigned the next insertion sequence; existing ids keep
// theirs. Numeric ids advance the allocation counter so minted ids stay
// fresh.
func (idx *Index) Put(id string, e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, existed := idx.entries[id]
	if existed {
		e.Seq = prev.Seq
		if prev.Folder != e.Folder {
			idx.removeFromFolderLocked(prev.Folder, id)
			idx.appendToFolderLocked(e.Folder, id)
		}
		if prev.Checksum != e.Checksum {
			idx.retireChecksumLocked(prev.Checksum, id)
			idx.claimChecksumLocked(e.Checksum, id)
		}
	} else {
		idx.insertSeq++
		e.Seq = idx.insertSeq
		idx.appendToFolderLocked(e.Folder, id)
		idx.claimChecksumLocked(e.Checksum, id)
	}

	if ord, err := strconv.ParseUint(id, 10, 64); err == nil && ord > idx.lastIDOrd {
		idx.lastIDOrd = ord
	}

	idx.entries[id] = e
	idx.dirty++
}

// Delete removes id from the index and the secondary maps. Returns false
// when id was not present.
func (idx *Index) Delete(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[id]
	if !ok {
		return false
	}

	delete(idx.entries, id)
	idx.removeFromFolderLocked(e.Folder, id)
	idx.retireChecksumLocked(e.Checksum, id)
	idx.dirty++
	return true
}

// ByChecksum returns the id owning the checksum, preferring the oldest
// insertion when history contains tolerated duplicates.
func (idx *Index) ByChecksum(checksum string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.byChecksum[checksum]
	return id, ok
}

// ByFolder returns the ids whose folder equals path or, when recursive is
// true, equals path or any descendant of it. Ids come back in insertion
// order. The root folder ("") with recursive set matches every record.
func (idx *Index) ByFolder(path string, recursive bool) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !recursive {
		ids := idx.byFolder[path]
		out := make([]string, len(ids))
		copy(out, ids)
		return out
	}

	var out []string
	for folder, ids := range idx.byFolder {
		if !folderMatches(path, folder) {
			continue
		}
		out = append(out, ids...)
	}
	sort.Slice(out, func(i, j int) bool {
		return idx.entries[out[i]].Seq < idx.entries[out[j]].Seq
	})
	return out
}

// Folders returns every folder that currently holds at least one record.
func (idx *Index) Folders() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.byFolder))
	for folder, ids := range idx.byFolder {
		if len(ids) > 0 {
			out = append(out, folder)
		}
	}
	sort.Strings(out)
	return out
}

// IDs returns every indexed id in insertion order.
func (idx *Index) IDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.entries))
	for id := range idx.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return idx.entries[out[i]].Seq < idx.entries[out[j]].Seq
	})
	return out
}

// AllocateID mints a fresh monotonic id.
func (idx *Index) AllocateID() string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.lastIDOrd++
	return strconv.FormatUint(idx.lastIDOrd, 10)
}

// LastWALSeq returns the WAL sequence number this index is consistent with.
func (idx *Index) LastWALSeq() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastWALSeq
}

// SetLastWALSeq records the WAL sequence number the in-memory state now
// reflects. Persisted on the next Save.
func (idx *Index) SetLastWALSeq(seq uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if seq > idx.lastWALSeq {
		idx.lastWALSeq = seq
	}
}

// EmbeddingDim returns the store-wide embedding dimensionality, or zero
// when no embedding has ever been written.
func (idx *Index) EmbeddingDim() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.embeddingDim
}

// SetEmbeddingDim fixes the store-wide embedding dimensionality. The first
// write wins; a conflicting later value is rejected.
func (idx *Index) SetEmbeddingDim(dim int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimensionality %d", dim)
	}
	if idx.embeddingDim != 0 && idx.embeddingDim != dim {
		return fmt.Errorf("embedding dimensionality is fixed at %d, got %d", idx.embeddingDim, dim)
	}
	idx.embeddingDim = dim
	idx.dirty++
	return nil
}

// Dirty returns the number of mutations since the last successful Save.
func (idx *Index) Dirty() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}

func (idx *Index) appendToFolderLocked(folder, id string) {
	idx.byFolder[folder] = append(idx.byFolder[folder], id)
}

func (idx *Index) removeFromFolderLocked(folder, id string) {
	ids := idx.byFolder[folder]
	for i, candidate := range ids {
		if candidate == id {
			idx.byFolder[folder] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(idx.byFolder[folder]) == 0 {
		delete(idx.byFolder, folder)
	}
}

func (idx *Index) claimChecksumLocked(checksum, id string) {
	if checksum == "" {
		return
	}
	if _, taken := idx.byChecksum[checksum]; !taken {
		idx.byChecksum[checksum] = id
	}
}

// retireChecksumLocked drops id's claim on checksum and promotes the oldest
// surviving holder, if any. Duplicate checksums only exist from tolerated
// prior histories, so the scan is rare.
func (idx *Index) retireChecksumLocked(checksum, id string) {
	if checksum == "" || idx.byChecksum[checksum] != id {
		return
	}
	delete(idx.byChecksum, checksum)

	var successor string
	var successorSeq uint64
	for otherID, e := range idx.entries {
		if otherID == id || e.Checksum != checksum {
			continue
		}
		if successor == "" || e.Seq < successorSeq {
			successor = otherID
			successorSeq = e.Seq
		}
	}
	if successor != "" {
		idx.byChecksum[checksum] = successor
	}
}

// folderMatches reports whether folder equals base or is a descendant of
// it. The root folder matches everything.
func folderMatches(base, folder string) bool {
	if base == "" {
		return true
	}
	return folder == base || strings.HasPrefix(folder, base+"/")
}
