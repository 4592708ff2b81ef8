// Package shard implements the on-disk record layout: one file per record,
// bucketed into numeric shard directories under <root>/shards.
//
// A record's shard coordinate is ord(id) / width, where ord is the id's
// numeric value for base-10 ids and a stable hash for any other id.
// Directories are named after the inclusive ordinal range they cover
// (000000-000999, 001000-001999, …) and hold one <id>.rec file per record.
//
// Writes are atomic: content goes to a .tmp file in the target directory,
// is fsynced, and renamed over the destination. Readers never observe a
// partial file; .tmp leftovers from crashes are ignored by List and removed
// by SweepTemp.
package shard

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

const (
	// DefaultWidth is the default shard bucket size.
	DefaultWidth = 1000

	recSuffix = ".rec"
	tmpSuffix = ".tmp"

	// hashSpace bounds ordinals derived from non-numeric ids so hashed ids
	// partition over the same directory scheme as numeric ones.
	hashSpace = 1_000_000_000
)

// File describes one record file found on disk.
type File struct {
	ID   string
	Path string
}

// Store manages the shards directory of a record store root.
type Store struct {
	root  string
	width int
}

// New creates a shard store rooted at dir (the shards directory itself).
// Width must be a power of ten between 100 and 10000.
func New(dir string, width int) (*Store, error) {
	switch width {
	case 100, 1000, 10000:
	default:
		return nil, fmt.Errorf("invalid shard width %d: must be 100, 1000, or 10000", width)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating shards directory: %w", err)
	}

	return &Store{root: dir, width: width}, nil
}

// Width returns the configured bucket size.
func (s *Store) Width() int {
	return s.width
}

// Ordinal maps an id onto the shard partition space. Ids that parse as
// base-10 unsigned integers use their numeric value; any other id uses a
// stable FNV-1a hash bounded to hashSpace so the directory scheme stays
// identical.
func Ordinal(id string) uint64 {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64() % hashSpace
}

// Coordinate returns the shard coordinate for id under the store's width.
func (s *Store) Coordinate(id string) int {
	return int(Ordinal(id) / uint64(s.width))
}

// DirName returns the directory name for a shard coordinate.
func (s *Store) DirName(coord int) string {
	lo := coord * s.width
	hi := lo + s.width - 1
	return fmt.Sprintf("%06d-%06d", lo, hi)
}

// Path returns the record file path for id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.root, s.DirName(s.Coordinate(id)), id+recSuffix)
}

// Write atomically persists the encoded record for id: temp file in the
// shard directory, fsync, rename over the destination.
func (s *Store) Write(id string, data []byte) error {
	path := s.Path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	tmpPath := path + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating shard temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing shard temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing shard temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing shard temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming shard file: %w", err)
	}
	return nil
}

// Read returns the encoded record for id. Fails with NotFound when no file
// exists.
func (s *Store) Read(id string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dserrors.NewNotFoundError(id, "shard file")
		}
		return nil, fmt.Errorf("reading shard file: %w", err)
	}
	return data, nil
}

// Exists reports whether a record file exists for id.
func (s *Store) Exists(id string) (bool, error) {
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stating shard file: %w", err)
}

// Remove deletes the record file for id. Removing an absent file is not an
// error; delete idempotence is decided above this layer from the index.
func (s *Store) Remove(id string) error {
	err := os.Remove(s.Path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing shard file: %w", err)
	}
	return nil
}

// RemovePath deletes a record file found by List. Used by the compactor for
// orphans whose location may not match their computed coordinate.
func (s *Store) RemovePath(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing shard file: %w", err)
	}
	return nil
}

// List walks every shard directory and returns the record files found,
// sorted by id. Temp files are skipped.
func (s *Store) List() ([]File, error) {
	var files []File

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, recSuffix) || strings.HasSuffix(name, tmpSuffix) {
			return nil
		}
		files = append(files, File{
			ID:   strings.TrimSuffix(name, recSuffix),
			Path: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking shards directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

// SweepTemp removes interrupted-write leftovers (.tmp files) and returns
// how many were removed.
func (s *Store) SweepTemp() (int, error) {
	removed := 0

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweeping shard temp files: %w", err)
	}
	return removed, nil
}

// CountTemp counts interrupted-write leftovers without removing them.
func (s *Store) CountTemp() (int, error) {
	count := 0

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), tmpSuffix) {
			count++
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("counting shard temp files: %w", err)
	}
	return count, nil
}
