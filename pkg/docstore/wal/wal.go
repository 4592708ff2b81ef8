// Package wal implements the write-ahead log for the record store: an
// append-only journal of intended mutations, persisted before the index
// mutation becomes visible. Entries are line-delimited JSON in rotating
// segments (000001.log, 000002.log, …) under the store's wal directory.
//
// Durability contract: Append fsyncs the active segment every FsyncInterval
// appends; Sync flushes pending appends on demand and is a no-op when
// nothing is pending. Replay applies entries newer than a given sequence
// number; a torn final line (crash artifact) is tolerated, any other
// malformed line fails with a Corrupt error.
//
// Thread Safety: all methods are safe for concurrent use.
package wal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

// Op is the mutation kind recorded in an entry.
type Op string

const (
	// OpPut records a record creation or update.
	OpPut Op = "PUT"

	// OpDel records a record deletion.
	OpDel Op = "DEL"
)

// Entry is one logged mutation. Seq is assigned by Append and is strictly
// increasing across segments for the lifetime of the store root.
type Entry struct {
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"ts"`
	Op          Op        `json:"op"`
	ID          string    `json:"id"`
	Shard       int       `json:"shard"`
	PayloadHash string    `json:"payload_hash,omitempty"`
}

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("wal: log is closed")

const (
	segmentSuffix = ".log"

	// DefaultFsyncInterval is the default number of appends between fsyncs.
	DefaultFsyncInterval = 8

	// DefaultSegmentMaxSize is the default segment rotation threshold.
	DefaultSegmentMaxSize = 4 << 20
)

// Config controls log behavior.
type Config struct {
	// Dir is the segment directory.
	Dir string

	// FsyncInterval is the number of appends between fsyncs. Values <= 1
	// fsync on every append.
	FsyncInterval int

	// SegmentMaxSize is the byte size past which the active segment is
	// rotated. Values <= 0 use DefaultSegmentMaxSize.
	SegmentMaxSize int64

	// FloorSeq is a lower bound on sequence numbering. The next assigned
	// sequence is always greater than FloorSeq even when existing segments
	// end earlier. Callers pass the last sequence their consumer has
	// already absorbed, so a partially truncated log never re-issues
	// sequence numbers the consumer believes it has seen.
	FloorSeq uint64
}

// DefaultConfig returns the default log configuration for the given
// directory.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		FsyncInterval:  DefaultFsyncInterval,
		SegmentMaxSize: DefaultSegmentMaxSize,
	}
}

// Log is an append-only write-ahead log over rotating segment files.
type Log struct {
	mu        sync.Mutex
	cfg       Config
	file      *os.File
	segment   int
	size      int64
	nextSeq   uint64
	sinceSync int
	closed    bool
}

// Open opens the log in cfg.Dir, creating the directory and the first
// segment when absent. Existing segments are scanned to restore the
// sequence counter; scanning applies the same tolerance rules as Replay.
func Open(cfg Config) (*Log, error) {
	if cfg.FsyncInterval <= 0 {
		cfg.FsyncInterval = 1
	}
	if cfg.SegmentMaxSize <= 0 {
		cfg.SegmentMaxSize = DefaultSegmentMaxSize
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating wal directory: %w", err)
	}

	segments, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	l := &Log{cfg: cfg, nextSeq: cfg.FloorSeq + 1}

	if len(segments) == 0 {
		if err := l.openSegment(1, true); err != nil {
			return nil, err
		}
		return l, nil
	}

	maxSeq := cfg.FloorSeq
	for i, seg := range segments {
		final := i == len(segments)-1
		path := segmentPath(cfg.Dir, seg)

		entries, validLen, err := readSegment(path, final)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}

		// A torn tail has no trailing newline. Appending after it would
		// glue the next entry onto the fragment, turning a tolerated crash
		// artifact into interior corruption on the following replay, so the
		// fragment is dropped before the segment is reopened for append.
		if final {
			if info, statErr := os.Stat(path); statErr == nil && info.Size() > validLen {
				if err := os.Truncate(path, validLen); err != nil {
					return nil, fmt.Errorf("dropping torn wal tail: %w", err)
				}
			}
		}
	}

	l.nextSeq = maxSeq + 1
	if err := l.openSegment(segments[len(segments)-1], false); err != nil {
		return nil, err
	}
	return l, nil
}

// Append writes the entry to the active segment, assigning its sequence
// number and timestamp, and returns the assigned sequence number. The
// segment is fsynced per the configured interval and rotated when it
// exceeds the size threshold.
func (l *Log) Append(e Entry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	e.Seq = l.nextSeq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("encoding wal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return 0, fmt.Errorf("appending wal entry: %w", err)
	}

	l.nextSeq++
	l.size += int64(len(data))
	l.sinceSync++

	if l.sinceSync >= l.cfg.FsyncInterval {
		if err := l.syncLocked(); err != nil {
			return 0, err
		}
	}

	if l.size >= l.cfg.SegmentMaxSize {
		if err := l.rotateLocked(); err != nil {
			return 0, err
		}
	}

	return e.Seq, nil
}

// Sync flushes pending appends to stable storage. It is a no-op when no
// appends are pending since the last fsync.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.sinceSync == 0 {
		return nil
	}
	return l.syncLocked()
}

// LastSeq returns the sequence number of the most recently appended entry,
// or zero when nothing has ever been appended.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}

// Replay invokes fn for every entry with Seq > fromSeq, in sequence order
// across all segments. A line that fails to decode at the tail of the final
// segment is treated as a torn write and ignored; anywhere else it fails
// with a Corrupt error. Replay does not mutate the log.
func (l *Log) Replay(fromSeq uint64, fn func(Entry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if err := l.syncIfPendingLocked(); err != nil {
		return err
	}

	segments, err := listSegments(l.cfg.Dir)
	if err != nil {
		return err
	}

	for i, seg := range segments {
		entries, _, err := readSegment(segmentPath(l.cfg.Dir, seg), i == len(segments)-1)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Seq <= fromSeq {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Truncate removes every segment and opens a fresh one. Segment numbering
// continues past the highest removed segment so names are never reused;
// sequence numbering is unaffected. Callers truncate only after the entries
// have been applied and the index durably rewritten.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if err := l.syncIfPendingLocked(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing wal segment: %w", err)
	}
	l.file = nil

	segments, err := listSegments(l.cfg.Dir)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if err := os.Remove(segmentPath(l.cfg.Dir, seg)); err != nil {
			return fmt.Errorf("removing wal segment %06d: %w", seg, err)
		}
	}

	next := 1
	if len(segments) > 0 {
		next = segments[len(segments)-1] + 1
	}
	return l.openSegment(next, true)
}

// Close flushes and closes the active segment. The log is unusable
// afterwards.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.file == nil {
		return nil
	}

	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil

	if syncErr != nil {
		return fmt.Errorf("syncing wal on close: %w", syncErr)
	}
	return closeErr
}

func (l *Log) syncLocked() error {
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing wal segment: %w", err)
	}
	l.sinceSync = 0
	return nil
}

func (l *Log) syncIfPendingLocked() error {
	if l.sinceSync == 0 || l.file == nil {
		return nil
	}
	return l.syncLocked()
}

func (l *Log) rotateLocked() error {
	if err := l.syncIfPendingLocked(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing wal segment: %w", err)
	}
	l.file = nil
	return l.openSegment(l.segment+1, true)
}

// openSegment opens the numbered segment for append, creating it when fresh
// is true.
func (l *Log) openSegment(n int, fresh bool) error {
	flags := os.O_RDWR | os.O_APPEND | os.O_CREATE
	if fresh {
		flags |= os.O_EXCL
	}

	file, err := os.OpenFile(segmentPath(l.cfg.Dir, n), flags, 0o600)
	if err != nil {
		return fmt.Errorf("opening wal segment %06d: %w", n, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stating wal segment %06d: %w", n, err)
	}

	l.file = file
	l.segment = n
	l.size = info.Size()
	l.sinceSync = 0
	return nil
}

func segmentPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%06d%s", n, segmentSuffix))
}

// listSegments returns the segment numbers present in dir, ascending.
func listSegments(dir string) ([]int, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing wal directory: %w", err)
	}

	var segments []int
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), segmentSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(de.Name(), segmentSuffix))
		if err != nil {
			continue
		}
		segments = append(segments, n)
	}
	sort.Ints(segments)
	return segments, nil
}

// readSegment decodes every entry in the segment at path. When final is
// true an undecodable trailing line is tolerated as a torn write; interior
// garbage always fails with Corrupt. The returned length is the number of
// leading bytes occupied by decodable entries, which is less than the file
// size exactly when a torn tail was tolerated.
func readSegment(path string, final bool) ([]Entry, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading wal segment: %w", err)
	}

	lines := bytes.Split(data, []byte{'\n'})
	entries := make([]Entry, 0, len(lines))
	var offset int64

	for i, line := range lines {
		lineEnd := offset + int64(len(line))
		if i < len(lines)-1 {
			lineEnd++ // the newline Split consumed
		}

		if len(bytes.TrimSpace(line)) == 0 {
			offset = lineEnd
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Seq == 0 || e.Op == "" {
			// A torn write never carries its trailing newline, so only an
			// unterminated fragment at the very end of the final segment is
			// a crash artifact.
			if final && i == len(lines)-1 {
				return entries, offset, nil
			}
			return nil, 0, dserrors.NewCorruptError(path, fmt.Sprintf("undecodable wal entry at line %d", i+1))
		}

		entries = append(entries, e)
		offset = lineEnd
	}
	return entries, offset, nil
}
