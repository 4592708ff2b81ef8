// Package lock provides the advisory file lock that serializes index and WAL
// updates across processes. The lock is a sentinel file at the store root;
// holders record a small breadcrumb (pid, hostname, wall clock) so operators
// and other processes can identify the owner, and so breadcrumbs left by dead
// owners can be reclaimed after a grace period.
//
// Locking is advisory: all cooperating processes must acquire the lock for it
// to have effect. The underlying primitive is flock(2) on POSIX hosts and
// LockFileEx on Windows, behind the same API.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

var (
	// ErrWouldBlock is returned internally when the lock is held by another
	// process and the acquisition mode is non-blocking.
	ErrWouldBlock = errors.New("lock would block")

	// ErrUnsupported indicates the filesystem refuses advisory locking
	// (common on some network mounts). Acquire surfaces it wrapped in a
	// LockUnavailable store error; errors.Is(err, ErrUnsupported) still
	// distinguishes it.
	ErrUnsupported = errors.New("advisory locking not supported")

	// ErrInvalidTimeout is returned when a negative timeout is given.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errInodeMismatch signals the lock file was replaced between open and
	// lock. The acquisition loop retries on it.
	errInodeMismatch = errors.New("lock file replaced during acquisition")
)

const (
	// StaleGrace is the minimum breadcrumb age before a breadcrumb whose
	// owner is no longer alive may be reclaimed.
	StaleGrace = 30 * time.Second

	lockFilePerm = 0o600

	initialBackoff = time.Millisecond
	maxBackoff     = 25 * time.Millisecond
)

// Breadcrumb identifies the current lock holder. It is written into the lock
// file after acquisition and is informational: the kernel lock, not the
// breadcrumb, is what excludes other holders.
type Breadcrumb struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock represents a held advisory lock. Release it with Close.
type Lock struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Close releases the lock and closes the underlying descriptor. Close is
// idempotent; subsequent calls return nil. If both the unlock and the close
// fail the returned error wraps both.
func (l *Lock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	unlockErr := platformRelease(l.file)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("releasing lock: %w", unlockErr)
	}
	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock file: %w", closeErr)
	}
	return errors.Join(unlockErr, closeErr)
}

// Acquire obtains the exclusive advisory lock at path, creating the file if
// needed. It polls with exponential backoff (1ms up to 25ms) until timeout
// elapses. A timeout of zero tries exactly once.
//
// On contention, a breadcrumb whose owner process is not alive and whose age
// exceeds StaleGrace is removed and acquisition retried once.
//
// Returns:
//   - *Lock on success, with a fresh breadcrumb written
//   - LockUnavailable store error when the timeout elapses or the
//     filesystem refuses locking (the latter wraps ErrUnsupported)
//   - Cancelled store error when ctx is done
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be >= 0", ErrInvalidTimeout)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	backoff := initialBackoff
	reclaimTried := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, dserrors.NewCancelledError(err)
		}

		held, err := acquireOnce(path)
		if err == nil {
			if werr := held.writeBreadcrumb(); werr != nil {
				_ = held.Close()
				return nil, fmt.Errorf("writing lock breadcrumb: %w", werr)
			}
			return held, nil
		}

		switch {
		case errors.Is(err, errInodeMismatch):
			continue
		case errors.Is(err, ErrUnsupported):
			return nil, &dserrors.StoreError{
				Code:    dserrors.ErrLockUnavailable,
				Message: "filesystem does not support advisory locking",
				Path:    path,
				Err:     ErrUnsupported,
			}
		case !errors.Is(err, ErrWouldBlock):
			return nil, err
		}

		if !reclaimTried && reclaimStale(path) {
			reclaimTried = true
			continue
		}

		if timeout == 0 {
			return nil, dserrors.NewLockUnavailableError(path, "lock held by another process")
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, dserrors.NewLockUnavailableError(path, fmt.Sprintf("timed out after %s", timeout))
		}

		sleep := min(backoff, remaining)
		select {
		case <-ctx.Done():
			return nil, dserrors.NewCancelledError(ctx.Err())
		case <-time.After(sleep):
		}

		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// acquireOnce opens the lock file and attempts a non-blocking exclusive lock
// on it. On success the returned Lock owns the descriptor; on failure the
// descriptor is closed before returning.
func acquireOnce(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := platformAcquire(file, path); err != nil {
		_ = file.Close()
		return nil, err
	}

	return &Lock{file: file, path: path}, nil
}

// writeBreadcrumb replaces the lock file content with the holder breadcrumb.
func (l *Lock) writeBreadcrumb() error {
	hostname, _ := os.Hostname()
	crumb := Breadcrumb{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(crumb)
	if err != nil {
		return err
	}

	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return err
	}
	return nil
}

// ReadBreadcrumb reads the holder breadcrumb from the lock file at path.
// Returns os.ErrNotExist when there is no lock file and a plain error when
// the content does not parse (foreign or torn content).
func ReadBreadcrumb(path string) (*Breadcrumb, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var crumb Breadcrumb
	if err := json.Unmarshal(data, &crumb); err != nil {
		return nil, fmt.Errorf("parsing lock breadcrumb: %w", err)
	}
	return &crumb, nil
}

// reclaimStale removes the lock file when its breadcrumb names a dead owner
// and is older than StaleGrace. Returns true when a removal was attempted so
// the caller can retry acquisition immediately. The removal is best-effort:
// a concurrent holder still excludes us through the kernel lock on the new
// inode.
func reclaimStale(path string) bool {
	crumb, err := ReadBreadcrumb(path)
	if err != nil {
		return false
	}
	if crumb.PID <= 0 || pidAlive(crumb.PID) {
		return false
	}
	if time.Since(crumb.AcquiredAt) < StaleGrace {
		return false
	}

	_ = os.Remove(path)
	return true
}
