//go:build !windows

package lock

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// platformAcquire takes a non-blocking exclusive flock on the open file and
// verifies the descriptor still refers to the file currently at path. flock
// locks an inode, not a pathname, so a replaced lock file would otherwise let
// two processes both believe they hold the lock.
func platformAcquire(file *os.File, path string) error {
	fd := int(file.Fd())

	if err := flockRetryEINTR(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		switch {
		case errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN):
			return ErrWouldBlock
		case errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL):
			return fmt.Errorf("%w: flock: %v", ErrUnsupported, err)
		default:
			return fmt.Errorf("flock: %w", err)
		}
	}

	match, err := inodeMatchesPath(file, path)
	if err != nil {
		_ = flockRetryEINTR(fd, unix.LOCK_UN)
		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}
		return fmt.Errorf("verifying lock inode: %w", err)
	}
	if !match {
		_ = flockRetryEINTR(fd, unix.LOCK_UN)
		return errInodeMismatch
	}

	return nil
}

// platformRelease drops the flock held through file.
func platformRelease(file *os.File) error {
	return flockRetryEINTR(int(file.Fd()), unix.LOCK_UN)
}

// inodeMatchesPath compares (dev, inode) of the open descriptor against the
// file currently at path. A mismatch means the lock file was replaced while
// we were acquiring and the flock guards a stale inode.
func inodeMatchesPath(file *os.File, path string) (bool, error) {
	openInfo, err := file.Stat()
	if err != nil {
		return false, err
	}
	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("path stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

// pidAlive reports whether the process with the given pid exists. EPERM
// means the process exists but belongs to another user, so it counts as
// alive.
func pidAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, unix.EPERM)
}

// flockRetryEINTR wraps flock, retrying when a signal interrupts the call.
// Retries are capped to avoid spinning under a pathological signal storm.
func flockRetryEINTR(fd int, how int) error {
	const maxRetries = 10000

	var err error
	for range maxRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}
	return err
}
