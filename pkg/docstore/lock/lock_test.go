//go:build !windows

package lock

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "lock")
}

func TestAcquire_WritesBreadcrumb(t *testing.T) {
	ctx := context.Background()
	path := lockPath(t)

	l, err := Acquire(ctx, path, 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Close()

	crumb, err := ReadBreadcrumb(path)
	if err != nil {
		t.Fatalf("ReadBreadcrumb failed: %v", err)
	}

	if crumb.PID != os.Getpid() {
		t.Errorf("breadcrumb pid = %d, want %d", crumb.PID, os.Getpid())
	}
	if time.Since(crumb.AcquiredAt) > time.Minute {
		t.Errorf("breadcrumb acquired_at %v is not recent", crumb.AcquiredAt)
	}
}

func TestAcquire_HeldLockFailsImmediately(t *testing.T) {
	ctx := context.Background()
	path := lockPath(t)

	l, err := Acquire(ctx, path, 0)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer l.Close()

	_, err = Acquire(ctx, path, 0)
	if !dserrors.IsLockUnavailableError(err) {
		t.Fatalf("second Acquire returned %v, want LockUnavailable", err)
	}
}

func TestAcquire_TimeoutElapses(t *testing.T) {
	ctx := context.Background()
	path := lockPath(t)

	l, err := Acquire(ctx, path, 0)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer l.Close()

	start := time.Now()
	_, err = Acquire(ctx, path, 50*time.Millisecond)
	elapsed := time.Since(start)

	if !dserrors.IsLockUnavailableError(err) {
		t.Fatalf("Acquire returned %v, want LockUnavailable", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("Acquire returned after %v, want >= 50ms", elapsed)
	}
}

func TestAcquire_SucceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	path := lockPath(t)

	l, err := Acquire(ctx, path, 0)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	l2, err := Acquire(ctx, path, 0)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	l2.Close()
}

func TestAcquire_CancelledContext(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Acquire(ctx, path, time.Second)
	if !dserrors.IsCancelledError(err) {
		t.Fatalf("Acquire returned %v, want Cancelled", err)
	}
}

func TestAcquire_NegativeTimeout(t *testing.T) {
	_, err := Acquire(context.Background(), lockPath(t), -time.Second)
	if !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("Acquire returned %v, want ErrInvalidTimeout", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	l, err := Acquire(context.Background(), lockPath(t), 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func writeCrumb(t *testing.T, path string, crumb Breadcrumb) {
	t.Helper()

	data, err := json.Marshal(crumb)
	if err != nil {
		t.Fatalf("marshal breadcrumb: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write breadcrumb: %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	// Beyond any realistic pid_max, so the owner is never alive.
	deadPID := math.MaxInt32

	tests := []struct {
		name  string
		crumb Breadcrumb
		want  bool
	}{
		{
			name:  "dead owner past grace",
			crumb: Breadcrumb{PID: deadPID, AcquiredAt: time.Now().Add(-2 * StaleGrace)},
			want:  true,
		},
		{
			name:  "dead owner within grace",
			crumb: Breadcrumb{PID: deadPID, AcquiredAt: time.Now()},
			want:  false,
		},
		{
			name:  "live owner past grace",
			crumb: Breadcrumb{PID: os.Getpid(), AcquiredAt: time.Now().Add(-2 * StaleGrace)},
			want:  false,
		},
		{
			name:  "zero pid",
			crumb: Breadcrumb{PID: 0, AcquiredAt: time.Now().Add(-2 * StaleGrace)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := lockPath(t)
			writeCrumb(t, path, tt.crumb)

			got := reclaimStale(path)
			if got != tt.want {
				t.Errorf("reclaimStale = %v, want %v", got, tt.want)
			}

			_, statErr := os.Stat(path)
			removed := os.IsNotExist(statErr)
			if removed != tt.want {
				t.Errorf("lock file removed = %v, want %v", removed, tt.want)
			}
		})
	}
}

func TestReclaimStale_ForeignContent(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write lock file: %v", err)
	}

	if reclaimStale(path) {
		t.Error("reclaimStale removed a lock file with foreign content")
	}
}
