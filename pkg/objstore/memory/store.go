// Package memory provides an in-memory object store implementation for
// testing. It supports configurable fault injection so pipeline tests can
// exercise transient backend failures and retry behavior.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/objstore"
)

// Store is an in-memory implementation of objstore.Store for testing.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	faults  map[string]int
	puts    int
	gets    int
	closed  bool
}

// New creates a new in-memory object store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
		faults:  make(map[string]int),
	}
}

// FailNext makes the next n calls of op ("put", "get", "delete", "exists",
// "health") fail with a Backend error. Used to exercise retry paths.
func (s *Store) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = n
}

// consumeFault reports whether op should fail, decrementing its budget.
// Caller holds the write lock.
func (s *Store) consumeFault(op string) bool {
	if s.faults[op] > 0 {
		s.faults[op]--
		return true
	}
	return false
}

// Put stores a copy of the object data.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return dserrors.NewBackendError("reading object data", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("object %s: declared %d bytes, read %d", cleaned, size, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dserrors.NewBackendError("object store is closed", nil)
	}
	if s.consumeFault("put") {
		return dserrors.NewBackendError("injected put failure", nil)
	}

	// Copy to prevent mutation through the caller's buffer.
	copied := make([]byte, len(data))
	copy(copied, data)
	s.objects[cleaned] = copied
	s.puts++
	return nil
}

// Get returns a reader over a copy of the object data.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dserrors.NewBackendError("object store is closed", nil)
	}
	if s.consumeFault("get") {
		return nil, dserrors.NewBackendError("injected get failure", nil)
	}

	data, ok := s.objects[cleaned]
	if !ok {
		return nil, dserrors.NewNotFoundError(cleaned, "object")
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	s.gets++
	return io.NopCloser(bytes.NewReader(copied)), nil
}

// Delete removes the object. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dserrors.NewBackendError("object store is closed", nil)
	}
	if s.consumeFault("delete") {
		return dserrors.NewBackendError("injected delete failure", nil)
	}

	delete(s.objects, cleaned)
	return nil
}

// Exists reports whether the object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, dserrors.NewBackendError("object store is closed", nil)
	}
	if s.consumeFault("exists") {
		return false, dserrors.NewBackendError("injected exists failure", nil)
	}

	_, ok := s.objects[cleaned]
	return ok, nil
}

// SignedURL returns a synthetic URL. The memory backend serves nothing, so
// the URL is only useful for asserting plumbing in tests.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", dserrors.NewBackendError("object store is closed", nil)
	}
	if _, ok := s.objects[cleaned]; !ok {
		return "", dserrors.NewNotFoundError(cleaned, "object")
	}
	return "memory://" + cleaned, nil
}

// PutText stores a small text object.
func (s *Store) PutText(ctx context.Context, key string, text string) error {
	data := []byte(text)
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// GetText returns a small text object, or NotFound.
func (s *Store) GetText(ctx context.Context, key string) (string, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", dserrors.NewBackendError("reading object text", err)
	}
	return string(data), nil
}

// List returns every object key, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, dserrors.NewBackendError("object store is closed", nil)
	}

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// HealthCheck verifies the store is operational.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dserrors.NewBackendError("object store is closed", nil)
	}
	if s.consumeFault("health") {
		return dserrors.NewBackendError("injected health failure", nil)
	}
	return nil
}

// Close marks the store as closed and drops all objects.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.objects = nil
	return nil
}

// ObjectCount returns the number of objects stored (for testing).
func (s *Store) ObjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// PutCount returns the number of successful puts (for testing).
func (s *Store) PutCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Ensure Store implements objstore.Store.
var _ objstore.Store = (*Store)(nil)
