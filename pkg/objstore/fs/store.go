// Package fs provides a local-filesystem object storage backend.
//
// Objects are stored as files with the object key as the relative path.
// Writes are atomic: a temp file in the target directory is fsynced and
// renamed over the destination, then the directory is fsynced, so a
// successful Put is durable and a crash never leaves a partial object
// visible.
//
// The backend has no native URL signing, so SignedURL mints an HS256 token
// carrying the key and expiry; the engine's HTTP listener verifies the
// token with VerifyURLToken and serves the payload from disk.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docket-io/docket/internal/bufpool"
	dserrors "github.com/docket-io/docket/pkg/docstore/errors"
	"github.com/docket-io/docket/pkg/objstore"
)

// Signed-URL token errors.
var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid payload token")
	// ErrExpiredToken is returned for tokens past their expiry.
	ErrExpiredToken = errors.New("payload token has expired")
)

// DefaultURLTTL bounds signed-URL lifetime when the caller passes no ttl.
const DefaultURLTTL = 15 * time.Minute

// Config holds configuration for the filesystem object store.
type Config struct {
	// Dir is the root directory for object storage. Object keys are
	// stored as paths relative to this directory.
	Dir string

	// BaseURL is the externally reachable prefix signed URLs point at,
	// normally the engine's ops listener. Example: "http://127.0.0.1:7421".
	BaseURL string

	// SigningKey is the HMAC secret for signed-URL tokens. SignedURL
	// fails when empty.
	SigningKey string

	// CreateDir creates the root directory if it doesn't exist.
	// Default: true.
	CreateDir bool

	// DirMode is the permission mode for created directories.
	// Default: 0755.
	DirMode os.FileMode

	// FileMode is the permission mode for created files.
	// Default: 0644.
	FileMode os.FileMode

	// Metrics receives backend measurements. Nil disables instrumentation.
	Metrics objstore.Metrics
}

// DefaultConfig returns the default configuration for the given root.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:       dir,
		CreateDir: true,
		DirMode:   0o755,
		FileMode:  0o644,
	}
}

// Store is the filesystem implementation of objstore.Store.
type Store struct {
	mu         sync.RWMutex
	dir        string
	baseURL    string
	signingKey string
	fileMode   os.FileMode
	dirMode    os.FileMode
	metrics    objstore.Metrics
	closed     bool
}

// New creates a filesystem object store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("object store directory is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.Dir, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("creating object store root: %w", err)
		}
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("object store root %s is not a directory", cfg.Dir)
	}

	return &Store{
		dir:        cfg.Dir,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signingKey: cfg.SigningKey,
		fileMode:   cfg.FileMode,
		dirMode:    cfg.DirMode,
		metrics:    cfg.Metrics,
	}, nil
}

// NewWithDir creates a filesystem object store with default configuration.
func NewWithDir(dir string) (*Store, error) {
	return New(DefaultConfig(dir))
}

// objectPath returns the filesystem path for a cleaned object key.
func (s *Store) objectPath(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

// Put stores the object atomically and durably: data lands in a temp file
// that is fsynced and renamed over the target, then the directory entry is
// fsynced.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	start := time.Now()
	err := s.put(ctx, key, r, size)
	s.observe("put", start, err)
	if err == nil && s.metrics != nil {
		s.metrics.RecordBytes("local", "write", size)
	}
	return err
}

func (s *Store) put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("object size must not be negative, got %d", size)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return dserrors.NewBackendError("object store is closed", nil)
	}

	path := s.objectPath(cleaned)
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return dserrors.NewBackendError("creating object directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".put-*")
	if err != nil {
		return dserrors.NewBackendError("creating temp object file", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	written, err := bufpool.Copy(tmp, r)
	if err != nil {
		cleanup()
		return dserrors.NewBackendError("writing object data", err)
	}
	if written != size {
		cleanup()
		return fmt.Errorf("object %s: declared %d bytes, read %d", cleaned, size, written)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return dserrors.NewBackendError("syncing object file", err)
	}
	if err := tmp.Chmod(s.fileMode); err != nil {
		cleanup()
		return dserrors.NewBackendError("setting object permissions", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return dserrors.NewBackendError("closing object file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return dserrors.NewBackendError("renaming object into place", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return dserrors.NewBackendError("syncing object directory", err)
	}
	return nil
}

// Get returns a reader over the object, or NotFound.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.get(ctx, key)
	s.observe("get", start, err)
	return rc, err
}

func (s *Store) get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}
	cleaned, err := objstore.CleanKey(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, dserrors.NewBackendError("object store is closed", nil)
	}

	f, err := os.Open(s.objectPath(cleaned))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dserrors.NewNotFoundError(cleaned, "object")
		}
		return nil, dserrors.NewBackendError("opening object", err)
	}
	return f, nil
}

// Delete removes the object and prunes directories it leaves empty.
// Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *Store) delete(ctx context.Context, key string) error {
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

	path := s.objectPath(cleaned)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return dserrors.NewBackendError("removing object", err)
	}
	s.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

// pruneEmptyDirs removes empty directories up to the store root.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.dir && strings.HasPrefix(dir, s.dir) {
		if err := os.Remove(dir); err != nil {
			// Not empty or already gone, stop climbing.
			return
		}
		dir = filepath.Dir(dir)
	}
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, dserrors.NewBackendError("object store is closed", nil)
	}

	info, err := os.Stat(s.objectPath(cleaned))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, dserrors.NewBackendError("checking object", err)
	}
	return !info.IsDir(), nil
}

// SignedURL mints a loopback URL carrying an HS256 token for the key. The
// engine's HTTP listener validates the token with VerifyURLToken and
// serves the payload.
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
	if s.signingKey == "" {
		return "", fmt.Errorf("signed URLs require a signing key")
	}
	if s.baseURL == "" {
		return "", fmt.Errorf("signed URLs require a base URL")
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}

	token, err := SignURLToken(s.signingKey, cleaned, ttl)
	if err != nil {
		return "", err
	}

	escaped := escapeKeyPath(cleaned)
	return fmt.Sprintf("%s/v1/payloads/%s?token=%s", s.baseURL, escaped, url.QueryEscape(token)), nil
}

// PutText stores a small text object with Put's durability.
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

// List returns every object key under the store, sorted. Temp files from
// interrupted puts are skipped.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, dserrors.NewBackendError("object store is closed", nil)
	}

	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.Contains(filepath.Base(path), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, dserrors.NewBackendError("walking object store", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// HealthCheck verifies the store root is accessible.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dserrors.NewCancelledError(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return dserrors.NewBackendError("object store is closed", nil)
	}
	if _, err := os.Stat(s.dir); err != nil {
		return dserrors.NewBackendError("object store root is unreachable", err)
	}
	return nil
}

// Dir returns the storage root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// observe reports one operation to the metrics sink.
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
	s.metrics.ObserveOperation("local", op, outcome, time.Since(start))
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// escapeKeyPath escapes each key segment for use in a URL path while
// keeping the separators visible.
func escapeKeyPath(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// ============================================================================
// Signed-URL tokens
// ============================================================================

// urlClaims is the token payload for signed payload URLs.
type urlClaims struct {
	jwt.RegisteredClaims

	// Key is the object key the token grants read access to.
	Key string `json:"key"`
}

// SignURLToken mints an HS256 token granting read access to key for ttl.
func SignURLToken(signingKey, key string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &urlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Key: key,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return "", fmt.Errorf("signing payload token: %w", err)
	}
	return signed, nil
}

// VerifyURLToken validates a signed-URL token and returns the object key it
// grants access to. Expired tokens fail with ErrExpiredToken, everything
// else invalid fails with ErrInvalidToken.
func VerifyURLToken(signingKey, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &urlClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(signingKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*urlClaims)
	if !ok || !token.Valid || claims.Key == "" {
		return "", ErrInvalidToken
	}
	return claims.Key, nil
}

// Ensure Store implements objstore.Store.
var _ objstore.Store = (*Store)(nil)
