// Package objstore defines the object storage contract used for record
// payloads and derived artifacts: put, get, delete, exists, signed URLs,
// and small text objects, over pluggable backends.
//
// Keys are relative, slash-separated paths. Every backend normalizes
// separators and rejects traversal outside its root. Errors use the store
// taxonomy: absent keys surface NotFound, transport failures surface
// Backend so the ingestion pipeline can classify them as transient.
package objstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Store is the capability set every object storage backend provides.
//
// Implementations must be safe for concurrent use. Put must be durable on
// return: fsynced for local filesystems, acknowledged by the server for
// remote backends. A successful Put is not assumed visible until a
// subsequent Exists confirms it; recovery paths use that check.
type Store interface {
	// Put stores size bytes from r under key, replacing any previous
	// object. size must match the reader's length.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get returns a reader for the object, or NotFound. The caller closes
	// the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is visible in the backend.
	Exists(ctx context.Context, key string) (bool, error)

	// SignedURL returns a URL granting read access to the object for ttl.
	// Backends without native signing mint a token the serving side can
	// verify.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PutText stores a small UTF-8 text object, with Put's durability.
	PutText(ctx context.Context, key string, text string) error

	// GetText returns a small text object, or NotFound.
	GetText(ctx context.Context, key string) (string, error)

	// HealthCheck verifies the backend is reachable and serving.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}

// Backend names the object storage variant in configuration.
type Backend string

const (
	// BackendLocal stores objects as files under a local directory.
	BackendLocal Backend = "local"
	// BackendS3 stores objects in an S3-compatible bucket.
	BackendS3 Backend = "s3_compatible"
	// BackendHosted stores objects in the hosted object store service.
	BackendHosted Backend = "hosted"
)

// IsValid checks if the backend is a known variant.
func (b Backend) IsValid() bool {
	switch b {
	case BackendLocal, BackendS3, BackendHosted:
		return true
	}
	return false
}

// CleanKey canonicalizes an object key: backslashes become slashes, leading
// slashes and "." segments are dropped. Empty keys, absolute paths, and
// keys escaping the root via ".." are rejected.
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key must not be empty")
	}

	cleaned := strings.ReplaceAll(key, "\\", "/")
	if strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("object key %q must be relative", key)
	}

	cleaned = path.Clean(cleaned)
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("object key %q has no path component", key)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("object key %q escapes the storage root", key)
	}
	return cleaned, nil
}
