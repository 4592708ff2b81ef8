// Package docstore implements the durable record store: sharded record
// files, a write-ahead log, a rewritten-on-interval global index, an LRU
// record cache, and a background compactor, all guarded by a single
// advisory file lock per store root.
//
// The store owns everything under its root directory. Callers interact
// through Store and never touch the on-disk layout directly.
package docstore

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Status represents the lifecycle state of a record.
type Status string

const (
	// StatusUploading marks a record whose payload transfer has started
	// but not finished.
	StatusUploading Status = "uploading"
	// StatusReady marks a record whose payload is durably stored.
	StatusReady Status = "ready"
	// StatusProcessing marks a record currently being enriched.
	StatusProcessing Status = "processing"
	// StatusCompleted marks a record whose enrichment finished.
	StatusCompleted Status = "completed"
	// StatusFailed marks a record whose payload or enrichment is unusable.
	StatusFailed Status = "failed"
)

// IsValid checks if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusUploading, StatusReady, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Record is the unit of storage.
//
// The id, filename, checksum, size, folder, and payload reference are fixed
// at creation. Status, timestamps, and the enrichment fields (summary,
// markdown reference, tags, embedding, extracted fields) change over the
// record's life.
type Record struct {
	// ID uniquely identifies the record. Numeric ids are allocated
	// monotonically by the store; callers may supply their own opaque ids.
	ID string `json:"id"`

	// Filename is the original uploaded name. Not unique.
	Filename string `json:"filename"`

	// Checksum is the hex SHA-256 digest of the payload.
	Checksum string `json:"checksum"`

	// Size is the payload length in bytes.
	Size int64 `json:"size"`

	// Folder is the logical folder path, empty for the root.
	Folder string `json:"folder"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// PayloadRef is the object-storage key of the payload. Relative and
	// portable across hosts.
	PayloadRef string `json:"payload_ref"`

	// CreatedAt and UpdatedAt are assigned by the store in UTC.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Summary is free-text produced by enrichment.
	Summary string `json:"summary,omitempty"`

	// MarkdownRef is the object-storage key of the rendered markdown
	// artifact, when enrichment produced one.
	MarkdownRef string `json:"markdown_ref,omitempty"`

	// Tags is an ordered list of short labels.
	Tags []string `json:"tags,omitempty"`

	// Embedding is a fixed-length vector. Its length must match the
	// store-wide embedding dimensionality.
	Embedding []float32 `json:"embedding,omitempty"`

	// ExtractedFields holds free-form enrichment output keyed by name.
	ExtractedFields map[string]any `json:"extracted_fields,omitempty"`
}

// Clone returns a deep copy of the record. Mutating the copy never affects
// the original, including the tag, embedding, and extracted-field storage.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Tags != nil {
		clone.Tags = make([]string, len(r.Tags))
		copy(clone.Tags, r.Tags)
	}
	if r.Embedding != nil {
		clone.Embedding = make([]float32, len(r.Embedding))
		copy(clone.Embedding, r.Embedding)
	}
	if r.ExtractedFields != nil {
		clone.ExtractedFields = make(map[string]any, len(r.ExtractedFields))
		for k, v := range r.ExtractedFields {
			clone.ExtractedFields[k] = v
		}
	}
	return &clone
}

// Patch describes a partial update of a record's mutable fields. Nil fields
// are left unchanged. The mutable fields are status and the enrichment
// fields; identity, payload, and folder cannot be patched.
type Patch struct {
	Status          *Status
	Summary         *string
	MarkdownRef     *string
	Tags            *[]string
	Embedding       *[]float32
	ExtractedFields *map[string]any
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Status == nil &&
		p.Summary == nil &&
		p.MarkdownRef == nil &&
		p.Tags == nil &&
		p.Embedding == nil &&
		p.ExtractedFields == nil
}

// NormalizeFolder canonicalizes a folder path: separators become "/",
// leading and trailing separators are dropped, and "." segments collapse.
// The empty string denotes the root. Paths that escape the root via ".."
// are rejected.
func NormalizeFolder(folder string) (string, error) {
	normalized := strings.ReplaceAll(folder, "\\", "/")
	normalized = strings.Trim(normalized, "/")
	if normalized == "" {
		return "", nil
	}

	cleaned := path.Clean(normalized)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("folder %q escapes the root", folder)
	}
	return cleaned, nil
}
