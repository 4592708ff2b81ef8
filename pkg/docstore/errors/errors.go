// Package errors provides error types and error codes for the record store.
// This is a leaf package with no internal dependencies, designed to be imported
// by the lock, wal, index, and shard packages as well as the store itself
// without causing circular imports.
//
// Import graph: errors <- lock/wal/index/shard <- docstore <- callers
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred. The set is closed:
// callers switch on these codes and no others.
type ErrorCode int

const (
	// ErrNotFound indicates the addressed entity does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrDuplicate indicates the record id is already present.
	ErrDuplicate

	// ErrChecksumConflict indicates an advisory-unique checksum collided
	// with an existing record.
	ErrChecksumConflict

	// ErrChecksumMismatch indicates a declared checksum disagreed with the
	// computed one.
	ErrChecksumMismatch

	// ErrInconsistent indicates startup recovery detected state that cannot
	// be repaired without operator intervention.
	ErrInconsistent

	// ErrCorrupt indicates an on-disk artifact failed its self-check.
	ErrCorrupt

	// ErrLockUnavailable indicates the advisory store lock could not be
	// acquired within the allowed time.
	ErrLockUnavailable

	// ErrBackend indicates an object storage transport or transient failure.
	ErrBackend

	// ErrQueueFull indicates the ingestion queue high-water mark was
	// exceeded.
	ErrQueueFull

	// ErrCancelled indicates the operation was aborted cooperatively.
	ErrCancelled
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrDuplicate:
		return "Duplicate"
	case ErrChecksumConflict:
		return "ChecksumConflict"
	case ErrChecksumMismatch:
		return "ChecksumMismatch"
	case ErrInconsistent:
		return "Inconsistent"
	case ErrCorrupt:
		return "Corrupt"
	case ErrLockUnavailable:
		return "LockUnavailable"
	case ErrBackend:
		return "Backend"
	case ErrQueueFull:
		return "QueueFull"
	case ErrCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// StoreError represents a record store error with an error code. Path holds
// the id, key, or file path the operation addressed, when one exists. Err
// carries the underlying cause for transport-level failures and is exposed
// through Unwrap so errors.Is/As can see through it.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(path, resourceType string) *StoreError {
	return &StoreError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resourceType),
		Path:    path,
	}
}

// NewDuplicateError creates a Duplicate error for an id that already exists.
func NewDuplicateError(id string) *StoreError {
	return &StoreError{
		Code:    ErrDuplicate,
		Message: "record id already exists",
		Path:    id,
	}
}

// NewChecksumConflictError creates a ChecksumConflict error. existingID names
// the record that already owns the checksum.
func NewChecksumConflictError(checksum, existingID string) *StoreError {
	return &StoreError{
		Code:    ErrChecksumConflict,
		Message: fmt.Sprintf("checksum already owned by record %s", existingID),
		Path:    checksum,
	}
}

// NewChecksumMismatchError creates a ChecksumMismatch error.
func NewChecksumMismatchError(declared, computed string) *StoreError {
	return &StoreError{
		Code:    ErrChecksumMismatch,
		Message: fmt.Sprintf("declared checksum %s does not match computed %s", declared, computed),
	}
}

// NewInconsistentError creates an Inconsistent error.
func NewInconsistentError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInconsistent,
		Message: message,
	}
}

// NewCorruptError creates a Corrupt error for an on-disk artifact.
func NewCorruptError(path, message string) *StoreError {
	return &StoreError{
		Code:    ErrCorrupt,
		Message: message,
		Path:    path,
	}
}

// NewLockUnavailableError creates a LockUnavailable error.
func NewLockUnavailableError(path, message string) *StoreError {
	return &StoreError{
		Code:    ErrLockUnavailable,
		Message: message,
		Path:    path,
	}
}

// NewBackendError creates a Backend error wrapping the transport cause.
func NewBackendError(message string, err error) *StoreError {
	return &StoreError{
		Code:    ErrBackend,
		Message: message,
		Err:     err,
	}
}

// NewQueueFullError creates a QueueFull error.
func NewQueueFullError(pending, highWater int) *StoreError {
	return &StoreError{
		Code:    ErrQueueFull,
		Message: fmt.Sprintf("queue high-water mark exceeded (%d pending, limit %d)", pending, highWater),
	}
}

// NewCancelledError creates a Cancelled error wrapping the context cause.
func NewCancelledError(err error) *StoreError {
	return &StoreError{
		Code:    ErrCancelled,
		Message: "operation cancelled",
		Err:     err,
	}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf extracts the ErrorCode from err, or 0 when err is not a StoreError.
func CodeOf(err error) ErrorCode {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return 0
}

// IsNotFoundError returns true if the error is a NotFound error.
func IsNotFoundError(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsDuplicateError returns true if the error is a Duplicate error.
func IsDuplicateError(err error) bool {
	return CodeOf(err) == ErrDuplicate
}

// IsChecksumConflictError returns true if the error is a ChecksumConflict.
func IsChecksumConflictError(err error) bool {
	return CodeOf(err) == ErrChecksumConflict
}

// IsChecksumMismatchError returns true if the error is a ChecksumMismatch.
func IsChecksumMismatchError(err error) bool {
	return CodeOf(err) == ErrChecksumMismatch
}

// IsInconsistentError returns true if the error is an Inconsistent error.
func IsInconsistentError(err error) bool {
	return CodeOf(err) == ErrInconsistent
}

// IsCorruptError returns true if the error is a Corrupt error.
func IsCorruptError(err error) bool {
	return CodeOf(err) == ErrCorrupt
}

// IsLockUnavailableError returns true if the error is a LockUnavailable.
func IsLockUnavailableError(err error) bool {
	return CodeOf(err) == ErrLockUnavailable
}

// IsBackendError returns true if the error is a Backend error.
func IsBackendError(err error) bool {
	return CodeOf(err) == ErrBackend
}

// IsQueueFullError returns true if the error is a QueueFull error.
func IsQueueFullError(err error) bool {
	return CodeOf(err) == ErrQueueFull
}

// IsCancelledError returns true if the error is a Cancelled error.
func IsCancelledError(err error) bool {
	return CodeOf(err) == ErrCancelled
}

// IsTransient reports whether the error belongs to a class the ingestion
// pipeline retries (Backend, LockUnavailable). All other classes surface
// immediately.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrBackend, ErrLockUnavailable:
		return true
	default:
		return false
	}
}
