package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of migration failure.
type ErrorCode string

const (
	ErrConnectivity      ErrorCode = "CONNECTIVITY"       // source, target or checkpoint backend unreachable
	ErrCheckpointCorrupt ErrorCode = "CHECKPOINT_CORRUPT" // checkpoint record cannot be decoded
	ErrMappingConflict   ErrorCode = "MAPPING_CONFLICT"   // thread already mapped to another id
	ErrInsertFailed      ErrorCode = "INSERT_FAILED"      // batch insert rejected by the target
	ErrInvalidConfig     ErrorCode = "INVALID_CONFIG"     // configuration rejected at startup
	ErrInternal          ErrorCode = "INTERNAL"
)

// MigrateError is a structured error with a code, message, optional cause and details.
type MigrateError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]any
}

// Error implements the error interface.
func (e *MigrateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *MigrateError) Unwrap() error {
	return e.Cause
}

// NewConnectivity creates an error for an unreachable backend.
func NewConnectivity(backend string, err error) *MigrateError {
	return &MigrateError{
		Code:    ErrConnectivity,
		Message: fmt.Sprintf("failed to connect to %s", backend),
		Cause:   err,
		Details: map[string]any{"backend": backend},
	}
}

// NewCheckpointCorrupt creates an error for a checkpoint record that cannot be read.
func NewCheckpointCorrupt(location string, err error) *MigrateError {
	return &MigrateError{
		Code:    ErrCheckpointCorrupt,
		Message: fmt.Sprintf("checkpoint at %s is unreadable; fix or delete it to start over", location),
		Cause:   err,
		Details: map[string]any{"location": location},
	}
}

// NewMappingConflict creates an error for a second, different mapping of one source thread.
func NewMappingConflict(sourceID, existing, attempted int64) *MigrateError {
	return &MigrateError{
		Code:    ErrMappingConflict,
		Message: fmt.Sprintf("thread %d is already mapped to %d, refusing to remap to %d", sourceID, existing, attempted),
		Details: map[string]any{"source_id": sourceID, "existing": existing, "attempted": attempted},
	}
}

// NewInsertFailed creates an error for a rejected batch insert.
func NewInsertFailed(board string, firstNo, lastNo int64, err error) *MigrateError {
	return &MigrateError{
		Code:    ErrInsertFailed,
		Message: fmt.Sprintf("failed to insert posts %d-%d into board %s", firstNo, lastNo, board),
		Cause:   err,
		Details: map[string]any{"board": board, "first_no": firstNo, "last_no": lastNo},
	}
}

// NewInvalidConfig creates an error for rejected configuration.
func NewInvalidConfig(msg string) *MigrateError {
	return &MigrateError{
		Code:    ErrInvalidConfig,
		Message: msg,
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *MigrateError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &MigrateError{
		Code:    ErrInternal,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err, or anything it wraps, is a MigrateError with the given code.
func Is(err error, code ErrorCode) bool {
	var mErr *MigrateError
	if stderrors.As(err, &mErr) {
		return mErr.Code == code
	}
	return false
}
