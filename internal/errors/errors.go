// Package errors provides error code definitions for the sync core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to UI layers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrForbidden  ErrorCode = "FORBIDDEN"
	ErrAuth       ErrorCode = "AUTH_ERROR"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Transient errors (drive the retry/backoff path)
	ErrTimeout ErrorCode = "TIMEOUT"
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	ErrServer  ErrorCode = "SERVER_ERROR"
	ErrOffline ErrorCode = "OFFLINE"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Queue errors (structural: programming/integration faults, never retried)
	ErrOperationNotFound ErrorCode = "OPERATION_NOT_FOUND"
	ErrDependencyCycle   ErrorCode = "DEPENDENCY_CYCLE"
	ErrQueueFull         ErrorCode = "QUEUE_FULL"

	// Sync errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncConflict   ErrorCode = "SYNC_CONFLICT"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrCacheEmpty     ErrorCode = "CACHE_EMPTY"

	// Realtime errors
	ErrChannelNotFound ErrorCode = "CHANNEL_NOT_FOUND"
	ErrChannelClosed   ErrorCode = "CHANNEL_CLOSED"
)

// nonRetryable holds the error codes that must never be retried, regardless of
// remaining attempts.
var nonRetryable = map[ErrorCode]bool{
	ErrInvalid:    true,
	ErrAuth:       true,
	ErrForbidden:  true,
	ErrNotFound:   true,
	ErrValidation: true,
}

// IsRetryable reports whether an error code is eligible for retry.
func IsRetryable(code ErrorCode) bool {
	return !nonRetryable[code]
}

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the error code from an error, defaulting to NETWORK_ERROR
// for plain errors reaching the operation-execution boundary.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrNetwork
}
