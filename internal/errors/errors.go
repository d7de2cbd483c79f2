// Package errors provides coded application errors shared across the client.
package errors

import "fmt"

// ErrorCode identifies a class of failure for logging and user messaging.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrSyncFailed    ErrorCode = "SYNC_FAILED"
	ErrSyncOffline   ErrorCode = "SYNC_OFFLINE"
	ErrSyncTimeout   ErrorCode = "SYNC_TIMEOUT"
	ErrSyncRejected  ErrorCode = "SYNC_OPERATION_REJECTED"
	ErrSyncExhausted ErrorCode = "SYNC_RETRIES_EXHAUSTED"
	ErrQueueFull     ErrorCode = "QUEUE_FULL"

	// Transport errors
	ErrTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
)

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

// CodeOf returns the code carried by err, or ErrInternal for errors
// from outside the application.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
