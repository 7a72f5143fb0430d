package errhandling

import (
	"errors"
	"fmt"
)

// Process error codes
const (
	CodeHTTPStatus          = "HTTP_STATUS"
	CodeDownloadFailed      = "DOWNLOAD_FAILED"
	CodeArchiveCorrupt      = "ARCHIVE_CORRUPT"
	CodeToolMissing         = "TOOL_MISSING"
	CodeToolFailed          = "TOOL_FAILED"
	CodeEmptyResult         = "EMPTY_RESULT"
	CodeSizeOutOfTolerance  = "SIZE_OUT_OF_TOLERANCE"
	CodeSchemaMismatch      = "SCHEMA_MISMATCH"
	CodeDependencyEmpty     = "DEPENDENCY_EMPTY"
	CodeInvalidRange        = "INVALID_RANGE"
	CodeInputRequired       = "INPUT_REQUIRED"
	CodeExportFailed        = "EXPORT_FAILED"
	CodeCopyFailed          = "COPY_FAILED"
	CodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
)

// ProcessError is a fatal error raised by a step.
// A ProcessError aborts the enclosing Process and rolls back its transaction.
type ProcessError struct {
	// Step is the name of the step that raised the error
	Step string

	// Code is one of the Code* constants
	Code string

	// Message is a human-readable description
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	msg := e.Message
	if e.Step != "" {
		msg = fmt.Sprintf("%s: %s", e.Step, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NewProcessError creates a ProcessError for a step.
func NewProcessError(step, code, message string, err error) *ProcessError {
	return &ProcessError{Step: step, Code: code, Message: message, Err: err}
}

// ProcessErrorf creates a ProcessError with a formatted message.
func ProcessErrorf(step, code, format string, args ...any) *ProcessError {
	return &ProcessError{Step: step, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsProcessError reports whether err is or wraps a ProcessError.
func IsProcessError(err error) bool {
	var procErr *ProcessError
	return errors.As(err, &procErr)
}

// ProcessErrorCode returns the code of the ProcessError wrapped by err,
// or an empty string.
func ProcessErrorCode(err error) string {
	var procErr *ProcessError
	if errors.As(err, &procErr) {
		return procErr.Code
	}
	return ""
}

// ValidationError rejects a single source row.
// The offending row is recorded in the report and processing continues.
type ValidationError struct {
	// Key is the natural key of the rejected row
	Key string

	// Message is a human-readable description
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("row %s: %s", e.Key, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validationf creates a ValidationError with a formatted message.
// The key is filled in by the caller that knows which row is being processed.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AsValidationError returns the ValidationError wrapped by err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr, true
	}
	return nil, false
}
