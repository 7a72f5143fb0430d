// Package errhandling provides error types, classification, and retry utilities.
// This file defines the transient/fatal classification used when fetching
// remote source files.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorCategory represents the type/category of an error.
// Categories help determine the appropriate error handling strategy.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryNetwork represents network-related errors (timeout, connection refused, DNS).
	// Network errors are typically transient and retryable.
	CategoryNetwork ErrorCategory = "network"

	// CategoryClient represents 4xx responses other than 404 and 429.
	// Client errors are fatal - retrying the same request will not help.
	CategoryClient ErrorCategory = "client"

	// CategoryRateLimit represents rate limiting errors (429).
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryServer represents server errors (5xx).
	CategoryServer ErrorCategory = "server"

	// CategoryNotFound represents not found errors (404).
	// The source file moved or was never published.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryProcess represents errors raised by the ETL itself.
	// Process errors are never retried.
	CategoryProcess ErrorCategory = "process"

	// CategoryUnknown represents unclassified errors.
	// Unknown errors are retryable by default (transient more likely than permanent).
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Retryable indicates whether the error is transient and can be retried.
	Retryable bool

	// StatusCode is the HTTP status code (0 if not an HTTP error).
	StatusCode int

	// Message is a human-readable error message.
	Message string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyHTTPStatus classifies an HTTP error based on status code.
//
// Classification rules:
//   - 404: Not found errors (not retryable)
//   - 429: Rate limit errors (retryable)
//   - 5xx: Server errors (retryable)
//   - Other 4xx: Client errors (not retryable)
//   - Unknown status codes: CategoryUnknown (retryable by default)
func ClassifyHTTPStatus(statusCode int, message string) *ClassifiedError {
	switch {
	case statusCode == 404:
		return &ClassifiedError{Category: CategoryNotFound, StatusCode: statusCode, Message: "not found"}
	case statusCode == 429:
		return &ClassifiedError{Category: CategoryRateLimit, Retryable: true, StatusCode: statusCode, Message: "rate limited"}
	case statusCode == 502:
		return &ClassifiedError{Category: CategoryServer, Retryable: true, StatusCode: statusCode, Message: "bad gateway"}
	case statusCode == 503:
		return &ClassifiedError{Category: CategoryServer, Retryable: true, StatusCode: statusCode, Message: "service unavailable"}
	case statusCode == 504:
		return &ClassifiedError{Category: CategoryServer, Retryable: true, StatusCode: statusCode, Message: "gateway timeout"}
	case statusCode >= 500:
		return &ClassifiedError{Category: CategoryServer, Retryable: true, StatusCode: statusCode, Message: "server error"}
	case statusCode >= 400:
		return &ClassifiedError{Category: CategoryClient, StatusCode: statusCode, Message: "client error"}
	default:
		return &ClassifiedError{Category: CategoryUnknown, Retryable: true, StatusCode: statusCode, Message: message}
	}
}

// ClassifyNetworkError classifies a network-related error.
//
// Classification rules:
//   - Timeout errors: Network category (retryable)
//   - Context canceled: Network category (not retryable)
//   - Connection refused, DNS, URL errors: Network category (retryable)
//   - Unknown: Unknown category (retryable by default)
func ClassifyNetworkError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewNetworkError("request timeout", err)
	}

	// User initiated, never retried
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Category: CategoryNetwork, Message: "context canceled", OriginalErr: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewNetworkError(fmt.Sprintf("network error: %s %s", opErr.Op, opErr.Net), err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewNetworkError(fmt.Sprintf("DNS error: %s", dnsErr.Name), err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NewNetworkError(fmt.Sprintf("URL error: %s %s", urlErr.Op, urlErr.URL), err)
	}

	type timeoutError interface {
		Timeout() bool
	}
	var timeoutErr timeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return NewNetworkError("timeout", err)
	}

	return &ClassifiedError{Category: CategoryUnknown, Retryable: true, Message: err.Error(), OriginalErr: err}
}

// ClassifyError classifies any error into a ClassifiedError.
// It handles already classified errors, process errors, and network errors.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var procErr *ProcessError
	if errors.As(err, &procErr) {
		return &ClassifiedError{Category: CategoryProcess, Message: procErr.Message, OriginalErr: err}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &ClassifiedError{Category: CategoryProcess, Message: valErr.Message, OriginalErr: err}
	}

	return ClassifyNetworkError(err)
}

// IsRetryable returns true if the error is classified as retryable.
// Nil errors return false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Retryable
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil errors.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	return ClassifyError(err).Category
}

// NewNetworkError creates a ClassifiedError for network errors.
func NewNetworkError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryNetwork,
		Retryable:   true,
		Message:     message,
		OriginalErr: originalErr,
	}
}
