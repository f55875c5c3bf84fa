// Package errors provides the error taxonomy and retry classification used by the
// dataset sync pipeline. Every error type here unwraps to its underlying cause so
// callers can use errors.Is and errors.As across package boundaries.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork     ErrorType = "network"      // Network connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Rate limiting from the exchange
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx errors
	ErrorTypePublish     ErrorType = "publish"      // Dataset hosting failures

	// Non-retryable error types
	ErrorTypeBadRequest      ErrorType = "bad_request"      // HTTP 4xx errors (except rate limit)
	ErrorTypeFormatAmbiguity ErrorType = "format_ambiguity" // Timestamp column cannot be classified
	ErrorTypeMergeInvariant  ErrorType = "merge_invariant"  // Merged dataset is not unique and sorted
	ErrorTypeCanceled        ErrorType = "canceled"         // Context cancellation

	ErrorTypeUnknown ErrorType = "unknown" // Unclassified errors
)

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err       error     `json:"error"`
	Type      ErrorType `json:"type"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return false
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata.
// Errors that are already classified are returned unchanged.
func Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	return &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Retryable: isRetryable(errorType, err),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// classifyErrorType determines the error type based on the error chain and content
func classifyErrorType(err error) ErrorType {
	var (
		ambiguity *FormatAmbiguityError
		invariant *MergeInvariantViolation
		publish   *PublishError
		conn      *ConnectivityError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.As(err, &ambiguity):
		return ErrorTypeFormatAmbiguity
	case errors.As(err, &invariant):
		return ErrorTypeMergeInvariant
	case errors.As(err, &publish):
		return ErrorTypePublish
	case errors.As(err, &conn):
		return ErrorTypeNetwork
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		return ErrorTypeRateLimit
	}

	if strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "bad gateway") {
		return ErrorTypeServerError
	}

	if strings.Contains(errStr, "client error") ||
		strings.Contains(errStr, "invalid symbol") {
		return ErrorTypeBadRequest
	}

	return ErrorTypeUnknown
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"connection aborted",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"no such host",
		"eof",
		"proxyconnect",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isRetryable determines if an error type should be retried
func isRetryable(errorType ErrorType, err error) bool {
	if IsPermanent(err) {
		return false
	}

	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit,
		ErrorTypeServerError, ErrorTypePublish:
		return true
	case ErrorTypeBadRequest, ErrorTypeFormatAmbiguity, ErrorTypeMergeInvariant,
		ErrorTypeCanceled:
		return false
	default:
		// Unknown errors are retryable with caution
		return true
	}
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err, "", "").Retryable
}

// GetErrorType extracts the error type, classifying err if needed
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	return Classify(err, "", "").Type
}

// Permanent marks err as non-retryable. Retry loops stop at the first permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err, or any error it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}
