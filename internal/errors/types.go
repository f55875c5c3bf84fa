package errors

import (
	"fmt"
	"strings"
)

// ConnectivityError is a transient failure reaching the exchange: session
// creation, liveness check or a request that never produced a usable response.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity failure during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// FetchError is returned when a fetch exhausted its attempt budget.
// Err is the cause of the last failed attempt.
type FetchError struct {
	Window   string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.Window, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FormatAmbiguityError reports a timestamp column that cannot be classified as
// a single known encoding.
type FormatAmbiguityError struct {
	Column  string
	Reason  string
	Samples []string
}

func (e *FormatAmbiguityError) Error() string {
	msg := fmt.Sprintf("ambiguous timestamp format in column %q: %s", e.Column, e.Reason)
	if len(e.Samples) > 0 {
		msg += fmt.Sprintf(" (samples: %s)", strings.Join(e.Samples, ", "))
	}
	return msg
}

// MergeInvariantViolation reports a merged dataset that is not strictly unique
// and ascending by open time. It is fatal for the run that produced it.
type MergeInvariantViolation struct {
	Timeframe string
	Err       error
}

func (e *MergeInvariantViolation) Error() string {
	if e.Timeframe == "" {
		return fmt.Sprintf("merge invariant violated: %v", e.Err)
	}
	return fmt.Sprintf("merge invariant violated for %s: %v", e.Timeframe, e.Err)
}

func (e *MergeInvariantViolation) Unwrap() error { return e.Err }

// PublishError wraps a failure of the dataset hosting platform.
type PublishError struct {
	DatasetID string
	Op        string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s of dataset %s failed: %v", e.Op, e.DatasetID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// GlobalPipelineFailure is returned once the outer retry loop has spent its
// whole attempt budget.
type GlobalPipelineFailure struct {
	Attempts int
	Err      error
}

func (e *GlobalPipelineFailure) Error() string {
	return fmt.Sprintf("pipeline failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GlobalPipelineFailure) Unwrap() error { return e.Err }

// ExhaustedError is returned by Retrier.Do when MaxAttempts is reached or the
// backoff strategy stops. Callers usually rewrap it into a domain error.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
