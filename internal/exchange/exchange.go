// Package exchange defines the exchange session interfaces used by the fetcher
// and provides a Binance REST implementation.
//
// A Session is a short-lived connection to the exchange. Callers obtain a new
// one from a SessionFactory for every fetch attempt so that a broken transport
// (for example after a proxy restart) is never reused.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// KlineFetcher retrieves historical kline rows from an exchange.
type KlineFetcher interface {
	// GetHistoricalKlines returns every kline whose open time lies in
	// [start, end], oldest first. A zero end means "up to now". Pagination is
	// handled by the implementation. An empty slice with a nil error means the
	// exchange has no data for the range.
	GetHistoricalKlines(ctx context.Context, symbol string, interval models.Interval, start, end time.Time) ([]models.RawKline, error)
}

// HealthChecker verifies exchange reachability.
type HealthChecker interface {
	// Ping performs a lightweight liveness request.
	Ping(ctx context.Context) error
}

// Session combines the capabilities of one exchange connection.
type Session interface {
	KlineFetcher
	HealthChecker

	// Close releases idle connections held by the session.
	Close() error
}

// SessionFactory creates fresh exchange sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context) (Session, error)

// NewSession calls f(ctx).
func (f SessionFactoryFunc) NewSession(ctx context.Context) (Session, error) {
	return f(ctx)
}

// StatusError is a non-2xx response from the exchange.
type StatusError struct {
	StatusCode int
	Code       int    // exchange error code, when the body carried one
	Message    string // exchange error message or raw body
	Endpoint   string
}

func (e *StatusError) Error() string {
	kind := "client error"
	if e.StatusCode >= 500 {
		kind = "server error"
	}
	if e.StatusCode == 429 || e.StatusCode == 418 {
		kind = "rate limit"
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s %d on %s (code %d): %s", kind, e.StatusCode, e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %d on %s: %s", kind, e.StatusCode, e.Endpoint, e.Message)
}

// Retryable reports whether the status is worth another attempt: server
// errors and the exchange's rate limit answers (429, and 418 for IP bans).
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 418
}
