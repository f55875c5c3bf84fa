// Package fetcher performs one logical kline fetch with bounded retries.
//
// Every attempt opens a fresh exchange session and pings it before asking for
// data. A failed attempt is followed by the policy's backoff wait and an
// optional network identity reset, so a stalled proxy circuit is replaced
// before the next try.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	errs "github.com/johnayoung/go-ohlcv-dataset-sync/internal/errors"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/exchange"
	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

// Fetcher is the contract the pipeline depends on.
type Fetcher interface {
	Fetch(ctx context.Context, window models.FetchWindow, policy errs.RetryPolicy) ([]models.RawKline, error)
}

// RetryingFetcher implements Fetcher over an exchange.SessionFactory.
type RetryingFetcher struct {
	factory  exchange.SessionFactory
	resetter NetworkResetter
	sleeper  errs.Sleeper
	logger   *slog.Logger
}

// New creates a fetcher. A nil resetter means NoopResetter and a nil sleeper
// means wall clock sleeps.
func New(factory exchange.SessionFactory, resetter NetworkResetter, sleeper errs.Sleeper, logger *slog.Logger) *RetryingFetcher {
	if resetter == nil {
		resetter = NoopResetter{}
	}
	if sleeper == nil {
		sleeper = errs.TimerSleeper{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingFetcher{
		factory:  factory,
		resetter: resetter,
		sleeper:  sleeper,
		logger:   logger.With("component", "fetcher"),
	}
}

// Fetch returns the raw klines of window. An empty result is an empty slice
// and a nil error. When every attempt fails, or an attempt fails in a way
// retrying cannot fix, the error is *errors.FetchError carrying the attempt
// count and the last cause.
func (f *RetryingFetcher) Fetch(ctx context.Context, window models.FetchWindow, policy errs.RetryPolicy) ([]models.RawKline, error) {
	if err := window.Validate(); err != nil {
		return nil, &errs.FetchError{
			Window: window.String(),
			Err:    errs.Permanent(fmt.Errorf("invalid window: %w", err)),
		}
	}

	retrier := &errs.Retrier{
		Policy:      policy,
		Sleeper:     f.sleeper,
		Logger:      f.logger,
		BeforeRetry: f.beforeRetry,
	}

	var rows []models.RawKline
	err := retrier.Do(ctx, "fetch "+window.String(), func(ctx context.Context, attempt int) error {
		f.logger.Debug("fetch attempt",
			"window", window.String(),
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts)

		result, err := f.attempt(ctx, window)
		if err != nil {
			return err
		}
		rows = result
		return nil
	})
	if err != nil {
		var exhausted *errs.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, &errs.FetchError{
				Window:   window.String(),
				Attempts: exhausted.Attempts,
				Err:      exhausted.Err,
			}
		}
		return nil, err
	}

	if rows == nil {
		rows = []models.RawKline{}
	}
	if len(rows) == 0 {
		f.logger.Info("no data returned for window", "window", window.String())
	}
	return rows, nil
}

// attempt runs one session: create, ping, fetch.
func (f *RetryingFetcher) attempt(ctx context.Context, window models.FetchWindow) ([]models.RawKline, error) {
	session, err := f.factory.NewSession(ctx)
	if err != nil {
		return nil, &errs.ConnectivityError{Op: "session", Err: err}
	}
	defer session.Close()

	if err := session.Ping(ctx); err != nil {
		return nil, &errs.ConnectivityError{Op: "ping", Err: err}
	}

	rows, err := session.GetHistoricalKlines(ctx, window.Symbol, window.Interval, window.Start, window.End)
	if err != nil {
		var statusErr *exchange.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, errs.Permanent(fmt.Errorf("klines request rejected: %w", err))
		}
		return nil, &errs.ConnectivityError{Op: "klines", Err: err}
	}
	return rows, nil
}

// beforeRetry resets the network identity and waits for it to settle. A
// failing reset is logged and does not consume an attempt.
func (f *RetryingFetcher) beforeRetry(ctx context.Context, attempt int) error {
	if err := f.resetter.Reset(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("network reset failed", "attempt", attempt, "error", err)
	}
	if d := f.resetter.SettleDelay(); d > 0 {
		return f.sleeper.Sleep(ctx, d)
	}
	return nil
}
