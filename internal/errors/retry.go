package errors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffStrategy names the delay progression between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds a retry loop. MaxAttempts counts the first call; zero or a
// negative value means the loop only ends on success or cancellation.
type RetryPolicy struct {
	MaxAttempts  int
	Strategy     BackoffStrategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       bool
}

// FixedPolicy returns a policy waiting the same delay between every attempt.
func FixedPolicy(maxAttempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  maxAttempts,
		Strategy:     BackoffFixed,
		InitialDelay: delay,
		MaxDelay:     delay,
	}
}

// Unbounded reports whether the policy retries until success.
func (p RetryPolicy) Unbounded() bool {
	return p.MaxAttempts <= 0
}

// NewBackOff builds a fresh backoff strategy for one retry loop.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	maxDelay := p.MaxDelay
	if maxDelay < p.InitialDelay {
		maxDelay = p.InitialDelay
	}

	var strategy backoff.BackOff
	switch p.Strategy {
	case BackoffFixed, "":
		strategy = backoff.NewConstantBackOff(p.InitialDelay)
	case BackoffLinear:
		strategy = &LinearBackoff{
			interval: p.InitialDelay,
			max:      maxDelay,
		}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = p.InitialDelay
		exponential.MaxInterval = maxDelay
		exponential.RandomizationFactor = 0
		exponential.MaxElapsedTime = 0
		strategy = exponential
	}

	if p.Jitter {
		strategy = &JitteredBackoff{BackOff: strategy}
	}
	strategy.Reset()
	return strategy
}

// Validate checks that the policy can drive a retry loop.
func (p RetryPolicy) Validate() error {
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative, got %s", p.InitialDelay)
	}
	switch p.Strategy {
	case "", BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff strategy %q", p.Strategy)
	}
	return nil
}

// Sleeper blocks for a duration. Implementations must return early with the
// context error when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on the wall clock.
type TimerSleeper struct{}

// Sleep waits for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier runs an operation under a RetryPolicy.
type Retrier struct {
	Policy  RetryPolicy
	Sleeper Sleeper
	Logger  *slog.Logger

	// ShouldRetry decides whether a failed attempt may be retried. The default
	// retries everything not marked with Permanent.
	ShouldRetry func(err error) bool

	// BeforeRetry runs after the backoff wait and before the next attempt.
	// A returned error ends the loop with that error.
	BeforeRetry func(ctx context.Context, attempt int) error
}

// NewRetrier creates a retrier with a wall clock sleeper.
func NewRetrier(policy RetryPolicy, logger *slog.Logger) *Retrier {
	return &Retrier{
		Policy:  policy,
		Sleeper: TimerSleeper{},
		Logger:  logger,
	}
}

// Do calls fn until it succeeds, the policy is exhausted, a failure is not
// retryable or ctx is done. Exhaustion and non-retryable failures are reported
// as *ExhaustedError wrapping the last cause.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context, attempt int) error) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleeper := r.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	shouldRetry := r.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return !IsPermanent(err) }
	}

	strategy := r.Policy.NewBackOff()
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", operation, err)
		}

		attempts++
		err := fn(ctx, attempts)
		if err == nil {
			if attempts > 1 {
				logger.Info("operation succeeded after retry",
					"operation", operation,
					"attempts", attempts)
			}
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s canceled: %w: %w", operation, ctxErr, err)
		}

		logger.Warn("operation failed",
			"operation", operation,
			"attempt", attempts,
			"max_attempts", r.Policy.MaxAttempts,
			"error_type", GetErrorType(err),
			"error", err.Error())

		if !shouldRetry(err) {
			return &ExhaustedError{Operation: operation, Attempts: attempts, Err: err}
		}
		if !r.Policy.Unbounded() && attempts >= r.Policy.MaxAttempts {
			return &ExhaustedError{Operation: operation, Attempts: attempts, Err: err}
		}

		wait := strategy.NextBackOff()
		if wait == backoff.Stop {
			return &ExhaustedError{Operation: operation, Attempts: attempts, Err: err}
		}

		logger.Info("waiting before retry",
			"operation", operation,
			"attempt", attempts,
			"delay", wait.String())

		if serr := sleeper.Sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s canceled during backoff: %w", operation, serr)
		}

		if r.BeforeRetry != nil {
			if herr := r.BeforeRetry(ctx, attempts); herr != nil {
				return fmt.Errorf("%s: preparing attempt %d: %w", operation, attempts+1, herr)
			}
		}
	}
}

// LinearBackoff implements a simple linear backoff strategy
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.max > 0 && lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	jitter := float64(next) * 0.1
	offset := (2.0*float64(time.Now().UnixNano()%1000)/1000.0 - 1.0) * jitter
	return next + time.Duration(offset)
}
