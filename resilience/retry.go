package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mattercertis/crawlcore/corelog"
)

// Permanent marks err as non-retryable: Retry stops immediately instead of
// consuming the rest of the attempt budget. Callers use this to escalate a
// classification (e.g. a RemoteSchemaDrift that should not be retried)
// without waiting through the backoff schedule first.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// RetryConfig mirrors the spec's RetryPolicy: how many times to try, and the
// backoff shape between attempts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// JitterBound is the upper bound of the uniform jitter added to every
	// delay; the spec fixes this at 1 second.
	JitterBound time.Duration
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		JitterBound: 1 * time.Second,
	}
}

// specBackoff implements backoff.BackOff with the exact delay formula from
// spec §4.4: base * 2^n + uniform_jitter(0, jitterBound), capped at maxDelay.
type specBackoff struct {
	cfg     *RetryConfig
	attempt int
}

func newSpecBackoff(cfg *RetryConfig) *specBackoff {
	return &specBackoff{cfg: cfg}
}

func (b *specBackoff) NextBackOff() time.Duration {
	n := b.attempt
	b.attempt++

	delay := b.cfg.BaseDelay * time.Duration(1<<uint(n))
	if b.cfg.JitterBound > 0 {
		delay += time.Duration(rand.Int63n(int64(b.cfg.JitterBound)))
	}
	if b.cfg.MaxDelay > 0 && delay > b.cfg.MaxDelay {
		delay = b.cfg.MaxDelay
	}
	return delay
}

func (b *specBackoff) Reset() {
	b.attempt = 0
}

// Delay computes the spec's exact backoff formula for a given 0-based
// attempt number, without driving a full Retry loop. BatchActor's
// stage-level retry (spec.md §4.2) re-invokes a whole stage rather than a
// single action, so it needs the delay on its own rather than through
// Retry's callback-driven loop.
func Delay(base, maxDelay, jitterBound time.Duration, attempt int) time.Duration {
	cfg := &RetryConfig{BaseDelay: base, MaxDelay: maxDelay, JitterBound: jitterBound}
	bo := &specBackoff{cfg: cfg, attempt: attempt}
	return bo.NextBackOff()
}

// OnRetry is invoked between attempts with the 0-based attempt number that
// just failed and the error it failed with; callers use it to publish
// TaskRetrying events.
type OnRetry func(attempt int, err error)

// Retry runs fn up to config.MaxAttempts times, sleeping according to
// specBackoff between attempts, and aborting immediately if ctx is
// cancelled. It returns the last error, wrapped with corelog.ErrMaxRetriesExceeded,
// if every attempt failed.
func Retry(ctx context.Context, config *RetryConfig, onRetry OnRetry, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	bo := newSpecBackoff(config)
	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		var permErr *backoff.PermanentError
		if onRetry != nil && attempt < config.MaxAttempts-1 && !errors.As(err, &permErr) {
			onRetry(attempt, err)
		}
		attempt++
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(config.MaxAttempts)))

	if err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			return permErr.Unwrap()
		}
		return fmt.Errorf("max retry attempts (%d) exceeded: %w: %w", config.MaxAttempts, err, corelog.ErrMaxRetriesExceeded)
	}
	return nil
}

// RetryWithCircuitBreaker combines Retry with a CircuitBreaker: every attempt
// first checks CanExecute and, if the circuit is open, fails fast without
// consuming a retry.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, onRetry OnRetry, fn func() error) error {
	return Retry(ctx, config, onRetry, func() error {
		if !cb.CanExecute() {
			return Permanent(corelog.ErrCircuitBreakerOpen)
		}
		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	})
}
