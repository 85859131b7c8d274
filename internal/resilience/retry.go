package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Policy configures a retry executor.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry; subsequent delays
	// double up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// Jitter inflates each delay by up to 25% uniform random, to
	// desynchronize concurrent retriers.
	Jitter bool

	// Retryable decides whether an error is worth retrying. Nil falls back
	// to DefaultRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Jitter:     true,
	}
}

// Delay returns the backoff delay for the given 1-indexed attempt:
// min(BaseDelay * 2^(attempt-1), MaxDelay), before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Retrier wraps operations with bounded retry and exponential backoff.
type Retrier struct {
	policy Policy
	logger *slog.Logger

	// sleep suspends the calling flow between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier with the given policy.
func NewRetrier(policy Policy, logger *slog.Logger) *Retrier {
	if policy.Retryable == nil {
		policy.Retryable = DefaultRetryable
	}
	return &Retrier{
		policy: policy,
		logger: logger.With("component", "retrier"),
		sleep:  sleepContext,
	}
}

// Execute runs op, retrying retryable failures up to the policy's bound.
// Non-retryable errors and the last error after exhaustion propagate
// unchanged.
func (r *Retrier) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxRetries+1; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !r.policy.Retryable(lastErr) {
			return lastErr
		}
		if attempt > r.policy.MaxRetries {
			break
		}

		delay := r.delayWithJitter(attempt)
		r.logger.Debug("retrying after failure",
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// ExecuteWithCondition runs op through the retrier, additionally retrying
// successful results for which retryIf returns true. It generalizes Execute
// for calls that can succeed yet semantically mean "try again".
func ExecuteWithCondition[T any](
	ctx context.Context,
	r *Retrier,
	op func(ctx context.Context) (T, error),
	retryIf func(T) bool,
) (T, error) {
	var (
		result  T
		lastErr error
	)

	for attempt := 1; attempt <= r.policy.MaxRetries+1; attempt++ {
		result, lastErr = op(ctx)

		if lastErr != nil {
			if !r.policy.Retryable(lastErr) {
				return result, lastErr
			}
		} else if !retryIf(result) {
			return result, nil
		}

		if attempt > r.policy.MaxRetries {
			break
		}

		delay := r.delayWithJitter(attempt)
		r.logger.Debug("retrying on condition",
			"attempt", attempt,
			"delay", delay)

		if err := r.sleep(ctx, delay); err != nil {
			return result, err
		}
	}

	return result, lastErr
}

func (r *Retrier) delayWithJitter(attempt int) time.Duration {
	delay := r.policy.Delay(attempt)
	if r.policy.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}

// sleepContext suspends the calling flow for d without busy-waiting,
// returning early if ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
