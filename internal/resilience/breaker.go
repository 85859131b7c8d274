// Package resilience provides the failure-handling primitives shared by all
// services: a three-state circuit breaker and a bounded retry executor with
// exponential backoff.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker is
// open. It is a degraded-mode signal for the caller, not a new failure, and
// the wrapped operation is never invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState identifies the breaker's position in its state machine.
type BreakerState string

// Breaker states.
const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig holds the breaker's thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from CLOSED to OPEN.
	FailureThreshold int

	// OpenDuration is how long the breaker stays OPEN before permitting a
	// single HALF_OPEN trial call.
	OpenDuration time.Duration
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
	}
}

// Snapshot is a point-in-time view of a breaker for monitoring.
type Snapshot struct {
	Name                string
	State               BreakerState
	ConsecutiveFailures int
	FailureThreshold    int
	OpenDuration        time.Duration
	LastFailure         time.Time
	NextRetry           time.Time
	TotalCalls          uint64
	TotalSuccesses      uint64
	TotalFailures       uint64
}

// CircuitBreaker gates calls to one resource. After FailureThreshold
// consecutive failures it opens and fails fast; once OpenDuration elapses a
// single trial call is admitted, and its outcome alone decides whether the
// breaker closes again or re-opens.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time
	nextRetry           time.Time
	trialInFlight       bool
	totalCalls          uint64
	totalSuccesses      uint64
	totalFailures       uint64

	clock  func() time.Time
	logger *slog.Logger
}

// NewCircuitBreaker creates a closed breaker for the named resource.
// Non-positive config fields fall back to the defaults.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	defaults := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = defaults.OpenDuration
	}

	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		clock:  time.Now,
		logger: logger.With("component", "circuit_breaker", "breaker", name),
	}
}

// Execute runs op through the breaker. While OPEN and before the cooldown
// elapses it returns ErrCircuitOpen without invoking op. In HALF_OPEN
// exactly one caller is elected as the trial; concurrent callers are
// rejected as still-open rather than queued.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = op(ctx)
	b.record(err, trial)
	return err
}

// admit decides whether the caller may proceed, electing it as the
// HALF_OPEN trial when appropriate.
func (b *CircuitBreaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	switch b.state {
	case StateOpen:
		if now.Before(b.nextRetry) {
			return false, ErrCircuitOpen
		}
		// Cooldown elapsed: move to HALF_OPEN and elect this caller.
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.logger.Info("circuit breaker half-open, admitting trial call")
		b.totalCalls++
		return true, nil

	case StateHalfOpen:
		if b.trialInFlight {
			return false, ErrCircuitOpen
		}
		b.trialInFlight = true
		b.totalCalls++
		return true, nil

	default: // StateClosed
		b.totalCalls++
		return false, nil
	}
}

// record applies the outcome of an admitted call.
func (b *CircuitBreaker) record(opErr error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	if opErr == nil {
		b.totalSuccesses++
		b.consecutiveFailures = 0
		if trial {
			b.trialInFlight = false
			b.state = StateClosed
			b.logger.Info("circuit breaker closed after successful trial")
		}
		return
	}

	b.totalFailures++
	b.consecutiveFailures++
	b.lastFailure = now

	if trial {
		b.trialInFlight = false
		b.state = StateOpen
		b.nextRetry = now.Add(b.cfg.OpenDuration)
		b.logger.Warn("circuit breaker re-opened after failed trial",
			"next_retry", b.nextRetry)
		return
	}

	if b.state == StateClosed && b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.nextRetry = now.Add(b.cfg.OpenDuration)
		b.logger.Warn("circuit breaker opened",
			"consecutive_failures", b.consecutiveFailures,
			"next_retry", b.nextRetry)
	}
}

// State returns the breaker's current state, accounting for an elapsed
// cooldown (an OPEN breaker past its retry time reports HALF_OPEN).
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !b.clock().Before(b.nextRetry) {
		return StateHalfOpen
	}
	return b.state
}

// Reset returns the breaker to CLOSED and clears the consecutive-failure
// counter. Lifetime counters are preserved.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFailures = 0
	b.trialInFlight = false
	b.logger.Info("circuit breaker reset")
}

// SnapshotState returns a point-in-time view for monitoring.
func (b *CircuitBreaker) SnapshotState() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailureThreshold:    b.cfg.FailureThreshold,
		OpenDuration:        b.cfg.OpenDuration,
		LastFailure:         b.lastFailure,
		NextRetry:           b.nextRetry,
		TotalCalls:          b.totalCalls,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
	}
}
