package idempotency

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSweepInterval is how often expired ledger and tracker records are
// purged when no interval is configured.
const DefaultSweepInterval = 10 * time.Minute

// sweepable is the part of the record store the sweeper needs.
type sweepable interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically purges expired records from a store. It runs on its
// own ticker and never blocks foreground event handling; sweep failures are
// logged, never fatal.
type Sweeper struct {
	store    sweepable
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	running  atomic.Bool
}

// NewSweeper creates a Sweeper. A non-positive interval falls back to
// DefaultSweepInterval.
func NewSweeper(store sweepable, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		clock:    time.Now,
		logger:   logger.With("component", "ttl_sweeper"),
	}
}

// Start launches the sweep loop. It returns immediately; the loop stops when
// ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)

	go func() {
		defer s.running.Store(false)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.store.Sweep(ctx, s.clock())
				if err != nil {
					s.logger.Error("sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					s.logger.Debug("swept expired records", "removed", removed)
				}
			}
		}
	}()
}

// Running reports whether the sweep loop is active. Readiness checks use
// this to refuse traffic until sweeps are in place.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}
