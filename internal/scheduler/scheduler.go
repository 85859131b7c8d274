// Package scheduler registers one-shot triggers for reminder delivery times
// and fires them into a callback when due, with a bounded retry count and an
// expiry after which a trigger is dropped.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Defaults for trigger registration.
const (
	DefaultTick        = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultExpiry      = 24 * time.Hour
)

// Trigger is one scheduled reminder delivery.
type Trigger struct {
	ReminderID    uuid.UUID `json:"reminderId"`
	TaskID        uuid.UUID `json:"taskId"`
	UserID        string    `json:"userId"`
	ScheduledTime time.Time `json:"scheduledTime"`
	CorrelationID string    `json:"correlationId"`

	// Attempts counts failed fires; at MaxAttempts the trigger is dropped.
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// FireFunc is invoked for each due trigger. A returned error counts as a
// failed attempt and the trigger is retried on a later tick.
type FireFunc func(ctx context.Context, t Trigger) error

// Scheduler holds registered triggers and fires them when due.
type Scheduler struct {
	mu       sync.Mutex
	triggers map[uuid.UUID]*Trigger

	fire     FireFunc
	tick     time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	running  atomic.Bool
}

// New creates a Scheduler firing due triggers into fn. A non-positive tick
// falls back to DefaultTick.
func New(fn FireFunc, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		triggers: make(map[uuid.UUID]*Trigger),
		fire:     fn,
		tick:     tick,
		clock:    time.Now,
		logger:   logger.With("component", "scheduler"),
	}
}

// Register adds or replaces the trigger for its reminder. Zero retry and
// expiry bounds get the defaults.
func (s *Scheduler) Register(t Trigger) {
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = t.ScheduledTime.Add(DefaultExpiry)
	}

	s.mu.Lock()
	s.triggers[t.ReminderID] = &t
	s.mu.Unlock()

	s.logger.Debug("registered trigger",
		"reminder_id", t.ReminderID,
		"scheduled_time", t.ScheduledTime,
		"correlation_id", t.CorrelationID)
}

// Cancel removes the trigger for the reminder, if any.
func (s *Scheduler) Cancel(reminderID uuid.UUID) {
	s.mu.Lock()
	_, ok := s.triggers[reminderID]
	delete(s.triggers, reminderID)
	s.mu.Unlock()

	if ok {
		s.logger.Debug("cancelled trigger", "reminder_id", reminderID)
	}
}

// Pending returns the number of registered triggers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// Start launches the tick loop. It returns immediately; the loop stops when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)

	go func() {
		defer s.running.Store(false)

		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fireDue(ctx)
			}
		}
	}()
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// fireDue invokes the callback for each due trigger. Failed fires stay
// registered with an incremented attempt count until MaxAttempts; expired
// triggers are dropped without firing.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.clock()

	s.mu.Lock()
	var due []*Trigger
	for id, t := range s.triggers {
		if !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt) {
			delete(s.triggers, id)
			s.logger.Warn("dropping expired trigger",
				"reminder_id", t.ReminderID,
				"scheduled_time", t.ScheduledTime,
				"expired_at", t.ExpiresAt)
			continue
		}
		if !t.ScheduledTime.After(now) {
			due = append(due, t)
			delete(s.triggers, id)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if err := s.fire(ctx, *t); err != nil {
			t.Attempts++
			if t.Attempts >= t.MaxAttempts {
				s.logger.Error("trigger dropped after exhausting attempts",
					"error", err,
					"reminder_id", t.ReminderID,
					"attempts", t.Attempts)
				continue
			}

			s.logger.Warn("trigger fire failed, will retry",
				"error", err,
				"reminder_id", t.ReminderID,
				"attempts", t.Attempts)

			s.mu.Lock()
			s.triggers[t.ReminderID] = t
			s.mu.Unlock()
		}
	}
}
