package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskmesh/taskmesh/internal/delivery"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/idempotency"
	"github.com/taskmesh/taskmesh/internal/scheduler"
)

// ReminderService turns ReminderScheduled events into one-shot scheduler
// triggers and delivers the reminder when the trigger fires. Delivery is
// ledger-gated so a redelivered trigger cannot notify twice.
type ReminderService struct {
	scheduler *scheduler.Scheduler
	notifier  Notifier
	ledger    *idempotency.Ledger
	bus       events.Publisher
	channel   string
	logger    *slog.Logger
}

// NewReminderService creates a ReminderService delivering on the given
// primary channel. The scheduler may be nil at construction and injected
// with SetScheduler, since the scheduler's fire callback is the service's
// own FireTrigger.
func NewReminderService(
	sched *scheduler.Scheduler,
	notifier Notifier,
	ledger *idempotency.Ledger,
	bus events.Publisher,
	channel string,
	logger *slog.Logger,
) *ReminderService {
	return &ReminderService{
		scheduler: sched,
		notifier:  notifier,
		ledger:    ledger,
		bus:       bus,
		channel:   channel,
		logger:    logger.With("component", "reminder_service"),
	}
}

// SetScheduler injects the trigger scheduler after construction.
func (s *ReminderService) SetScheduler(sched *scheduler.Scheduler) {
	s.scheduler = sched
}

// Register subscribes the service to the reminders topic.
func (s *ReminderService) Register(sub events.Subscriber) {
	sub.Subscribe(events.TopicReminders, s)
}

// HandleEvent dispatches one inbound reminder event.
func (s *ReminderService) HandleEvent(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.TypeReminderScheduled:
		return s.handleScheduled(ctx, env)
	case events.TypeReminderCancelled:
		return s.handleCancelled(ctx, env)
	default:
		return nil
	}
}

// handleScheduled registers a one-shot trigger for the reminder's delivery
// time. Registration replaces any existing trigger for the same reminder,
// so redelivered ReminderScheduled events are harmless.
func (s *ReminderService) handleScheduled(ctx context.Context, env *events.Envelope) error {
	var payload ReminderEventPayload
	if err := env.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal reminder payload: %w", err)
	}

	rem := payload.Reminder
	if err := rem.Validate(); err != nil {
		return err
	}

	correlationID := rem.CorrelationID
	if correlationID == "" {
		correlationID = env.CorrelationID
	}

	s.scheduler.Register(scheduler.Trigger{
		ReminderID:    rem.ID,
		TaskID:        rem.TaskID,
		UserID:        rem.UserID,
		ScheduledTime: rem.RemindAt,
		CorrelationID: correlationID,
	})

	rec, auditErr := domain.NewAuditRecord("", "reminder.schedule", "reminder", rem.ID.String())
	if auditErr == nil {
		rec.After = snapshot(rem)
		rec.Source = "reminder-service"
		publishAudit(ctx, s.bus, s.logger, rec, correlationID)
	}

	s.logger.Info("reminder trigger registered",
		"reminder_id", rem.ID,
		"remind_at", rem.RemindAt,
		"correlation_id", correlationID)
	return nil
}

func (s *ReminderService) handleCancelled(ctx context.Context, env *events.Envelope) error {
	var payload ReminderEventPayload
	if err := env.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal reminder payload: %w", err)
	}

	s.scheduler.Cancel(payload.Reminder.ID)

	rec, auditErr := domain.NewAuditRecord(
		"", "reminder.cancel", "reminder", payload.Reminder.ID.String())
	if auditErr == nil {
		rec.Source = "reminder-service"
		publishAudit(ctx, s.bus, s.logger, rec, env.CorrelationID)
	}
	return nil
}

// FireTrigger is the scheduler callback: deliver the reminder exactly once
// and publish the outcome.
func (s *ReminderService) FireTrigger(ctx context.Context, t scheduler.Trigger) error {
	key := idempotency.RecordKey("reminder", t.ReminderID.String(), "deliver", "")

	_, err := s.ledger.RunIdempotent(ctx, key, func(ctx context.Context) ([]byte, error) {
		n := delivery.NewNotification(t.UserID, "Task reminder", "")
		n.TaskID = t.TaskID
		n.CorrelationID = t.CorrelationID

		if err := s.notifier.Deliver(ctx, s.channel, n); err != nil {
			return nil, err
		}
		return snapshot(n), nil
	})

	eventType := events.TypeReminderDelivered
	if err != nil {
		eventType = events.TypeReminderFailed
	}

	env, envErr := events.NewEnvelope(eventType, map[string]interface{}{
		"reminderId": t.ReminderID,
		"taskId":     t.TaskID,
		"userId":     t.UserID,
	}, t.CorrelationID)
	if envErr == nil {
		if pubErr := s.bus.Publish(ctx, events.TopicReminders, env); pubErr != nil {
			s.logger.Error("failed to publish reminder outcome",
				"error", pubErr,
				"event_type", eventType,
				"reminder_id", t.ReminderID)
		}
	}

	if err != nil {
		// Degraded delivery is handled by the deferred queue; retrying the
		// trigger would duplicate that work.
		if Degraded(err) {
			s.logger.Warn("reminder delivery degraded to deferred retry",
				"reminder_id", t.ReminderID)
			return nil
		}
		return err
	}

	s.logger.Info("reminder delivered",
		"reminder_id", t.ReminderID,
		"correlation_id", t.CorrelationID)
	return nil
}

var _ events.Handler = (*ReminderService)(nil)
