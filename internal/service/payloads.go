// Package service wires the reliability primitives to event subscriptions.
// Each service is thin glue: gate re-entrancy, run the business step, commit
// state, then publish.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
)

// Store key prefixes for service entity state.
const (
	taskKeyPrefix      = "task:"
	ruleKeyPrefix      = "rule:"
	ruleCountKeyPrefix = "rulecount:"
)

// TaskEventPayload carries a task occurrence through the tasks topic.
type TaskEventPayload struct {
	Occurrence domain.TaskOccurrence `json:"occurrence"`
	Actor      string                `json:"actor,omitempty"`
}

// RuleEventPayload carries a recurrence rule through the recurring topic.
type RuleEventPayload struct {
	Rule  domain.RecurrenceRule `json:"rule"`
	Actor string                `json:"actor,omitempty"`
}

// ReminderEventPayload carries a reminder through the reminders topic.
type ReminderEventPayload struct {
	Reminder domain.Reminder `json:"reminder"`
}

// GeneratedPayload announces the successor occurrence spawned by a
// completion.
type GeneratedPayload struct {
	RuleID     uuid.UUID             `json:"ruleId"`
	PreviousID uuid.UUID             `json:"previousId"`
	Next       domain.TaskOccurrence `json:"next"`
}

// ProcessingErrorPayload surfaces an exhausted per-entity failure to
// downstream and audit consumers.
type ProcessingErrorPayload struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Operation  string `json:"operation"`
	Error      string `json:"error"`
}

// NotificationEventPayload reports a notification delivery outcome.
type NotificationEventPayload struct {
	NotificationID uuid.UUID `json:"notificationId"`
	UserID         string    `json:"userId"`
	Channel        string    `json:"channel,omitempty"`
	Terminal       bool      `json:"terminal,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// publishAudit builds an AuditEntryCreated envelope and publishes it on the
// audit topic. Audit publication is best-effort: failures are logged, never
// propagated into the foreground flow.
func publishAudit(
	ctx context.Context,
	bus events.Publisher,
	logger *slog.Logger,
	record *domain.AuditRecord,
	correlationID string,
) {
	record.CorrelationID = correlationID

	env, err := events.NewEnvelope(events.TypeAuditEntryCreated, record, correlationID)
	if err != nil {
		logger.Error("failed to build audit event", "error", err)
		return
	}
	if err := bus.Publish(ctx, events.TopicAudit, env); err != nil {
		logger.Error("failed to publish audit event", "error", err)
	}
}

// snapshot marshals an entity for a before/after audit snapshot, returning
// nil on marshal failure so a snapshot problem never blocks the action.
func snapshot(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
