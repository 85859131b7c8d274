// Package events defines the event envelope exchanged between services, the
// publish/subscribe ports, and an in-memory bus implementation. Delivery is
// at-least-once and unordered across topics; every handler must therefore be
// idempotent.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics the services publish to and subscribe on.
const (
	TopicTasks         = "tasks"
	TopicReminders     = "reminders"
	TopicRecurring     = "recurring"
	TopicNotifications = "notifications"
	TopicAudit         = "audit"
)

// Event types carried in envelopes.
const (
	TypeTaskCreated   = "TaskCreated"
	TypeTaskUpdated   = "TaskUpdated"
	TypeTaskCompleted = "TaskCompleted"
	TypeTaskDeleted   = "TaskDeleted"

	TypeReminderScheduled = "ReminderScheduled"
	TypeReminderDelivered = "ReminderDelivered"
	TypeReminderFailed    = "ReminderFailed"
	TypeReminderCancelled = "ReminderCancelled"

	TypeRecurringTaskGenerated       = "RecurringTaskGenerated"
	TypeRecurringTaskRuleCreated     = "RecurringTaskRuleCreated"
	TypeRecurringTaskRuleUpdated     = "RecurringTaskRuleUpdated"
	TypeRecurringTaskRuleDeleted     = "RecurringTaskRuleDeleted"
	TypeRecurringTaskProcessingError = "RecurringTaskProcessingError"

	TypeNotificationSent      = "NotificationSent"
	TypeNotificationDelivered = "NotificationDelivered"
	TypeNotificationFailed    = "NotificationFailed"

	TypeAuditEntryCreated = "AuditEntryCreated"
)

// Envelope wraps a domain event for transport on the bus. The correlation ID
// traces one logical flow across services.
type Envelope struct {
	EventType     string          `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId"`
}

// NewEnvelope serializes the payload and stamps the envelope. An empty
// correlation ID gets a fresh one so a flow is always traceable.
func NewEnvelope(eventType string, payload interface{}, correlationID string) (*Envelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return &Envelope{
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		Payload:       payloadBytes,
		CorrelationID: correlationID,
	}, nil
}

// UnmarshalPayload decodes the envelope payload into the provided structure.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler processes events delivered on a subscription.
type Handler interface {
	// HandleEvent processes the given envelope within the provided context.
	HandleEvent(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// HandleEvent calls the underlying function.
func (f HandlerFunc) HandleEvent(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Publisher publishes envelopes to a topic. Services publish only after
// their local state change is committed, never before.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *Envelope) error
}

// Subscriber registers handlers for a topic's events.
type Subscriber interface {
	Subscribe(topic string, handler Handler)
}
