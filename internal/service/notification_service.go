package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/taskmesh/taskmesh/internal/delivery"
	"github.com/taskmesh/taskmesh/internal/events"
)

// Notifier is the delivery capability other services depend on.
type Notifier interface {
	// Deliver sends the notification via the named primary channel,
	// degrading through fallbacks and the deferred queue on failure.
	Deliver(ctx context.Context, channel string, n *delivery.Notification) error
}

// NotificationService owns the delivery channels and their degradation
// handler, and publishes the delivery outcome events.
type NotificationService struct {
	handler *delivery.Handler
	bus     events.Publisher
	logger  *slog.Logger
}

// NewNotificationService creates a NotificationService and hooks the
// terminal-drop callback so permanent failures surface as events.
func NewNotificationService(
	handler *delivery.Handler,
	bus events.Publisher,
	logger *slog.Logger,
) *NotificationService {
	s := &NotificationService{
		handler: handler,
		bus:     bus,
		logger:  logger.With("component", "notification_service"),
	}

	handler.SetDroppedCallback(s.onDropped)
	return s
}

// Deliver sends the notification and publishes NotificationSent or
// NotificationFailed once the outcome is known. A deferred notification
// counts as failed-for-now; the deferred queue keeps working on it.
func (s *NotificationService) Deliver(
	ctx context.Context,
	channel string,
	n *delivery.Notification,
) error {
	err := s.handler.Send(ctx, channel, n)

	payload := NotificationEventPayload{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        channel,
	}

	eventType := events.TypeNotificationSent
	if err != nil {
		eventType = events.TypeNotificationFailed
		payload.Error = err.Error()
	}

	env, envErr := events.NewEnvelope(eventType, payload, n.CorrelationID)
	if envErr != nil {
		s.logger.Error("failed to build notification event", "error", envErr)
		return err
	}
	if pubErr := s.bus.Publish(ctx, events.TopicNotifications, env); pubErr != nil {
		s.logger.Error("failed to publish notification event",
			"error", pubErr,
			"event_type", eventType,
			"notification_id", n.ID)
	}

	return err
}

// onDropped publishes the terminal NotificationFailed event when deferred
// retries are exhausted. No automatic recovery follows.
func (s *NotificationService) onDropped(item *delivery.DeferredItem) {
	payload := NotificationEventPayload{
		NotificationID: item.Notification.ID,
		UserID:         item.Notification.UserID,
		Channel:        item.Channel,
		Terminal:       true,
		Error:          delivery.ErrDeliveryDropped.Error(),
	}

	env, err := events.NewEnvelope(
		events.TypeNotificationFailed, payload, item.Notification.CorrelationID)
	if err != nil {
		s.logger.Error("failed to build terminal notification event", "error", err)
		return
	}
	if err := s.bus.Publish(context.Background(), events.TopicNotifications, env); err != nil {
		s.logger.Error("failed to publish terminal notification event", "error", err)
	}
}

// Degraded reports whether the send ended in deferred-retry territory
// rather than outright success.
func Degraded(err error) bool {
	return errors.Is(err, delivery.ErrAllChannelsFailed)
}
