package events

import (
	"context"
	"log/slog"
	"sync"
)

// Bus is an in-memory topic-based implementation of Publisher and
// Subscriber. Handler errors are logged and do not stop delivery to the
// remaining handlers; the first error is returned so the publisher can
// surface it. A swapped-in broker-backed bus must preserve these semantics.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	logger *slog.Logger
}

// NewBus creates an empty in-memory bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]Handler),
		logger: logger.With("component", "event_bus"),
	}
}

// Subscribe registers a handler for the topic's events.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], handler)
	b.logger.Debug("registered subscription",
		"topic", topic,
		"handler_count", len(b.subs[topic]))
}

// Publish delivers the envelope to every handler subscribed to the topic.
func (b *Bus) Publish(ctx context.Context, topic string, env *Envelope) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	b.logger.Debug("publishing event",
		"topic", topic,
		"event_type", env.EventType,
		"correlation_id", env.CorrelationID,
		"handler_count", len(handlers))

	if len(handlers) == 0 {
		b.logger.Warn("no handlers subscribed to topic",
			"topic", topic,
			"event_type", env.EventType)
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, env); err != nil {
			b.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"topic", topic,
				"event_type", env.EventType,
				"correlation_id", env.CorrelationID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// SubscriptionCount returns the number of handlers registered across all
// topics. Readiness checks use this to confirm subscriptions are active.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, handlers := range b.subs {
		total += len(handlers)
	}
	return total
}
