package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/resilience"
)

// Deferred-retry defaults.
const (
	// DefaultDeferDelay is the base delay before a totally-failed
	// notification is retried.
	DefaultDeferDelay = 5 * time.Minute

	// DefaultMaxDeferred bounds how many times a deferred notification is
	// retried before it is dropped for good.
	DefaultMaxDeferred = 3

	// DefaultQueueTick is how often the deferred queue is checked for due
	// items.
	DefaultQueueTick = 30 * time.Second
)

// DeferredItem is one notification awaiting a deferred retry.
type DeferredItem struct {
	Notification  *Notification
	Channel       string
	Attempts      int
	MaxAttempts   int
	ScheduledTime time.Time
}

// HandlerConfig configures the degradation handler.
type HandlerConfig struct {
	// Fallbacks maps a channel name to the ordered fallback channels tried
	// when it fails, e.g. email -> [in_app, push].
	Fallbacks map[string][]string

	// Breaker is applied per channel.
	Breaker resilience.BreakerConfig

	// Retry is the per-channel retry policy.
	Retry resilience.Policy

	// DeferDelay is the base deferred-retry delay; attempt a waits
	// 2^a * DeferDelay. Non-positive falls back to DefaultDeferDelay.
	DeferDelay time.Duration

	// MaxDeferred bounds deferred retries per notification. Non-positive
	// falls back to DefaultMaxDeferred.
	MaxDeferred int

	// QueueTick is the deferred queue check interval. Non-positive falls
	// back to DefaultQueueTick.
	QueueTick time.Duration
}

// Handler walks a notification through its channel's breaker-gated retry
// pipeline, degrades through the fallback order, and defers total failures
// for later redelivery.
type Handler struct {
	channels  map[string]Channel
	fallbacks map[string][]string
	breakers  map[string]*resilience.CircuitBreaker
	retrier   *resilience.Retrier

	mu       sync.Mutex
	deferred []*DeferredItem

	deferDelay  time.Duration
	maxDeferred int
	queueTick   time.Duration

	clock  func() time.Time
	logger *slog.Logger

	// onDropped is invoked when a notification is dropped permanently;
	// the notification service uses it to publish the terminal event.
	onDropped func(item *DeferredItem)
}

// NewHandler creates a degradation handler over the given channels. Each
// channel gets its own circuit breaker; the retry policy is shared.
func NewHandler(channels []Channel, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.DeferDelay <= 0 {
		cfg.DeferDelay = DefaultDeferDelay
	}
	if cfg.MaxDeferred <= 0 {
		cfg.MaxDeferred = DefaultMaxDeferred
	}
	if cfg.QueueTick <= 0 {
		cfg.QueueTick = DefaultQueueTick
	}

	h := &Handler{
		channels:    make(map[string]Channel, len(channels)),
		fallbacks:   cfg.Fallbacks,
		breakers:    make(map[string]*resilience.CircuitBreaker, len(channels)),
		retrier:     resilience.NewRetrier(cfg.Retry, logger),
		deferDelay:  cfg.DeferDelay,
		maxDeferred: cfg.MaxDeferred,
		queueTick:   cfg.QueueTick,
		clock:       time.Now,
		logger:      logger.With("component", "degradation_handler"),
	}

	for _, ch := range channels {
		h.channels[ch.Name()] = ch
		h.breakers[ch.Name()] = resilience.NewCircuitBreaker(
			"channel_"+ch.Name(), cfg.Breaker, logger)
	}

	return h
}

// SetDroppedCallback registers a callback invoked when a notification is
// dropped after exhausting its deferred retries.
func (h *Handler) SetDroppedCallback(fn func(item *DeferredItem)) {
	h.onDropped = fn
}

// Send delivers the notification via the named primary channel, degrading
// through the fallback order on failure. When every channel fails, the
// notification is queued for deferred retry and ErrAllChannelsFailed is
// returned as the degraded-mode signal.
func (h *Handler) Send(ctx context.Context, channel string, n *Notification) error {
	if _, ok := h.channels[channel]; !ok {
		return ErrUnknownChannel
	}

	if err := h.attemptAll(ctx, channel, n); err != nil {
		h.enqueueDeferred(channel, n, 0)
		return ErrAllChannelsFailed
	}
	return nil
}

// attemptAll tries the primary channel, then each fallback in order,
// skipping fallbacks whose breaker is open. Returns nil on the first
// successful channel.
func (h *Handler) attemptAll(ctx context.Context, primary string, n *Notification) error {
	lastErr := h.attempt(ctx, primary, n)
	if lastErr == nil {
		return nil
	}

	h.logger.Warn("primary channel failed, degrading to fallbacks",
		"channel", primary,
		"notification_id", n.ID,
		"error", lastErr)

	for _, name := range h.fallbacks[primary] {
		if _, ok := h.channels[name]; !ok {
			continue
		}
		if h.breakers[name].State() == resilience.StateOpen {
			h.logger.Debug("skipping fallback with open breaker",
				"channel", name,
				"notification_id", n.ID)
			continue
		}

		err := h.attempt(ctx, name, n)
		if err == nil {
			h.logger.Info("notification delivered via fallback channel",
				"channel", name,
				"notification_id", n.ID)
			return nil
		}
		lastErr = err
	}

	return lastErr
}

// attempt sends on one channel: the retry pipeline gated by that channel's
// circuit breaker.
func (h *Handler) attempt(ctx context.Context, name string, n *Notification) error {
	ch := h.channels[name]
	return h.breakers[name].Execute(ctx, func(ctx context.Context) error {
		return h.retrier.Execute(ctx, func(ctx context.Context) error {
			return ch.Send(ctx, n)
		})
	})
}

// enqueueDeferred puts the notification on the deferred queue. attempts is
// the number of deferred retries already consumed.
func (h *Handler) enqueueDeferred(channel string, n *Notification, attempts int) {
	scheduled := h.clock().Add(h.deferDelay << uint(attempts))

	h.mu.Lock()
	h.deferred = append(h.deferred, &DeferredItem{
		Notification:  n,
		Channel:       channel,
		Attempts:      attempts,
		MaxAttempts:   h.maxDeferred,
		ScheduledTime: scheduled,
	})
	h.mu.Unlock()

	h.logger.Info("notification deferred",
		"channel", channel,
		"notification_id", n.ID,
		"attempts", attempts,
		"scheduled_time", scheduled)
}

// Start launches the deferred queue ticker. It returns immediately; the
// loop stops when ctx is cancelled.
func (h *Handler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.queueTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.processDue(ctx)
			}
		}
	}()
}

// processDue re-runs the send pipeline for every due deferred item. Further
// failure reschedules with exponential backoff until MaxAttempts, after
// which the item is dropped with a terminal log entry.
func (h *Handler) processDue(ctx context.Context) {
	now := h.clock()

	h.mu.Lock()
	var due []*DeferredItem
	remaining := h.deferred[:0]
	for _, item := range h.deferred {
		if !item.ScheduledTime.After(now) {
			due = append(due, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	h.deferred = remaining
	h.mu.Unlock()

	for _, item := range due {
		if err := h.attemptAll(ctx, item.Channel, item.Notification); err == nil {
			h.logger.Info("deferred notification delivered",
				"notification_id", item.Notification.ID,
				"attempts", item.Attempts)
			continue
		}

		item.Attempts++
		if item.Attempts >= item.MaxAttempts {
			h.logger.Error("notification dropped permanently",
				"error", ErrDeliveryDropped,
				"notification_id", item.Notification.ID,
				"channel", item.Channel,
				"attempts", item.Attempts)
			if h.onDropped != nil {
				h.onDropped(item)
			}
			continue
		}

		h.enqueueDeferred(item.Channel, item.Notification, item.Attempts)
	}
}

// DeferredItems returns a snapshot of the deferred queue.
func (h *Handler) DeferredItems() []DeferredItem {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]DeferredItem, len(h.deferred))
	for i, item := range h.deferred {
		out[i] = *item
	}
	return out
}

// BreakerSnapshot returns the named channel's breaker state for monitoring.
func (h *Handler) BreakerSnapshot(channel string) (resilience.Snapshot, bool) {
	b, ok := h.breakers[channel]
	if !ok {
		return resilience.Snapshot{}, false
	}
	return b.SnapshotState(), true
}
