package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/resilience"
)

var errSendFailed = errors.New("send failed")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubChannel fails while failing is true and records every send attempt.
type stubChannel struct {
	name    string
	failing bool
	sends   int
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(ctx context.Context, n *Notification) error {
	c.sends++
	if c.failing {
		return errSendFailed
	}
	return nil
}

// noRetry keeps channel tests deterministic: one attempt per channel.
func noRetry() resilience.Policy {
	return resilience.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestHandler(channels []Channel, threshold int) *Handler {
	return NewHandler(channels, HandlerConfig{
		Fallbacks: map[string][]string{
			ChannelEmail: {ChannelInApp, ChannelPush},
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: threshold,
			OpenDuration:     30 * time.Second,
		},
		Retry: noRetry(),
	}, testLogger())
}

func TestHandlerSendsPrimaryFirst(t *testing.T) {
	email := &stubChannel{name: ChannelEmail}
	inApp := &stubChannel{name: ChannelInApp}
	push := &stubChannel{name: ChannelPush}
	h := newTestHandler([]Channel{email, inApp, push}, 5)

	n := NewNotification("user-1", "title", "body")
	require.NoError(t, h.Send(context.Background(), ChannelEmail, n))

	assert.Equal(t, 1, email.sends)
	assert.Zero(t, inApp.sends)
	assert.Zero(t, push.sends)
}

func TestHandlerUnknownChannel(t *testing.T) {
	h := newTestHandler([]Channel{&stubChannel{name: ChannelEmail}}, 5)

	err := h.Send(context.Background(), "carrier_pigeon", NewNotification("u", "t", ""))
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestHandlerDegradesThroughFallbackOrder(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, failing: true}
	inApp := &stubChannel{name: ChannelInApp, failing: true}
	push := &stubChannel{name: ChannelPush}
	h := newTestHandler([]Channel{email, inApp, push}, 5)

	n := NewNotification("user-1", "title", "body")
	require.NoError(t, h.Send(context.Background(), ChannelEmail, n))

	assert.Equal(t, 1, email.sends)
	assert.Equal(t, 1, inApp.sends)
	assert.Equal(t, 1, push.sends)
	assert.Empty(t, h.DeferredItems())
}

func TestHandlerSkipsFallbackWithOpenBreaker(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, failing: true}
	inApp := &stubChannel{name: ChannelInApp, failing: true}
	push := &stubChannel{name: ChannelPush}
	h := newTestHandler([]Channel{email, inApp, push}, 1)

	ctx := context.Background()

	// First send trips the in_app breaker (threshold 1).
	require.NoError(t, h.Send(ctx, ChannelEmail, NewNotification("u", "t", "")))
	require.Equal(t, 1, inApp.sends)

	// Second send must skip in_app entirely while its breaker is open. The
	// email breaker is open too, so the primary attempt fails fast and the
	// walk lands on push.
	require.NoError(t, h.Send(ctx, ChannelEmail, NewNotification("u", "t", "")))
	assert.Equal(t, 1, inApp.sends, "open-breaker fallback must be skipped")
}

func TestHandlerAllChannelsFailedDefers(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, failing: true}
	inApp := &stubChannel{name: ChannelInApp, failing: true}
	push := &stubChannel{name: ChannelPush, failing: true}
	h := newTestHandler([]Channel{email, inApp, push}, 5)

	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	h.clock = func() time.Time { return now }

	n := NewNotification("user-1", "title", "body")
	err := h.Send(context.Background(), ChannelEmail, n)
	assert.ErrorIs(t, err, ErrAllChannelsFailed)

	items := h.DeferredItems()
	require.Len(t, items, 1)
	assert.Equal(t, ChannelEmail, items[0].Channel)
	assert.Equal(t, 0, items[0].Attempts)
	assert.Equal(t, DefaultMaxDeferred, items[0].MaxAttempts)
	assert.Equal(t, now.Add(DefaultDeferDelay), items[0].ScheduledTime)
}

func TestHandlerDeferredRetrySucceeds(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, failing: true}
	h := newTestHandler([]Channel{email}, 5)

	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	h.clock = func() time.Time { return now }

	ctx := context.Background()
	require.ErrorIs(t, h.Send(ctx, ChannelEmail, NewNotification("u", "t", "")), ErrAllChannelsFailed)
	require.Len(t, h.DeferredItems(), 1)

	// Not yet due: nothing happens.
	h.processDue(ctx)
	assert.Len(t, h.DeferredItems(), 1)
	assert.Equal(t, 1, email.sends)

	// The channel recovers and the item comes due.
	email.failing = false
	now = now.Add(DefaultDeferDelay)
	h.processDue(ctx)

	assert.Empty(t, h.DeferredItems())
	assert.Equal(t, 2, email.sends)
}

func TestHandlerDeferredBackoffDoubles(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, failing: true}
	h := newTestHandler([]Channel{email}, 100)

	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	h.clock = func() time.Time { return now }

	ctx := context.Background()
	require.ErrorIs(t, h.Send(ctx, ChannelEmail, NewNotification("u", "t", "")), ErrAllChannelsFailed)

	// First deferred retry fails; the next wait doubles.
	now = now.Add(DefaultDeferDelay)
	h.processDue(ctx)

	items := h.DeferredItems()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, now.Add(2*DefaultDeferDelay), items[0].ScheduledTime)
}

func TestHandlerDropsAfterMaxDeferredAttempts(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, failing: true}
	h := NewHandler([]Channel{email}, HandlerConfig{
		Breaker: resilience.BreakerConfig{FailureThreshold: 100, OpenDuration: time.Second},
		Retry:   noRetry(),
	}, testLogger())

	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	h.clock = func() time.Time { return now }

	var dropped []*DeferredItem
	h.SetDroppedCallback(func(item *DeferredItem) {
		dropped = append(dropped, item)
	})

	ctx := context.Background()
	require.ErrorIs(t, h.Send(ctx, ChannelEmail, NewNotification("u", "t", "")), ErrAllChannelsFailed)

	for i := 0; i < DefaultMaxDeferred; i++ {
		now = now.Add(24 * time.Hour)
		h.processDue(ctx)
	}

	assert.Empty(t, h.DeferredItems())
	require.Len(t, dropped, 1)
	assert.Equal(t, DefaultMaxDeferred, dropped[0].Attempts)
}

func TestHandlerBreakerSnapshot(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, failing: true}
	h := newTestHandler([]Channel{email}, 2)

	ctx := context.Background()
	_ = h.Send(ctx, ChannelEmail, NewNotification("u", "t", ""))
	_ = h.Send(ctx, ChannelEmail, NewNotification("u", "t", ""))

	snap, ok := h.BreakerSnapshot(ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, resilience.StateOpen, snap.State)

	_, ok = h.BreakerSnapshot("carrier_pigeon")
	assert.False(t, ok)
}
