// Package delivery sends notifications across an ordered set of channels,
// degrading from the primary channel through its fallbacks and finally to a
// deferred-retry queue rather than failing outright.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Delivery errors.
var (
	// ErrUnknownChannel is returned when a send names a channel that was
	// never registered.
	ErrUnknownChannel = errors.New("unknown delivery channel")

	// ErrAllChannelsFailed is returned when the primary channel and every
	// fallback failed; the notification has been placed on the deferred
	// queue.
	ErrAllChannelsFailed = errors.New("all delivery channels failed")

	// ErrDeliveryDropped marks a permanent delivery failure: deferred
	// retries are exhausted and no automatic recovery will follow.
	ErrDeliveryDropped = errors.New("notification dropped after exhausting deferred retries")
)

// Well-known channel names.
const (
	ChannelEmail = "email"
	ChannelInApp = "in_app"
	ChannelPush  = "push"
)

// Notification is one message to deliver to a user.
type Notification struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"userId"`
	TaskID        uuid.UUID `json:"taskId,omitempty"`
	Title         string    `json:"title"`
	Body          string    `json:"body,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewNotification creates a notification with a fresh ID.
func NewNotification(userID, title, body string) *Notification {
	return &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

// Channel is one delivery transport (email, in-app, push). Implementations
// live at the edge; the degradation handler only needs a name and a send.
type Channel interface {
	// Name returns the channel's registered name.
	Name() string

	// Send delivers the notification or returns an error.
	Send(ctx context.Context, n *Notification) error
}
