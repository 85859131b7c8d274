package delivery

import (
	"context"
	"log/slog"
)

// LogChannel is a Channel that records sends to the structured log. Real
// transports (SMTP, push gateways) are external collaborators; LogChannel
// stands in for them in development and tests.
type LogChannel struct {
	name   string
	logger *slog.Logger
}

// NewLogChannel creates a LogChannel with the given name.
func NewLogChannel(name string, logger *slog.Logger) *LogChannel {
	return &LogChannel{
		name:   name,
		logger: logger.With("component", "log_channel", "channel", name),
	}
}

// Name returns the channel's registered name.
func (c *LogChannel) Name() string { return c.name }

// Send logs the notification.
func (c *LogChannel) Send(ctx context.Context, n *Notification) error {
	c.logger.Info("notification sent",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"title", n.Title,
		"correlation_id", n.CorrelationID)
	return nil
}

var _ Channel = (*LogChannel)(nil)
