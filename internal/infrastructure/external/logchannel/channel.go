// Package logchannel is the notification channel used when no messaging
// platform is configured. Messages are written to the application log.
package logchannel

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// ChannelName identifies log deliveries
const ChannelName = "log"

// Channel implements port.NotificationDispatcher
type Channel struct {
	logger *zap.Logger
}

// New creates a log channel
func New(logger *zap.Logger) *Channel {
	return &Channel{logger: logger.Named("notify")}
}

func (c *Channel) Channel() string {
	return ChannelName
}

func (c *Channel) Send(ctx context.Context, user port.Recipient, text string) error {
	c.logger.Info("Notification",
		zap.String("user_id", user.UserID),
		zap.String("text", text))
	return nil
}

var _ port.NotificationDispatcher = (*Channel)(nil)
