package port

import "context"

// NotificationDispatcher delivers a rendered message to one user on an
// external channel. Failures are reported but never roll back state.
type NotificationDispatcher interface {
	Send(ctx context.Context, user Recipient, text string) error
	Channel() string
}

// Recipient is the addressing information of a notification target
type Recipient struct {
	UserID     string
	LarkOpenID string
}

// Logger is the structured logger used by application services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
