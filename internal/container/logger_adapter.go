package container

import (
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// sugarLogger exposes zap's sugared key/value API as port.Logger
type sugarLogger struct {
	s *zap.SugaredLogger
}

// NewLoggerAdapter wraps a zap logger for the application layer. Odd or
// non-string keys are reported by zap itself rather than dropped.
func NewLoggerAdapter(logger *zap.Logger) port.Logger {
	return sugarLogger{s: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l sugarLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l sugarLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l sugarLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
