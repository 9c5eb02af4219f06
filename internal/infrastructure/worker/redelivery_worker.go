package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RedeliveryWorkerName is the registered name of the notification redelivery worker
const RedeliveryWorkerName = "NotificationRedeliveryWorker"

// Redeliverer retries pending outbox notifications
type Redeliverer interface {
	Redeliver(ctx context.Context, limit int) (int, error)
}

// NewRedeliveryWorker retries up to batchSize pending notifications every interval
func NewRedeliveryWorker(notifications Redeliverer, interval time.Duration, batchSize int, logger *zap.Logger) *PeriodicWorker {
	task := func(ctx context.Context) error {
		sent, err := notifications.Redeliver(ctx, batchSize)
		if sent > 0 {
			logger.Info("Redelivered notifications", zap.Int("sent", sent))
		}
		return err
	}
	return NewPeriodicWorker(PeriodicConfig{
		Name:     RedeliveryWorkerName,
		Interval: interval,
	}, task, logger)
}
