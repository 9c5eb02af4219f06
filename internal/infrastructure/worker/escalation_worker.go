package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/escalation"
)

// EscalationWorkerName is the registered name of the escalation worker
const EscalationWorkerName = "EscalationWorker"

// Sweeper runs one escalation pass
type Sweeper interface {
	Sweep(ctx context.Context) (*escalation.Report, error)
}

// NewEscalationWorker runs the sweeper every interval
func NewEscalationWorker(sweeper Sweeper, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	task := func(ctx context.Context) error {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if report.Failed > 0 {
			logger.Warn("Escalation sweep had failures",
				zap.Int("failed", report.Failed),
				zap.Int("scanned", report.Scanned))
		}
		return nil
	}
	return NewPeriodicWorker(PeriodicConfig{
		Name:       EscalationWorkerName,
		Interval:   interval,
		RunOnStart: true,
	}, task, logger)
}
