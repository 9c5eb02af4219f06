package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of periodic work
type Task func(ctx context.Context) error

// PeriodicConfig holds configuration for a periodic worker
type PeriodicConfig struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs the task once immediately instead of waiting a full interval
	RunOnStart bool
}

// Stats is a snapshot of a periodic worker's progress
type Stats struct {
	Runs      int
	Failures  int
	LastRun   time.Time
	LastError error
}

// PeriodicWorker runs a task on a fixed interval until stopped. Runs never
// overlap.
type PeriodicWorker struct {
	config PeriodicConfig
	task   Task
	logger *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	stats     Stats
}

// NewPeriodicWorker creates a periodic worker
func NewPeriodicWorker(config PeriodicConfig, task Task, logger *zap.Logger) *PeriodicWorker {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	return &PeriodicWorker{
		config: config,
		task:   task,
		logger: logger.With(zap.String("worker", config.Name)),
	}
}

// Start begins the polling loop
func (w *PeriodicWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("%s already running", w.config.Name)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("Worker loop started", zap.Duration("interval", w.config.Interval))
	go w.loop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to finish
func (w *PeriodicWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("Worker loop stopped",
		zap.Int("runs", stats.Runs),
		zap.Int("failures", stats.Failures))
	return nil
}

// Name returns the worker name for identification
func (w *PeriodicWorker) Name() string {
	return w.config.Name
}

// Stats returns a snapshot of run counters
func (w *PeriodicWorker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// RunOnce executes the task synchronously and records the outcome
func (w *PeriodicWorker) RunOnce(ctx context.Context) error {
	err := w.task(ctx)

	w.mu.Lock()
	w.stats.Runs++
	w.stats.LastRun = time.Now()
	w.stats.LastError = err
	if err != nil {
		w.stats.Failures++
	}
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Worker run failed", zap.Error(err))
	}
	return err
}

func (w *PeriodicWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if w.config.RunOnStart {
		_ = w.RunOnce(ctx)
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx)
		}
	}
}
