package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Status describes one supervised worker
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Runs    int    `json:"runs,omitempty"`
	Failed  int    `json:"failed,omitempty"`
}

// Supervisor starts workers in registration order and stops them in
// reverse. Start is all or nothing: if one worker fails to start, the ones
// already running are stopped again.
type Supervisor struct {
	logger *zap.Logger

	mu      sync.Mutex
	workers []Worker
	running []Worker
}

// NewSupervisor creates an empty supervisor
func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Add registers a worker. Workers added while running are started on the
// next Start.
func (s *Supervisor) Add(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, w)
	s.logger.Debug("Worker registered", zap.String("worker_name", w.Name()))
}

// Start starts every registered worker
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) > 0 {
		return errors.New("workers already running")
	}

	for _, w := range s.workers {
		if err := w.Start(ctx); err != nil {
			startErr := fmt.Errorf("start %s: %w", w.Name(), err)
			if stopErr := s.stopLocked(); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		s.running = append(s.running, w)
	}

	s.logger.Info("Workers started", zap.Int("count", len(s.running)))
	return nil
}

// Stop stops running workers in reverse start order. Stopping an idle
// supervisor is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Supervisor) stopLocked() error {
	var errs []error
	for i := len(s.running) - 1; i >= 0; i-- {
		w := s.running[i]
		if err := w.Stop(); err != nil {
			s.logger.Error("Failed to stop worker", zap.String("worker_name", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", w.Name(), err))
		}
	}
	s.running = nil
	return errors.Join(errs...)
}

// Statuses reports every registered worker, with run counters for periodic ones
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make(map[Worker]bool, len(s.running))
	for _, w := range s.running {
		running[w] = true
	}

	out := make([]Status, 0, len(s.workers))
	for _, w := range s.workers {
		st := Status{Name: w.Name(), Running: running[w]}
		if p, ok := w.(*PeriodicWorker); ok {
			stats := p.Stats()
			st.Runs, st.Failed = stats.Runs, stats.Failures
		}
		out = append(out, st)
	}
	return out
}

// Healthy reports whether every registered worker is running
func (s *Supervisor) Healthy() bool {
	for _, st := range s.Statuses() {
		if !st.Running {
			return false
		}
	}
	return true
}
