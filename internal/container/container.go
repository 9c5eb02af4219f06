package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"github.com/garyjia/expense-approval/pkg/database"
)

type phase int

const (
	phaseNew phase = iota
	phaseRunning
	phaseClosed
)

// closer is one shutdown step, run in reverse registration order
type closer struct {
	name string
	fn   func() error
}

// Container owns the approval service's components. Start builds them in
// dependency order and every component that needs releasing pushes a closer,
// so Close (or a failed Start) unwinds exactly what was built.
type Container struct {
	config *Config
	logger *zap.Logger

	mu      sync.RWMutex
	phase   phase
	closers []closer

	raw          *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	channel      port.NotificationDispatcher
	dispatcher   dispatcher.Dispatcher
	services     *ServiceBundle
	workers      *worker.Supervisor
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	Workers    []worker.Status            `json:"workers,omitempty"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Nothing is opened until Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case logger == nil:
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Container{config: cfg, logger: logger}, nil
}

// Start opens the database, wires the services and starts the workers.
// On failure everything built so far is released again.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case phaseRunning:
		return errors.New("container already started")
	case phaseClosed:
		return errors.New("container has been closed")
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"database", c.startDatabase},
		{"notification channel", c.startChannel},
		{"services", c.startServices},
		{"workers", c.startWorkers},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			if unwindErr := c.unwind(); unwindErr != nil {
				c.logger.Error("Cleanup after failed start", zap.Error(unwindErr))
			}
			return fmt.Errorf("start %s: %w", step.name, err)
		}
		c.logger.Debug("Component ready", zap.String("component", step.name))
	}

	c.phase = phaseRunning
	c.logger.Info("Container started",
		zap.String("database", c.config.Database.Path),
		zap.String("channel", c.channel.Channel()))
	return nil
}

// Close releases components in reverse start order. It can be called once.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == phaseClosed {
		return errors.New("container already closed")
	}
	c.phase = phaseClosed

	if err := c.unwind(); err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

func (c *Container) unwind() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Ready reports whether Start completed and Close has not been called.
func (c *Container) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase == phaseRunning
}

// Health pings the database and reports worker and channel state.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{Overall: true, Components: make(map[string]ComponentHealth)}
	report := func(name string, err error, msg string) {
		h := ComponentHealth{Healthy: err == nil, Message: msg}
		if err != nil {
			h.Message = err.Error()
			status.Overall = false
		}
		status.Components[name] = h
	}

	notStarted := errors.New("not initialized")

	if c.raw == nil {
		report("database", notStarted, "")
	} else {
		report("database", c.raw.PingContext(ctx), "")
	}

	if c.channel == nil {
		report("notifications", notStarted, "")
	} else {
		report("notifications", nil, c.channel.Channel())
	}

	if c.workers == nil {
		report("workers", notStarted, "")
	} else {
		status.Workers = c.workers.Statuses()
		var err error
		if !c.workers.Healthy() {
			err = errors.New("worker not running")
		}
		report("workers", err, fmt.Sprintf("%d registered", len(status.Workers)))
	}

	return status
}

func (c *Container) startDatabase(ctx context.Context) error {
	bundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.raw, c.db = bundle.Raw, bundle.TransactionMgr
	c.onClose("database", c.raw.Close)

	c.repositories, err = ProvideRepositories(c.db, c.config.Approval.BaseCurrency, c.logger)
	return err
}

func (c *Container) startChannel(context.Context) error {
	c.channel = ProvideNotificationChannel(&c.config.Lark, c.logger)
	return nil
}

func (c *Container) startServices(context.Context) error {
	c.dispatcher = dispatcher.NewDispatcher(dispatcher.WithLogger(NewLoggerAdapter(c.logger.Named("dispatcher"))))
	// waits for in-flight notifications
	c.onClose("dispatcher", c.dispatcher.Close)

	services, err := ProvideServices(c.config, c.db, c.repositories, c.channel, c.dispatcher, c.logger)
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) startWorkers(ctx context.Context) error {
	c.workers = ProvideWorkers(&c.config.Worker, c.services, c.logger)
	if err := c.workers.Start(ctx); err != nil {
		return err
	}
	c.onClose("workers", c.workers.Stop)
	return nil
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}
