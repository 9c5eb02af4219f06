// Package dispatcher fans committed domain events out to in-process handlers,
// such as the notification service.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// DefaultMaxInFlight bounds concurrently delivered async events
const DefaultMaxInFlight = 16

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type, or AllEvents
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name used in logs
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Dispatch runs all handlers in order and returns the first error
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs the handlers of evt in order on a background
	// goroutine. The handlers get a context detached from ctx's cancellation
	// so delivery outlives the request that caused it.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Close rejects new events and waits for in-flight ones
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]registration
	closed   bool

	logger   Logger
	inFlight *semaphore.Weighted
	wg       sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithMaxInFlight bounds how many async events are delivered at once.
// Further events wait for a slot.
func WithMaxInFlight(n int64) Option {
	return func(d *eventDispatcher) {
		if n > 0 {
			d.inFlight = semaphore.NewWeighted(n)
		}
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]registration),
		inFlight: semaphore.NewWeighted(DefaultMaxInFlight),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.subscribe(eventType, "", handler)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.subscribe(eventType, name, handler)
}

func (d *eventDispatcher) subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	if name == "" {
		name = fmt.Sprintf("%s#%d", eventType, len(d.handlers[eventType]))
	}
	d.handlers[eventType] = append(d.handlers[eventType], registration{name: name, handler: handler})
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
	}
}

// handlersFor returns the type-specific handlers followed by the wildcard ones
func (d *eventDispatcher) handlersFor(t event.Type) []registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specific := d.handlers[t]
	wildcard := d.handlers[AllEvents]
	out := make([]registration, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	return append(out, wildcard...)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return fmt.Errorf("dispatcher is closed")
	}

	for _, r := range d.handlersFor(evt.Type) {
		if err := d.run(ctx, evt, r); err != nil {
			return fmt.Errorf("handler %s failed: %w", r.name, err)
		}
	}
	return nil
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	// The closed check and wg.Add share the lock so Close never waits on a
	// group that is still growing.
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		if d.logger != nil {
			d.logger.Error("Cannot dispatch async event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	handlers := d.handlersFor(evt.Type)
	go func() {
		defer d.wg.Done()
		if err := d.inFlight.Acquire(detached, 1); err != nil {
			return
		}
		defer d.inFlight.Release(1)

		for _, r := range handlers {
			// Handlers are independent deliveries, so one failure does not
			// starve the rest.
			_ = d.run(detached, evt, r)
		}
	}()
}

func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for async handlers")
	}
	d.wg.Wait()
	return nil
}

// run executes one handler, turning a panic into an error. Failures are logged here.
func (d *eventDispatcher) run(ctx context.Context, evt *event.Event, r registration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
		if err != nil && d.logger != nil {
			d.logger.Error("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", r.name,
				"error", err,
			)
		}
	}()

	return r.handler(ctx, evt)
}
