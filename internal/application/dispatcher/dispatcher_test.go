package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprint(append([]interface{}{msg}, keysAndValues...)...))
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, 1, "EXP-2026-000001", []string{"alice"}, nil)
}

func TestSubscribe(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 2)
			return nil
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeRequestSubmitted)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected handlers to run in order [1, 2], got %v", order)
		}
	})

	t.Run("wildcard handlers see every type after specific ones", func(t *testing.T) {
		d := NewDispatcher()
		var seen []string

		d.SubscribeNamed(AllEvents, "outbox", func(ctx context.Context, evt *event.Event) error {
			seen = append(seen, "all:"+evt.Type.String())
			return nil
		})
		d.SubscribeNamed(event.TypeRequestApproved, "approved", func(ctx context.Context, evt *event.Event) error {
			seen = append(seen, "approved")
			return nil
		})

		_ = d.Dispatch(context.Background(), newEvent(event.TypeRequestApproved))
		_ = d.Dispatch(context.Background(), newEvent(event.TypeRequestRejected))

		want := []string{"approved", "all:request.approved", "all:request.rejected"}
		if len(seen) != len(want) {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
			}
		}
	})
}

func TestSubscribe_LogsRegistration(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	called := false

	d.SubscribeNamed(event.TypeRequestPaid, "ledger", func(ctx context.Context, evt *event.Event) error {
		called = true
		return nil
	})

	if err := d.Dispatch(context.Background(), newEvent(event.TypeRequestPaid)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !called {
		t.Error("expected the named handler to run")
	}
	if !logger.HasInfo("Handler registered") {
		t.Error("expected registration to be logged")
	}
}

func TestDispatchAsync_MaxInFlight(t *testing.T) {
	d := NewDispatcher(WithMaxInFlight(1))
	var running, peak atomic.Int32

	d.Subscribe(event.TypeRequestSubmitted, func(ctx context.Context, evt *event.Event) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	for i := 0; i < 5; i++ {
		d.DispatchAsync(context.Background(), newEvent(event.TypeRequestSubmitted))
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrent deliveries = %d, want 1", got)
	}
}

func TestDispatch(t *testing.T) {
	t.Run("returns first error and stops", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.Subscribe(event.TypeRequestRejected, func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeRequestRejected, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeRequestRejected))
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error to wrap %v, got %v", expectedErr, err)
		}
		if called {
			t.Error("expected second handler not to be called after first error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeRequestRejected, func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeRequestRejected)); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("rejects events after close", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Dispatch(context.Background(), newEvent(event.TypeRequestRejected)); err == nil {
			t.Fatal("expected error when dispatching to closed dispatcher")
		}
		if err := d.Close(); err == nil {
			t.Fatal("expected error on double close")
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("handlers outlive a cancelled caller context", func(t *testing.T) {
		d := NewDispatcher()
		var ctxErr atomic.Value
		done := make(chan struct{})

		d.Subscribe(event.TypeRequestApproved, func(ctx context.Context, evt *event.Event) error {
			defer close(done)
			time.Sleep(10 * time.Millisecond)
			if err := ctx.Err(); err != nil {
				ctxErr.Store(err)
			}
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, newEvent(event.TypeRequestApproved))
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler did not run")
		}
		if v := ctxErr.Load(); v != nil {
			t.Errorf("handler context was cancelled: %v", v)
		}
	})

	t.Run("close waits for in-flight handlers", func(t *testing.T) {
		d := NewDispatcher()
		var finished atomic.Int32

		for i := 0; i < 5; i++ {
			d.Subscribe(event.TypeRequestAdvanced, func(ctx context.Context, evt *event.Event) error {
				time.Sleep(5 * time.Millisecond)
				finished.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), newEvent(event.TypeRequestAdvanced))
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if got := finished.Load(); got != 5 {
			t.Errorf("finished = %d after Close, want 5", got)
		}
	})

	t.Run("logs handler errors", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeRequestAdvanced, func(ctx context.Context, evt *event.Event) error {
			return errors.New("lark down")
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeRequestAdvanced))
		_ = d.Close()

		if logger.ErrorCount() != 1 {
			t.Errorf("ErrorCount() = %d, want 1", logger.ErrorCount())
		}
	})
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int64
	d.Subscribe(AllEvents, func(ctx context.Context, evt *event.Event) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				d.SubscribeNamed(event.TypeRequestPaid, fmt.Sprintf("h-%d", i), func(ctx context.Context, evt *event.Event) error {
					return nil
				})
			}
			_ = d.Dispatch(context.Background(), newEvent(event.TypeRequestPaid))
		}(i)
	}
	wg.Wait()

	if got := count.Load(); got != 20 {
		t.Errorf("wildcard handler ran %d times, want 20", got)
	}
}
