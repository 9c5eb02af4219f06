package dispatcher

import (
	"context"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

// AllEvents subscribes a handler to every event type
const AllEvents event.Type = "*"

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

type registration struct {
	name    string
	handler Handler
}
