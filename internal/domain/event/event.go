package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event. Request transition events are persisted to the
// notification outbox before they are dispatched, so the payload must
// survive a JSON round trip.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	RequestID     int64                  `json:"request_id,omitempty"`
	RequestNumber string                 `json:"request_number,omitempty"`
	Recipients    []string               `json:"recipients"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
}

// NewEvent creates an event with a random ID stamped with the current time
func NewEvent(eventType Type, requestID int64, requestNumber string, recipients []string, payload map[string]interface{}) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		RequestID:     requestID,
		RequestNumber: requestNumber,
		Recipients:    recipients,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}

// WithPayload returns a copy of the event with key set. The receiver is
// left untouched.
func (e *Event) WithPayload(key string, value interface{}) *Event {
	cp := *e
	cp.Payload = make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		cp.Payload[k] = v
	}
	cp.Payload[key] = value
	cp.Recipients = append([]string(nil), e.Recipients...)
	return &cp
}

func lookup[T any](e *Event, key string) T {
	v, _ := e.Payload[key].(T)
	return v
}

func (e *Event) GetPayloadString(key string) string { return lookup[string](e, key) }

func (e *Event) GetPayloadBool(key string) bool { return lookup[bool](e, key) }

// GetPayloadInt accepts float64 as well, which is what integers become
// after the outbox JSON round trip.
func (e *Event) GetPayloadInt(key string) int64 {
	switch v := e.Payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
