package entity

import "time"

// OutboxMessage is a notification recorded in the same transaction as the
// state change that caused it, delivered after commit.
type OutboxMessage struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	RequestID   int64      `json:"request_id"`
	Recipients  []string   `json:"recipients"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
