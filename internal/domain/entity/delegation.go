package entity

import "time"

// Delegation transfers a user's approval authority to another user for a window.
type Delegation struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Reason     string    `json:"reason,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Covers reports whether the delegation is in force at t. The window is
// inclusive of its start and exclusive of its end.
func (d *Delegation) Covers(t time.Time) bool {
	return d.IsActive && !t.Before(d.StartDate) && t.Before(d.EndDate)
}

// Overlaps reports whether the delegation window intersects [start, end).
func (d *Delegation) Overlaps(start, end time.Time) bool {
	return d.IsActive && start.Before(d.EndDate) && d.StartDate.Before(end)
}
