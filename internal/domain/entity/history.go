package entity

import "time"

// ApprovalHistory is one append-only audit row per state change.
type ApprovalHistory struct {
	ID             int64     `json:"id"`
	RequestID      int64     `json:"request_id"`
	TierLevel      int       `json:"tier_level"`
	Action         string    `json:"action"`
	ActorID        string    `json:"actor_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Comment        string    `json:"comment,omitempty"`
	IsEmergency    bool      `json:"is_emergency"`
	BudgetDecision string    `json:"budget_decision,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CountsAsApproval reports whether the row records a tier being passed,
// manually or by escalation.
func (h *ApprovalHistory) CountsAsApproval() bool {
	return h.Action == ActionApprove || h.Action == ActionEscalate
}
