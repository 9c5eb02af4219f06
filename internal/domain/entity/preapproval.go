package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PreApproval authorizes future spending in a category before it happens.
// It may back exactly one request.
type PreApproval struct {
	ID                  string           `json:"id"`
	PreApprovalNumber   string           `json:"pre_approval_number"`
	RequesterID         string           `json:"requester_id"`
	CategoryID          string           `json:"category_id"`
	EstimatedAmount     decimal.Decimal  `json:"estimated_amount"`
	Purpose             string           `json:"purpose"`
	Status              string           `json:"status"`
	ApproverID          string           `json:"approver_id,omitempty"`
	DecisionReason      string           `json:"decision_reason,omitempty"`
	ExpiresAt           time.Time        `json:"expires_at"`
	ActualAmount        *decimal.Decimal `json:"actual_amount,omitempty"`
	ConsumedByRequestID *int64           `json:"consumed_by_request_id,omitempty"`
	DecidedAt           *time.Time       `json:"decided_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// UsableAt reports whether the pre-approval can back a request at t.
func (p *PreApproval) UsableAt(t time.Time) bool {
	return p.Status == PreApprovalStatusApproved && t.Before(p.ExpiresAt)
}
