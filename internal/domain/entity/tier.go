package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalTier maps an inclusive base-currency band to the role that must approve it.
type ApprovalTier struct {
	ID             int64            `json:"id"`
	TierOrder      int              `json:"tier_order"`
	MinAmount      decimal.Decimal  `json:"min_amount"`
	MaxAmount      *decimal.Decimal `json:"max_amount,omitempty"`
	ApproverRole   string           `json:"approver_role"`
	EscalationDays *int             `json:"escalation_days,omitempty"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Contains reports whether amount falls inside the tier band, both ends inclusive.
func (t *ApprovalTier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinAmount) {
		return false
	}
	return t.MaxAmount == nil || amount.LessThanOrEqual(*t.MaxAmount)
}

// EscalationWindow returns the time a request may sit in this tier, or false
// if the tier never escalates.
func (t *ApprovalTier) EscalationWindow() (time.Duration, bool) {
	if t.EscalationDays == nil || *t.EscalationDays <= 0 {
		return 0, false
	}
	return time.Duration(*t.EscalationDays) * 24 * time.Hour, true
}
