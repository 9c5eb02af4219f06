package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ScopeKey builds a budget scope key such as "DEPARTMENT:eng".
func ScopeKey(kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// BudgetUtilization is the spending envelope of one scope.
type BudgetUtilization struct {
	ScopeKey            string          `json:"scope_key"`
	Allocated           decimal.Decimal `json:"allocated"`
	Committed           decimal.Decimal `json:"committed"`
	Spent               decimal.Decimal `json:"spent"`
	WarningThresholdPct decimal.Decimal `json:"warning_threshold_pct"`
	Enforcement         string          `json:"enforcement"`
	Version             int64           `json:"version"`
}

// Used returns committed plus spent.
func (b *BudgetUtilization) Used() decimal.Decimal {
	return b.Committed.Add(b.Spent)
}
