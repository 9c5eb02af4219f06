package entity

import "github.com/shopspring/decimal"

// Category is an expense category with its policy flags.
type Category struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	ParentID            string           `json:"parent_id,omitempty"`
	RequiresReceipt     bool             `json:"requires_receipt"`
	RequiresPreApproval bool             `json:"requires_pre_approval"`
	MaxAmount           *decimal.Decimal `json:"max_amount,omitempty"`
	IsActive            bool             `json:"is_active"`
}

// User is a directory entry.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id"`
	ManagerID    string `json:"manager_id,omitempty"`
	LarkOpenID   string `json:"lark_open_id,omitempty"`
	IsLocked     bool   `json:"is_locked"`
}
