package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestKind discriminates the two approvable request variants.
type RequestKind string

const (
	KindExpense RequestKind = "EXPENSE"
	KindVoucher RequestKind = "VOUCHER"
)

// IsValid reports whether k is a known kind.
func (k RequestKind) IsValid() bool {
	return k == KindExpense || k == KindVoucher
}

// NumberPrefix is the prefix of human-readable request numbers.
func (k RequestKind) NumberPrefix() string {
	if k == KindVoucher {
		return "VCH"
	}
	return "EXP"
}

// EnforcesReceipts reports whether the category receipt rule applies. A
// voucher is a cash advance paid before any spending, so it has no receipts yet.
func (k RequestKind) EnforcesReceipts() bool {
	return k == KindExpense
}

// Approvable is anything that can be routed through the approval chain.
type Approvable interface {
	ApprovalKind() RequestKind
	ApprovalRequest() *ApprovableRequest
}

// ApprovableRequest is an expense claim or a cash-advance voucher moving
// through the approval lifecycle.
type ApprovableRequest struct {
	ID                   int64           `json:"id"`
	Kind                 RequestKind     `json:"kind"`
	RequestNumber        string          `json:"request_number"`
	RequesterID          string          `json:"requester_id"`
	DepartmentID         string          `json:"department_id"`
	ProjectID            string          `json:"project_id,omitempty"`
	CategoryID           string          `json:"category_id"`
	Description          string          `json:"description"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	BaseCurrencyAmount   decimal.Decimal `json:"base_currency_amount"`
	Receipts             []string        `json:"receipts,omitempty"`
	Status               string          `json:"status"`
	CurrentTier          int             `json:"current_tier"`
	ApproverRoleRequired string          `json:"approver_role_required,omitempty"`
	AssignedApproverID   string          `json:"assigned_approver_id,omitempty"`
	PreApprovalID        string          `json:"pre_approval_id,omitempty"`
	SubmittedAt          *time.Time      `json:"submitted_at,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (r *ApprovableRequest) ApprovalKind() RequestKind { return r.Kind }

func (r *ApprovableRequest) ApprovalRequest() *ApprovableRequest { return r }

// Clone returns a deep copy.
func (r *ApprovableRequest) Clone() *ApprovableRequest {
	c := *r
	if r.Receipts != nil {
		c.Receipts = append([]string(nil), r.Receipts...)
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		c.SubmittedAt = &t
	}
	return &c
}

// BudgetScopes returns the scope keys the request draws on.
func (r *ApprovableRequest) BudgetScopes() []string {
	scopes := []string{ScopeKey(ScopeDepartment, r.DepartmentID)}
	if r.ProjectID != "" {
		scopes = append(scopes, ScopeKey(ScopeProject, r.ProjectID))
	}
	return append(scopes, ScopeKey(ScopeCategory, r.CategoryID))
}

// Expense is an after-the-fact reimbursement claim.
type Expense struct {
	ApprovableRequest
}

func NewExpense() *Expense {
	return &Expense{ApprovableRequest{Kind: KindExpense, Status: StatusDraft}}
}

// Voucher is a cash advance requested before spending.
type Voucher struct {
	ApprovableRequest
}

func NewVoucher() *Voucher {
	return &Voucher{ApprovableRequest{Kind: KindVoucher, Status: StatusDraft}}
}

var (
	_ Approvable = (*ApprovableRequest)(nil)
	_ Approvable = (*Expense)(nil)
	_ Approvable = (*Voucher)(nil)
)
