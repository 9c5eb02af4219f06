package workflow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ApprovalEngine runs approvable requests through the approval lifecycle.
//
// Every command validates against fresh state, then writes the status change,
// one history row and one outbox notification in a single transaction guarded
// by the request version. Notifications are dispatched after commit.
type ApprovalEngine interface {
	CreateDraft(ctx context.Context, in DraftInput) (*entity.ApprovableRequest, error)
	Submit(ctx context.Context, requestID int64, actorID string) (*entity.ApprovableRequest, error)
	Approve(ctx context.Context, cmd ApproveCommand) (*entity.ApprovableRequest, error)
	Reject(ctx context.Context, requestID int64, actorID, reason string) (*entity.ApprovableRequest, error)
	RequestClarification(ctx context.Context, requestID int64, actorID, question string) (*entity.ApprovableRequest, error)
	Resubmit(ctx context.Context, cmd ResubmitCommand) (*entity.ApprovableRequest, error)
	Withdraw(ctx context.Context, requestID int64, actorID string) (*entity.ApprovableRequest, error)
	MarkPaid(ctx context.Context, requestID int64, actorID string) (*entity.ApprovableRequest, error)

	// Escalate advances an overdue request on behalf of the system, or flags
	// it when it already sits at the highest tier.
	Escalate(ctx context.Context, requestID int64) (*EscalationResult, error)

	Get(ctx context.Context, requestID int64) (*entity.ApprovableRequest, error)
	History(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error)
	ListPending(ctx context.Context, role string, limit, offset int) ([]*entity.ApprovableRequest, error)
}

// DraftInput describes a new expense or voucher
type DraftInput struct {
	Kind         entity.RequestKind `json:"kind"`
	RequesterID  string             `json:"-"`
	DepartmentID string             `json:"department_id"`
	ProjectID    string             `json:"project_id"`
	CategoryID   string             `json:"category_id"`
	Description  string             `json:"description"`
	Amount       decimal.Decimal    `json:"amount"`
	Currency     string             `json:"currency"`
	Receipts     []string           `json:"receipts"`
}

// ApproveCommand approves the current tier of a request
type ApproveCommand struct {
	RequestID       int64
	ActorID         string
	Comment         string
	IsEmergency     bool
	EmergencyReason string
}

// ResubmitCommand amends a request awaiting clarification and sends it back
// into routing. Nil fields keep their current value.
type ResubmitCommand struct {
	RequestID   int64
	ActorID     string
	Amount      *decimal.Decimal
	Currency    *string
	Description *string
	Receipts    []string
	Comment     string
}

// EscalationAction is the outcome of an escalation attempt
type EscalationAction string

const (
	EscalationAdvanced EscalationAction = "ADVANCED"
	EscalationFlagged  EscalationAction = "FLAGGED"
	EscalationNotDue   EscalationAction = "NOT_DUE"
	EscalationSkipped  EscalationAction = "SKIPPED"
)

// EscalationResult reports what Escalate did
type EscalationResult struct {
	Action  EscalationAction
	Request *entity.ApprovableRequest
	Reason  string
}
