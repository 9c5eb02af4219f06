package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Lookups return (nil, nil) when the record does not exist.

// RequestRepository defines persistence operations for ApprovableRequest
type RequestRepository interface {
	Create(ctx context.Context, req *entity.ApprovableRequest) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovableRequest, error)
	// UpdateIfVersion writes req only if the stored version still equals
	// expectedVersion and bumps the version. A mismatch returns a
	// STALE_STATE error and writes nothing.
	UpdateIfVersion(ctx context.Context, req *entity.ApprovableRequest, expectedVersion int64) error
	// ListByStatus returns requests in status with id greater than afterID,
	// ordered by id. Callers page by passing the last id they saw.
	ListByStatus(ctx context.Context, status string, afterID int64, limit int) ([]*entity.ApprovableRequest, error)
	ListPendingForRole(ctx context.Context, role string, limit, offset int) ([]*entity.ApprovableRequest, error)
}

// AuditSink is the append-only approval history
type AuditSink interface {
	Append(ctx context.Context, history *entity.ApprovalHistory) error
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error)
	Latest(ctx context.Context, requestID int64) (*entity.ApprovalHistory, error)
}

// TierRepository defines persistence operations for ApprovalTier
type TierRepository interface {
	ListActive(ctx context.Context) ([]*entity.ApprovalTier, error)
	// ReplaceActive deactivates the current schedule and inserts tiers as the new one
	ReplaceActive(ctx context.Context, tiers []*entity.ApprovalTier) error
}

// PreApprovalStore defines persistence operations for PreApproval
type PreApprovalStore interface {
	Create(ctx context.Context, pa *entity.PreApproval) error
	GetByID(ctx context.Context, id string) (*entity.PreApproval, error)
	// ListApproved returns APPROVED pre-approvals of the requester in the category, oldest expiry first
	ListApproved(ctx context.Context, requesterID, categoryID string) ([]*entity.PreApproval, error)
	// Decide moves a PENDING pre-approval to status. Returns false if it was no longer PENDING.
	Decide(ctx context.Context, id, status, approverID, reason string, decidedAt time.Time) (bool, error)
	// Consume moves an APPROVED pre-approval to USED. Returns false if it was not APPROVED.
	Consume(ctx context.Context, id string, requestID int64, actualAmount decimal.Decimal, at time.Time) (bool, error)
	ListExpirable(ctx context.Context, limit int) ([]*entity.PreApproval, error)
	// MarkExpired moves the pre-approval from status to EXPIRED. Returns false if the status changed.
	MarkExpired(ctx context.Context, id, fromStatus string, at time.Time) (bool, error)
}

// DelegationRepository defines persistence operations for Delegation
type DelegationRepository interface {
	Create(ctx context.Context, d *entity.Delegation) error
	GetByID(ctx context.Context, id string) (*entity.Delegation, error)
	ListActiveFrom(ctx context.Context, fromUserID string) ([]*entity.Delegation, error)
	Deactivate(ctx context.Context, id string) error
}

// BudgetLedger defines persistence operations for budget envelopes
type BudgetLedger interface {
	// GetUtilization returns nil when no budget exists for the scope
	GetUtilization(ctx context.Context, scopeKey string) (*entity.BudgetUtilization, error)
	// Commit adds amount to committed if the envelope is still at expectedVersion
	Commit(ctx context.Context, scopeKey string, amount decimal.Decimal, expectedVersion int64) error
	// Settle moves amount from committed to spent if the envelope is still at expectedVersion
	Settle(ctx context.Context, scopeKey string, amount decimal.Decimal, expectedVersion int64) error
}

// CategoryRegistry looks up expense categories
type CategoryRegistry interface {
	GetCategory(ctx context.Context, id string) (*entity.Category, error)
}

// RoleDirectory answers identity and role questions
type RoleDirectory interface {
	GetUser(ctx context.Context, userID string) (*entity.User, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	ManagerOf(ctx context.Context, userID string) (string, error)
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	IsLocked(ctx context.Context, userID string) (bool, error)
}

// CurrencyTable converts amounts to the base currency
type CurrencyTable interface {
	ToBase(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// SequenceCounter hands out monotonically increasing numbers per scope
type SequenceCounter interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// NotificationOutbox stores notifications written inside state-change transactions
type NotificationOutbox interface {
	Enqueue(ctx context.Context, msg *entity.OutboxMessage) error
	MarkSent(ctx context.Context, id int64, at time.Time) error
	// MarkFailed records a failed attempt. A non-empty remaining replaces the
	// row's recipients so a retry only reaches the ones not yet notified.
	MarkFailed(ctx context.Context, id int64, remaining []string, errMsg string, final bool) error
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.OutboxMessage, error)
	HasEventSince(ctx context.Context, requestID int64, eventType string, since time.Time) (bool, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
