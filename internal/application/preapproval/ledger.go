// Package preapproval manages advance authorizations that back exactly one request.
package preapproval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/delegation"
	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/tier"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// DefaultExpiry is how long a pre-approval stays usable when no expiry is given.
const DefaultExpiry = 30 * 24 * time.Hour

// Decision values accepted by Decide
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// RequestInput describes a new pre-approval
type RequestInput struct {
	RequesterID     string          `json:"requester_id"`
	CategoryID      string          `json:"category_id"`
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`
	Purpose         string          `json:"purpose"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

// Ledger creates, decides and consumes pre-approvals
type Ledger struct {
	store          port.PreApprovalStore
	categories     port.CategoryRegistry
	directory      port.RoleDirectory
	sequences      port.SequenceCounter
	tiers          *tier.Resolver
	delegations    *delegation.Resolver
	dispatcher     dispatcher.Dispatcher
	logger         port.Logger
	now            func() time.Time
	expiry         time.Duration
	emergencyRoles []string
}

// Option configures the ledger
type Option func(*Ledger)

// WithDispatcher emits pre-approval events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(l *Ledger) { l.dispatcher = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithExpiry overrides DefaultExpiry
func WithExpiry(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.expiry = d
		}
	}
}

// WithEmergencyRoles sets roles that may decide any pre-approval
func WithEmergencyRoles(roles []string) Option {
	return func(l *Ledger) { l.emergencyRoles = roles }
}

// NewLedger creates a pre-approval ledger
func NewLedger(
	store port.PreApprovalStore,
	categories port.CategoryRegistry,
	directory port.RoleDirectory,
	sequences port.SequenceCounter,
	tiers *tier.Resolver,
	delegations *delegation.Resolver,
	logger port.Logger,
	opts ...Option,
) *Ledger {
	l := &Ledger{
		store:       store,
		categories:  categories,
		directory:   directory,
		sequences:   sequences,
		tiers:       tiers,
		delegations: delegations,
		logger:      logger,
		now:         time.Now,
		expiry:      DefaultExpiry,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Request records a new PENDING pre-approval.
func (l *Ledger) Request(ctx context.Context, in RequestInput) (*entity.PreApproval, error) {
	if strings.TrimSpace(in.RequesterID) == "" || strings.TrimSpace(in.CategoryID) == "" {
		return nil, apperr.Validation("requester and category are required")
	}
	if !in.EstimatedAmount.IsPositive() {
		return nil, apperr.Validation("estimated amount must be positive")
	}
	if strings.TrimSpace(in.Purpose) == "" {
		return nil, apperr.Validation("purpose is required")
	}
	cat, err := l.categories.GetCategory(ctx, in.CategoryID)
	if err != nil {
		return nil, apperr.Collaborator("category registry", err)
	}
	if cat == nil {
		return nil, apperr.NotFound("category %s not found", in.CategoryID)
	}

	now := l.now().UTC()
	expiresAt := now.Add(l.expiry)
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return nil, apperr.Validation("expiry must be in the future")
		}
		expiresAt = in.ExpiresAt.UTC()
	}

	seq, err := l.sequences.Next(ctx, fmt.Sprintf("PA-%d", now.Year()))
	if err != nil {
		return nil, apperr.Collaborator("sequence counter", err)
	}

	pa := &entity.PreApproval{
		ID:                uuid.NewString(),
		PreApprovalNumber: fmt.Sprintf("PA-%d-%06d", now.Year(), seq),
		RequesterID:       in.RequesterID,
		CategoryID:        in.CategoryID,
		EstimatedAmount:   entity.RoundBase(in.EstimatedAmount),
		Purpose:           in.Purpose,
		Status:            entity.PreApprovalStatusPending,
		ExpiresAt:         expiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.store.Create(ctx, pa); err != nil {
		return nil, fmt.Errorf("failed to create pre-approval: %w", err)
	}

	l.logger.Info("Pre-approval requested", "pre_approval", pa.PreApprovalNumber, "requester", pa.RequesterID)
	l.emit(ctx, event.TypePreApprovalRequested, pa, l.approversFor(ctx, pa))
	return pa, nil
}

// Decide approves or rejects a PENDING pre-approval. The actor must be able
// to approve the tier the estimated amount falls into, or hold an emergency
// role, and may not decide their own request.
func (l *Ledger) Decide(ctx context.Context, id, actorID, decision, reason string) (*entity.PreApproval, error) {
	var status string
	switch decision {
	case DecisionApprove:
		status = entity.PreApprovalStatusApproved
	case DecisionReject:
		status = entity.PreApprovalStatusRejected
		if strings.TrimSpace(reason) == "" {
			return nil, apperr.Validation("a reason is required to reject a pre-approval")
		}
	default:
		return nil, apperr.Validation("unknown decision %q", decision)
	}

	pa, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pa.Status != entity.PreApprovalStatusPending {
		return nil, apperr.InvalidState("pre-approval %s is %s, not PENDING", pa.PreApprovalNumber, pa.Status)
	}
	if actorID == pa.RequesterID {
		return nil, apperr.Unauthorized("requesters cannot decide their own pre-approval")
	}
	if err := l.authorize(ctx, actorID, pa); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	ok, err := l.store.Decide(ctx, id, status, actorID, reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record pre-approval decision: %w", err)
	}
	if !ok {
		return nil, apperr.InvalidState("pre-approval %s was decided concurrently", pa.PreApprovalNumber)
	}

	pa.Status = status
	pa.ApproverID = actorID
	pa.DecisionReason = reason
	pa.DecidedAt = &now
	pa.UpdatedAt = now

	l.logger.Info("Pre-approval decided", "pre_approval", pa.PreApprovalNumber, "status", status, "actor", actorID)
	l.emit(ctx, event.TypePreApprovalDecided, pa, []string{pa.RequesterID})
	return pa, nil
}

func (l *Ledger) authorize(ctx context.Context, actorID string, pa *entity.PreApproval) error {
	t, err := l.tiers.ResolveTier(ctx, pa.EstimatedAmount)
	if err != nil {
		return err
	}
	ok, err := l.delegations.CanAct(ctx, actorID, t.ApproverRole, l.now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	for _, role := range l.emergencyRoles {
		has, err := l.directory.HasRole(ctx, actorID, role)
		if err != nil {
			return apperr.Collaborator("role directory", err)
		}
		if has {
			return nil
		}
	}
	return apperr.Unauthorized("user %s may not decide pre-approvals requiring %s", actorID, t.ApproverRole)
}

// Get returns the pre-approval or a NOT_FOUND error.
func (l *Ledger) Get(ctx context.Context, id string) (*entity.PreApproval, error) {
	pa, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Collaborator("pre-approval store", err)
	}
	if pa == nil {
		return nil, apperr.NotFound("pre-approval %s not found", id)
	}
	return pa, nil
}

// FindValidFor returns an APPROVED, unexpired pre-approval of the requester
// in the category, or nil. It always reads the store.
func (l *Ledger) FindValidFor(ctx context.Context, requesterID, categoryID string) (*entity.PreApproval, error) {
	candidates, err := l.store.ListApproved(ctx, requesterID, categoryID)
	if err != nil {
		return nil, apperr.Collaborator("pre-approval store", err)
	}
	now := l.now()
	for _, pa := range candidates {
		if pa.UsableAt(now) {
			return pa, nil
		}
	}
	return nil, nil
}

// Consume marks an APPROVED pre-approval USED by requestID. Of any number of
// concurrent consumers exactly one succeeds; the others get ALREADY_USED.
func (l *Ledger) Consume(ctx context.Context, id string, requestID int64, actualAmount decimal.Decimal) error {
	pa, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	now := l.now().UTC()
	if pa.Status == entity.PreApprovalStatusApproved && !pa.UsableAt(now) {
		return apperr.InvalidState("pre-approval %s expired at %s", pa.PreApprovalNumber, pa.ExpiresAt.Format(time.RFC3339))
	}

	ok, err := l.store.Consume(ctx, id, requestID, actualAmount, now)
	if err != nil {
		return apperr.Collaborator("pre-approval store", err)
	}
	if ok {
		return nil
	}

	current, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == entity.PreApprovalStatusUsed {
		return apperr.AlreadyUsed("pre-approval %s has already been used", current.PreApprovalNumber)
	}
	return apperr.InvalidState("pre-approval %s is %s, not APPROVED", current.PreApprovalNumber, current.Status)
}

// ExpireStale marks PENDING and APPROVED pre-approvals past their expiry as EXPIRED.
func (l *Ledger) ExpireStale(ctx context.Context, limit int) (int, error) {
	candidates, err := l.store.ListExpirable(ctx, limit)
	if err != nil {
		return 0, apperr.Collaborator("pre-approval store", err)
	}
	now := l.now().UTC()
	expired := 0
	for _, pa := range candidates {
		if now.Before(pa.ExpiresAt) {
			continue
		}
		ok, err := l.store.MarkExpired(ctx, pa.ID, pa.Status, now)
		if err != nil {
			return expired, apperr.Collaborator("pre-approval store", err)
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		l.logger.Info("Expired stale pre-approvals", "count", expired)
	}
	return expired, nil
}

func (l *Ledger) approversFor(ctx context.Context, pa *entity.PreApproval) []string {
	t, err := l.tiers.ResolveTier(ctx, pa.EstimatedAmount)
	if err != nil {
		return nil
	}
	approvers, err := l.delegations.EligibleApprovers(ctx, t.ApproverRole, l.now())
	if err != nil {
		l.logger.Warn("Could not resolve pre-approval approvers", "pre_approval", pa.PreApprovalNumber, "error", err)
		return nil
	}
	ids := make([]string, 0, len(approvers))
	for _, a := range approvers {
		if a.UserID != pa.RequesterID {
			ids = append(ids, a.UserID)
		}
	}
	return ids
}

func (l *Ledger) emit(ctx context.Context, t event.Type, pa *entity.PreApproval, recipients []string) {
	if l.dispatcher == nil || len(recipients) == 0 {
		return
	}
	l.dispatcher.DispatchAsync(ctx, event.NewEvent(t, 0, pa.PreApprovalNumber, recipients, map[string]interface{}{
		"pre_approval_id":  pa.ID,
		"status":           pa.Status,
		"estimated_amount": pa.EstimatedAmount.StringFixed(entity.BaseCurrencyScale),
		"purpose":          pa.Purpose,
	}))
}
