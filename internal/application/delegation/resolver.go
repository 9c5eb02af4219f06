// Package delegation resolves approval authority under temporary delegation.
package delegation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// Input describes a delegation to create
type Input struct {
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Reason     string    `json:"reason"`
}

// Resolver answers who may act for whom. Delegation is a single hop: if A
// delegates to B and B delegates to C, A's work goes to B, never to C.
type Resolver struct {
	repo       port.DelegationRepository
	directory  port.RoleDirectory
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	logger     port.Logger
	now        func() time.Time
}

// Option configures the resolver
type Option func(*Resolver)

// WithDispatcher emits delegation events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(r *Resolver) { r.dispatcher = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a delegation resolver
func NewResolver(repo port.DelegationRepository, directory port.RoleDirectory, txManager port.TransactionManager, logger port.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		repo:      repo,
		directory: directory,
		txManager: txManager,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectiveApprover returns the delegate of userID at time at, or userID
// itself when no delegation is in force.
func (r *Resolver) EffectiveApprover(ctx context.Context, userID string, at time.Time) (string, error) {
	d, err := r.activeAt(ctx, userID, at)
	if err != nil {
		return "", err
	}
	if d == nil {
		return userID, nil
	}
	return d.ToUserID, nil
}

func (r *Resolver) activeAt(ctx context.Context, userID string, at time.Time) (*entity.Delegation, error) {
	delegations, err := r.repo.ListActiveFrom(ctx, userID)
	if err != nil {
		return nil, apperr.Collaborator("delegation repository", err)
	}
	for _, d := range delegations {
		if d.Covers(at) {
			return d, nil
		}
	}
	return nil, nil
}

// EligibleApprovers returns the users who may act for role at time at:
// every unlocked holder of the role, each replaced by its delegate when a
// delegation is in force. The result is sorted and free of duplicates.
func (r *Resolver) EligibleApprovers(ctx context.Context, role string, at time.Time) ([]Approver, error) {
	holders, err := r.directory.UsersWithRole(ctx, role)
	if err != nil {
		return nil, apperr.Collaborator("role directory", err)
	}

	seen := make(map[string]bool, len(holders))
	out := make([]Approver, 0, len(holders))
	for _, holder := range holders {
		effective, err := r.EffectiveApprover(ctx, holder, at)
		if err != nil {
			return nil, err
		}
		if seen[effective] {
			continue
		}
		locked, err := r.directory.IsLocked(ctx, effective)
		if err != nil {
			return nil, apperr.Collaborator("role directory", err)
		}
		if locked {
			continue
		}
		seen[effective] = true
		a := Approver{UserID: effective}
		if effective != holder {
			a.OnBehalfOf = holder
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Approver is a user allowed to act for a role
type Approver struct {
	UserID string
	// OnBehalfOf is the role holder whose authority was delegated, if any
	OnBehalfOf string
}

// CanAct reports whether userID is among the eligible approvers of role at time at.
func (r *Resolver) CanAct(ctx context.Context, userID, role string, at time.Time) (bool, error) {
	approvers, err := r.EligibleApprovers(ctx, role, at)
	if err != nil {
		return false, err
	}
	for _, a := range approvers {
		if a.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// Create records a delegation. Only the delegator or an ADMIN may create one
// and windows of the same delegator may not overlap.
func (r *Resolver) Create(ctx context.Context, actorID string, in Input) (*entity.Delegation, error) {
	if strings.TrimSpace(in.FromUserID) == "" || strings.TrimSpace(in.ToUserID) == "" {
		return nil, apperr.Validation("delegator and delegate are required")
	}
	if in.FromUserID == in.ToUserID {
		return nil, apperr.Validation("a user cannot delegate to themselves")
	}
	if !in.StartDate.Before(in.EndDate) {
		return nil, apperr.Validation("delegation start must be before its end")
	}
	if err := r.authorize(ctx, actorID, in.FromUserID); err != nil {
		return nil, err
	}
	delegate, err := r.directory.GetUser(ctx, in.ToUserID)
	if err != nil {
		return nil, apperr.Collaborator("role directory", err)
	}
	if delegate == nil {
		return nil, apperr.NotFound("user %s not found", in.ToUserID)
	}

	d := &entity.Delegation{
		ID:         uuid.NewString(),
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		StartDate:  in.StartDate.UTC(),
		EndDate:    in.EndDate.UTC(),
		Reason:     in.Reason,
		IsActive:   true,
		CreatedAt:  r.now().UTC(),
	}

	err = r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := r.repo.ListActiveFrom(txCtx, in.FromUserID)
		if err != nil {
			return apperr.Collaborator("delegation repository", err)
		}
		for _, e := range existing {
			if e.Overlaps(d.StartDate, d.EndDate) {
				return apperr.Validation("delegation overlaps existing delegation %s", e.ID)
			}
		}
		if err := r.repo.Create(txCtx, d); err != nil {
			return fmt.Errorf("failed to create delegation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Delegation created", "delegation_id", d.ID, "from", d.FromUserID, "to", d.ToUserID, "actor", actorID)
	r.emit(ctx, event.TypeDelegationCreated, d)
	return d, nil
}

// Revoke deactivates a delegation. Only the delegator or an ADMIN may revoke it.
func (r *Resolver) Revoke(ctx context.Context, actorID, id string) (*entity.Delegation, error) {
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Collaborator("delegation repository", err)
	}
	if d == nil {
		return nil, apperr.NotFound("delegation %s not found", id)
	}
	if err := r.authorize(ctx, actorID, d.FromUserID); err != nil {
		return nil, err
	}
	if !d.IsActive {
		return d, nil
	}
	if err := r.repo.Deactivate(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to revoke delegation: %w", err)
	}
	d.IsActive = false

	r.logger.Info("Delegation revoked", "delegation_id", d.ID, "actor", actorID)
	r.emit(ctx, event.TypeDelegationRevoked, d)
	return d, nil
}

func (r *Resolver) authorize(ctx context.Context, actorID, delegatorID string) error {
	if actorID == delegatorID {
		return nil
	}
	isAdmin, err := r.directory.HasRole(ctx, actorID, entity.RoleAdmin)
	if err != nil {
		return apperr.Collaborator("role directory", err)
	}
	if !isAdmin {
		return apperr.Unauthorized("only the delegator or an administrator may manage delegations of %s", delegatorID)
	}
	return nil
}

func (r *Resolver) emit(ctx context.Context, t event.Type, d *entity.Delegation) {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.DispatchAsync(ctx, event.NewEvent(t, 0, "", []string{d.FromUserID, d.ToUserID}, map[string]interface{}{
		"delegation_id": d.ID,
		"from_user_id":  d.FromUserID,
		"to_user_id":    d.ToUserID,
		"start_date":    d.StartDate.Format(time.RFC3339),
		"end_date":      d.EndDate.Format(time.RFC3339),
	}))
}
