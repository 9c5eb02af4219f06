// Package tier maps base-currency amounts to approval tiers.
package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Spec describes one tier of a schedule being configured
type Spec struct {
	MinAmount      decimal.Decimal  `json:"min_amount"`
	MaxAmount      *decimal.Decimal `json:"max_amount,omitempty"`
	ApproverRole   string           `json:"approver_role"`
	EscalationDays *int             `json:"escalation_days,omitempty"`
}

// Resolver resolves amounts against the active tier schedule. The schedule
// is read on every call so configuration changes apply immediately.
type Resolver struct {
	repo      port.TierRepository
	directory port.RoleDirectory
	txManager port.TransactionManager
	logger    port.Logger
}

// NewResolver creates a tier resolver
func NewResolver(repo port.TierRepository, directory port.RoleDirectory, txManager port.TransactionManager, logger port.Logger) *Resolver {
	return &Resolver{repo: repo, directory: directory, txManager: txManager, logger: logger}
}

// ResolveTier returns the tier whose band contains baseAmount.
func (r *Resolver) ResolveTier(ctx context.Context, baseAmount decimal.Decimal) (*entity.ApprovalTier, error) {
	tiers, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, apperr.Collaborator("tier repository", err)
	}
	t, err := Resolve(tiers, baseAmount)
	if err != nil {
		r.logger.Error("No approval tier configured for amount", "amount", baseAmount.String(), "active_tiers", len(tiers))
		return nil, err
	}
	return t, nil
}

// Next returns the tier following order, or nil if order is the highest active tier.
func (r *Resolver) Next(ctx context.Context, order int) (*entity.ApprovalTier, error) {
	tiers, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, apperr.Collaborator("tier repository", err)
	}
	return Next(tiers, order), nil
}

// Get returns the active tier with the given order, or nil.
func (r *Resolver) Get(ctx context.Context, order int) (*entity.ApprovalTier, error) {
	tiers, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, apperr.Collaborator("tier repository", err)
	}
	for _, t := range tiers {
		if t.TierOrder == order {
			return t, nil
		}
	}
	return nil, nil
}

// List returns the active schedule ordered by tier order.
func (r *Resolver) List(ctx context.Context) ([]*entity.ApprovalTier, error) {
	tiers, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, apperr.Collaborator("tier repository", err)
	}
	return tiers, nil
}

// Configure replaces the active schedule. Only ADMIN users may do this and
// the new schedule must be a valid partition. Old tiers are deactivated, not deleted.
func (r *Resolver) Configure(ctx context.Context, actorID string, specs []Spec) ([]*entity.ApprovalTier, error) {
	isAdmin, err := r.directory.HasRole(ctx, actorID, entity.RoleAdmin)
	if err != nil {
		return nil, apperr.Collaborator("role directory", err)
	}
	if !isAdmin {
		return nil, apperr.Unauthorized("user %s may not configure approval tiers", actorID)
	}

	now := time.Now().UTC()
	tiers := make([]*entity.ApprovalTier, len(specs))
	for i, s := range specs {
		if s.ApproverRole == "" {
			return nil, apperr.Validation("tier %d has no approver role", i+1)
		}
		tiers[i] = &entity.ApprovalTier{
			TierOrder:      i + 1,
			MinAmount:      entity.RoundBase(s.MinAmount),
			MaxAmount:      roundPtr(s.MaxAmount),
			ApproverRole:   s.ApproverRole,
			EscalationDays: s.EscalationDays,
			IsActive:       true,
			CreatedAt:      now,
		}
	}
	if err := ValidatePartition(tiers); err != nil {
		return nil, err
	}

	if err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return r.repo.ReplaceActive(txCtx, tiers)
	}); err != nil {
		return nil, fmt.Errorf("failed to replace tier schedule: %w", err)
	}

	r.logger.Info("Approval tier schedule replaced", "actor", actorID, "tiers", len(tiers))
	return tiers, nil
}

func roundPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := entity.RoundBase(*d)
	return &v
}

// Resolve scans tiers in ascending order and returns the first whose band
// contains amount. tiers must be sorted by TierOrder.
func Resolve(tiers []*entity.ApprovalTier, amount decimal.Decimal) (*entity.ApprovalTier, error) {
	for _, t := range tiers {
		if t.IsActive && t.Contains(amount) {
			return t, nil
		}
	}
	return nil, apperr.NoTierConfigured("no active approval tier covers amount %s", amount.StringFixed(entity.BaseCurrencyScale))
}

// Next returns the active tier following order, or nil.
func Next(tiers []*entity.ApprovalTier, order int) *entity.ApprovalTier {
	for _, t := range tiers {
		if t.IsActive && t.TierOrder > order {
			return t
		}
	}
	return nil
}

// ValidatePartition checks that tiers start at zero, are contiguous at
// currency precision, do not overlap and end with the only open-ended tier.
func ValidatePartition(tiers []*entity.ApprovalTier) error {
	if len(tiers) == 0 {
		return apperr.Validation("tier schedule is empty")
	}
	if !tiers[0].MinAmount.IsZero() {
		return apperr.Validation("first tier must start at 0, got %s", tiers[0].MinAmount)
	}
	for i, t := range tiers {
		last := i == len(tiers)-1
		if t.MaxAmount == nil && !last {
			return apperr.Validation("only the last tier may be open-ended (tier %d)", t.TierOrder)
		}
		if t.MaxAmount != nil && last {
			return apperr.Validation("the last tier must be open-ended (tier %d ends at %s)", t.TierOrder, t.MaxAmount)
		}
		if t.MaxAmount != nil && t.MaxAmount.LessThan(t.MinAmount) {
			return apperr.Validation("tier %d max %s is below min %s", t.TierOrder, t.MaxAmount, t.MinAmount)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.TierOrder <= prev.TierOrder {
			return apperr.Validation("tier order must increase (tier %d after %d)", t.TierOrder, prev.TierOrder)
		}
		want := prev.MaxAmount.Add(entity.SmallestUnit)
		if !t.MinAmount.Equal(want) {
			return apperr.Validation("tier %d must start at %s to follow tier %d", t.TierOrder, want, prev.TierOrder)
		}
	}
	return nil
}
