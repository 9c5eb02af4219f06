package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// TierRepository implements port.TierRepository
type TierRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTierRepository creates a new tier repository
func NewTierRepository(db *sqlite.DB, logger *zap.Logger) port.TierRepository {
	return &TierRepository{db: db, logger: logger}
}

// ListActive returns the active tiers ordered by tier order
func (r *TierRepository) ListActive(ctx context.Context) ([]*entity.ApprovalTier, error) {
	query := `
		SELECT id, tier_order, min_amount_minor, max_amount_minor, approver_role,
			escalation_days, is_active, created_at
		FROM approval_tiers
		WHERE is_active = 1
		ORDER BY tier_order ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list tiers", zap.Error(err))
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []*entity.ApprovalTier
	for rows.Next() {
		var (
			t        entity.ApprovalTier
			minMinor int64
			maxMinor sql.NullInt64
			escDays  sql.NullInt64
			active   int
		)
		if err := rows.Scan(&t.ID, &t.TierOrder, &minMinor, &maxMinor, &t.ApproverRole, &escDays, &active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		t.MinAmount = entity.FromMinorUnits(minMinor)
		t.MaxAmount = minorPtr(maxMinor)
		if escDays.Valid {
			d := int(escDays.Int64)
			t.EscalationDays = &d
		}
		t.IsActive = active != 0
		tiers = append(tiers, &t)
	}
	return tiers, rows.Err()
}

// ReplaceActive deactivates the current schedule and inserts tiers. Old rows
// are kept for history. Must run inside a transaction.
func (r *TierRepository) ReplaceActive(ctx context.Context, tiers []*entity.ApprovalTier) error {
	exec := r.db.Executor(ctx)
	if _, err := exec.ExecContext(ctx, `UPDATE approval_tiers SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("failed to deactivate tiers: %w", err)
	}

	query := `
		INSERT INTO approval_tiers (
			tier_order, min_amount_minor, max_amount_minor, approver_role,
			escalation_days, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, 1, ?)
	`
	for _, t := range tiers {
		var escDays sql.NullInt64
		if t.EscalationDays != nil {
			escDays = sql.NullInt64{Int64: int64(*t.EscalationDays), Valid: true}
		}
		result, err := exec.ExecContext(ctx, query,
			t.TierOrder,
			entity.MinorUnits(t.MinAmount),
			nullMinor(t.MaxAmount),
			t.ApproverRole,
			escDays,
			t.CreatedAt.UTC(),
		)
		if err != nil {
			r.logger.Error("Failed to insert tier", zap.Int("tier_order", t.TierOrder), zap.Error(err))
			return fmt.Errorf("failed to insert tier %d: %w", t.TierOrder, err)
		}
		if t.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		t.IsActive = true
	}
	return nil
}

// Verify interface compliance
var _ port.TierRepository = (*TierRepository)(nil)
