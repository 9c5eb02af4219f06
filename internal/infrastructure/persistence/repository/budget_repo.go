package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// BudgetRepository implements port.BudgetLedger on the budgets table.
// Amounts are stored in minor units.
type BudgetRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *sqlite.DB, logger *zap.Logger) port.BudgetLedger {
	return &BudgetRepository{db: db, logger: logger}
}

// GetUtilization returns the envelope of a scope, nil if none is configured
func (r *BudgetRepository) GetUtilization(ctx context.Context, scopeKey string) (*entity.BudgetUtilization, error) {
	query := `
		SELECT scope_key, allocated_minor, committed_minor, spent_minor,
		       warning_threshold_pct, enforcement, version
		FROM budgets WHERE scope_key = ?
	`
	var (
		b                           entity.BudgetUtilization
		allocated, committed, spent int64
		threshold                   string
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, scopeKey).Scan(
		&b.ScopeKey, &allocated, &committed, &spent, &threshold, &b.Enforcement, &b.Version,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get budget", zap.String("scope", scopeKey), zap.Error(err))
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}

	b.Allocated = entity.FromMinorUnits(allocated)
	b.Committed = entity.FromMinorUnits(committed)
	b.Spent = entity.FromMinorUnits(spent)
	if b.WarningThresholdPct, err = decimal.NewFromString(threshold); err != nil {
		return nil, fmt.Errorf("invalid warning threshold for %s: %w", scopeKey, err)
	}
	return &b, nil
}

// Upsert stores an envelope, resetting its version to 1 when it is new
func (r *BudgetRepository) Upsert(ctx context.Context, b *entity.BudgetUtilization) error {
	query := `
		INSERT INTO budgets (scope_key, allocated_minor, committed_minor, spent_minor,
		                     warning_threshold_pct, enforcement, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(scope_key) DO UPDATE SET
			allocated_minor = excluded.allocated_minor,
			warning_threshold_pct = excluded.warning_threshold_pct,
			enforcement = excluded.enforcement,
			version = budgets.version + 1
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		b.ScopeKey,
		entity.MinorUnits(b.Allocated),
		entity.MinorUnits(b.Committed),
		entity.MinorUnits(b.Spent),
		b.WarningThresholdPct.String(),
		b.Enforcement,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert budget: %w", err)
	}
	return nil
}

// Commit adds amount to committed if the envelope is still at expectedVersion
func (r *BudgetRepository) Commit(ctx context.Context, scopeKey string, amount decimal.Decimal, expectedVersion int64) error {
	query := `
		UPDATE budgets
		SET committed_minor = committed_minor + ?, version = version + 1
		WHERE scope_key = ? AND version = ?
	`
	return r.update(ctx, query, scopeKey, entity.MinorUnits(amount), scopeKey, expectedVersion)
}

// Settle moves amount from committed to spent if the envelope is still at expectedVersion
func (r *BudgetRepository) Settle(ctx context.Context, scopeKey string, amount decimal.Decimal, expectedVersion int64) error {
	units := entity.MinorUnits(amount)
	query := `
		UPDATE budgets
		SET committed_minor = committed_minor - ?, spent_minor = spent_minor + ?, version = version + 1
		WHERE scope_key = ? AND version = ?
	`
	return r.update(ctx, query, scopeKey, units, units, scopeKey, expectedVersion)
}

func (r *BudgetRepository) update(ctx context.Context, query, scopeKey string, args ...interface{}) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update budget", zap.String("scope", scopeKey), zap.Error(err))
		return fmt.Errorf("failed to update budget: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.StaleState("budget %s was modified concurrently", scopeKey)
	}
	return nil
}

// Verify interface compliance
var _ port.BudgetLedger = (*BudgetRepository)(nil)
