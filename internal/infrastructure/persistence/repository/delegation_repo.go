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

// DelegationRepository implements port.DelegationRepository
type DelegationRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDelegationRepository creates a new delegation repository
func NewDelegationRepository(db *sqlite.DB, logger *zap.Logger) port.DelegationRepository {
	return &DelegationRepository{db: db, logger: logger}
}

const delegationColumns = `id, from_user_id, to_user_id, start_date, end_date, reason, is_active, created_at`

// Create inserts a new delegation
func (r *DelegationRepository) Create(ctx context.Context, d *entity.Delegation) error {
	query := `
		INSERT INTO delegations (id, from_user_id, to_user_id, start_date, end_date, reason, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		d.ID,
		d.FromUserID,
		d.ToUserID,
		d.StartDate.UTC(),
		d.EndDate.UTC(),
		nullString(d.Reason),
		boolInt(d.IsActive),
		d.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create delegation", zap.String("from", d.FromUserID), zap.Error(err))
		return fmt.Errorf("failed to create delegation: %w", err)
	}
	return nil
}

// GetByID retrieves a delegation by ID
func (r *DelegationRepository) GetByID(ctx context.Context, id string) (*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations WHERE id = ?`
	d, err := scanDelegation(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return d, nil
}

// ListActiveFrom returns the active delegations of a delegator
func (r *DelegationRepository) ListActiveFrom(ctx context.Context, fromUserID string) ([]*entity.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations
		WHERE from_user_id = ? AND is_active = 1 ORDER BY start_date ASC`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, fromUserID)
	if err != nil {
		r.logger.Error("Failed to list delegations", zap.String("from", fromUserID), zap.Error(err))
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var out []*entity.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Deactivate marks a delegation inactive
func (r *DelegationRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx, `UPDATE delegations SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate delegation: %w", err)
	}
	return nil
}

func scanDelegation(s scanner) (*entity.Delegation, error) {
	var (
		d      entity.Delegation
		reason sql.NullString
		active int
	)
	if err := s.Scan(&d.ID, &d.FromUserID, &d.ToUserID, &d.StartDate, &d.EndDate, &reason, &active, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Reason = reason.String
	d.IsActive = active != 0
	d.StartDate = d.StartDate.UTC()
	d.EndDate = d.EndDate.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// Verify interface compliance
var _ port.DelegationRepository = (*DelegationRepository)(nil)
