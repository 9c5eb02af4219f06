package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// PreApprovalRepository implements port.PreApprovalStore. Status changes are
// conditional updates on the current status, so of two racing writers only
// one sees a changed row.
type PreApprovalRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewPreApprovalRepository creates a new pre-approval repository
func NewPreApprovalRepository(db *sqlite.DB, logger *zap.Logger) port.PreApprovalStore {
	return &PreApprovalRepository{db: db, logger: logger}
}

const preApprovalColumns = `
	id, pre_approval_number, requester_id, category_id, estimated_amount_minor, purpose,
	status, approver_id, decision_reason, expires_at, actual_amount_minor,
	consumed_by_request_id, decided_at, created_at, updated_at`

// Create inserts a new pre-approval
func (r *PreApprovalRepository) Create(ctx context.Context, pa *entity.PreApproval) error {
	query := `
		INSERT INTO pre_approvals (
			id, pre_approval_number, requester_id, category_id, estimated_amount_minor,
			purpose, status, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		pa.ID,
		pa.PreApprovalNumber,
		pa.RequesterID,
		pa.CategoryID,
		entity.MinorUnits(pa.EstimatedAmount),
		pa.Purpose,
		pa.Status,
		pa.ExpiresAt.UTC(),
		pa.CreatedAt.UTC(),
		pa.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create pre-approval", zap.String("number", pa.PreApprovalNumber), zap.Error(err))
		return fmt.Errorf("failed to create pre-approval: %w", err)
	}
	return nil
}

// GetByID retrieves a pre-approval by ID
func (r *PreApprovalRepository) GetByID(ctx context.Context, id string) (*entity.PreApproval, error) {
	query := `SELECT ` + preApprovalColumns + ` FROM pre_approvals WHERE id = ?`

	pa, err := scanPreApproval(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pre-approval", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get pre-approval: %w", err)
	}
	return pa, nil
}

// ListApproved returns APPROVED pre-approvals of the requester in the category, oldest expiry first
func (r *PreApprovalRepository) ListApproved(ctx context.Context, requesterID, categoryID string) ([]*entity.PreApproval, error) {
	query := `SELECT ` + preApprovalColumns + ` FROM pre_approvals
		WHERE requester_id = ? AND category_id = ? AND status = ?
		ORDER BY expires_at ASC, id ASC`
	return r.list(ctx, query, requesterID, categoryID, entity.PreApprovalStatusApproved)
}

// Decide moves a PENDING pre-approval to status
func (r *PreApprovalRepository) Decide(ctx context.Context, id, status, approverID, reason string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE pre_approvals
		SET status = ?, approver_id = ?, decision_reason = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.update(ctx, query, status, approverID, nullString(reason), decidedAt.UTC(), decidedAt.UTC(),
		id, entity.PreApprovalStatusPending)
}

// Consume moves an APPROVED pre-approval to USED
func (r *PreApprovalRepository) Consume(ctx context.Context, id string, requestID int64, actualAmount decimal.Decimal, at time.Time) (bool, error) {
	query := `
		UPDATE pre_approvals
		SET status = ?, consumed_by_request_id = ?, actual_amount_minor = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.update(ctx, query, entity.PreApprovalStatusUsed, requestID, entity.MinorUnits(actualAmount), at.UTC(),
		id, entity.PreApprovalStatusApproved)
}

// ListExpirable returns PENDING and APPROVED pre-approvals, oldest expiry first
func (r *PreApprovalRepository) ListExpirable(ctx context.Context, limit int) ([]*entity.PreApproval, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + preApprovalColumns + ` FROM pre_approvals
		WHERE status IN (?, ?)
		ORDER BY expires_at ASC, id ASC LIMIT ?`
	return r.list(ctx, query, entity.PreApprovalStatusPending, entity.PreApprovalStatusApproved, limit)
}

// MarkExpired moves the pre-approval from fromStatus to EXPIRED
func (r *PreApprovalRepository) MarkExpired(ctx context.Context, id, fromStatus string, at time.Time) (bool, error) {
	query := `UPDATE pre_approvals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	return r.update(ctx, query, entity.PreApprovalStatusExpired, at.UTC(), id, fromStatus)
}

func (r *PreApprovalRepository) update(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update pre-approval", zap.Error(err))
		return false, fmt.Errorf("failed to update pre-approval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *PreApprovalRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.PreApproval, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list pre-approvals", zap.Error(err))
		return nil, fmt.Errorf("failed to list pre-approvals: %w", err)
	}
	defer rows.Close()

	var out []*entity.PreApproval
	for rows.Next() {
		pa, err := scanPreApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pre-approval: %w", err)
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

func scanPreApproval(s scanner) (*entity.PreApproval, error) {
	var (
		pa                 entity.PreApproval
		estimated          int64
		approver, reason   sql.NullString
		actual, consumedBy sql.NullInt64
		decidedAt          sql.NullTime
	)
	err := s.Scan(
		&pa.ID,
		&pa.PreApprovalNumber,
		&pa.RequesterID,
		&pa.CategoryID,
		&estimated,
		&pa.Purpose,
		&pa.Status,
		&approver,
		&reason,
		&pa.ExpiresAt,
		&actual,
		&consumedBy,
		&decidedAt,
		&pa.CreatedAt,
		&pa.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	pa.EstimatedAmount = entity.FromMinorUnits(estimated)
	pa.ApproverID = approver.String
	pa.DecisionReason = reason.String
	pa.ExpiresAt = pa.ExpiresAt.UTC()
	pa.ActualAmount = minorPtr(actual)
	if consumedBy.Valid {
		id := consumedBy.Int64
		pa.ConsumedByRequestID = &id
	}
	pa.DecidedAt = timePtr(decidedAt)
	pa.CreatedAt = pa.CreatedAt.UTC()
	pa.UpdatedAt = pa.UpdatedAt.UTC()
	return &pa, nil
}

// Verify interface compliance
var _ port.PreApprovalStore = (*PreApprovalRepository)(nil)
