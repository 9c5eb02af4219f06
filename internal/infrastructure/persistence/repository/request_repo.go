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

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlite.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
	id, kind, request_number, requester_id, department_id, project_id, category_id,
	description, amount, currency, base_amount_minor, receipts, status, current_tier,
	approver_role_required, assigned_approver_id, pre_approval_id, submitted_at,
	version, created_at, updated_at`

// Create inserts a new request
func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovableRequest) error {
	receipts, err := encodeList(req.Receipts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approvable_requests (
			kind, request_number, requester_id, department_id, project_id, category_id,
			description, amount, currency, base_amount_minor, receipts, status, current_tier,
			approver_role_required, assigned_approver_id, pre_approval_id, submitted_at,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		string(req.Kind),
		req.RequestNumber,
		req.RequesterID,
		req.DepartmentID,
		nullString(req.ProjectID),
		req.CategoryID,
		req.Description,
		req.Amount.String(),
		req.Currency,
		entity.MinorUnits(req.BaseCurrencyAmount),
		receipts,
		req.Status,
		req.CurrentTier,
		nullString(req.ApproverRoleRequired),
		nullString(req.AssignedApproverID),
		nullString(req.PreApprovalID),
		nullTime(req.SubmittedAt),
		req.Version,
		req.CreatedAt.UTC(),
		req.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("number", req.RequestNumber), zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	req.ID = id
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovableRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approvable_requests WHERE id = ?`

	req, err := scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// UpdateIfVersion writes the mutable fields of req if the stored version is
// still expectedVersion, and bumps the version.
func (r *RequestRepository) UpdateIfVersion(ctx context.Context, req *entity.ApprovableRequest, expectedVersion int64) error {
	receipts, err := encodeList(req.Receipts)
	if err != nil {
		return err
	}

	query := `
		UPDATE approvable_requests SET
			amount = ?, currency = ?, description = ?, base_amount_minor = ?, receipts = ?,
			status = ?, current_tier = ?, approver_role_required = ?, assigned_approver_id = ?,
			pre_approval_id = ?, submitted_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		req.Amount.String(),
		req.Currency,
		req.Description,
		entity.MinorUnits(req.BaseCurrencyAmount),
		receipts,
		req.Status,
		req.CurrentTier,
		nullString(req.ApproverRoleRequired),
		nullString(req.AssignedApproverID),
		nullString(req.PreApprovalID),
		nullTime(req.SubmittedAt),
		req.UpdatedAt.UTC(),
		req.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update request", zap.Int64("id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to update request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.StaleState("request %s changed since it was read (expected version %d)", req.RequestNumber, expectedVersion)
	}

	req.Version = expectedVersion + 1
	return nil
}

// ListByStatus returns requests in status after afterID, oldest first
func (r *RequestRepository) ListByStatus(ctx context.Context, status string, afterID int64, limit int) ([]*entity.ApprovableRequest, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + requestColumns + ` FROM approvable_requests WHERE status = ? AND id > ? ORDER BY id ASC LIMIT ?`
	return r.list(ctx, query, status, afterID, limit)
}

// ListPendingForRole returns pending requests waiting on role, oldest first
func (r *RequestRepository) ListPendingForRole(ctx context.Context, role string, limit, offset int) ([]*entity.ApprovableRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approvable_requests
		WHERE status = ? AND approver_role_required = ?
		ORDER BY submitted_at ASC, id ASC LIMIT ? OFFSET ?`
	return r.list(ctx, query, entity.StatusPendingApproval, role, limit, offset)
}

func (r *RequestRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovableRequest, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovableRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(s scanner) (*entity.ApprovableRequest, error) {
	var (
		req                               entity.ApprovableRequest
		kind, amount, receipts            string
		baseMinor                         int64
		project, role, assigned, preAppID sql.NullString
		submittedAt                       sql.NullTime
	)
	err := s.Scan(
		&req.ID,
		&kind,
		&req.RequestNumber,
		&req.RequesterID,
		&req.DepartmentID,
		&project,
		&req.CategoryID,
		&req.Description,
		&amount,
		&req.Currency,
		&baseMinor,
		&receipts,
		&req.Status,
		&req.CurrentTier,
		&role,
		&assigned,
		&preAppID,
		&submittedAt,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Kind = entity.RequestKind(kind)
	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	req.BaseCurrencyAmount = entity.FromMinorUnits(baseMinor)
	if req.Receipts, err = decodeList(receipts); err != nil {
		return nil, err
	}
	req.ProjectID = project.String
	req.ApproverRoleRequired = role.String
	req.AssignedApproverID = assigned.String
	req.PreApprovalID = preAppID.String
	req.SubmittedAt = timePtr(submittedAt)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
