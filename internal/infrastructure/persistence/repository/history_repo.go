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

// HistoryRepository implements port.AuditSink on the append-only
// approval_history table. Rows are never updated or deleted.
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) port.AuditSink {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

const historyColumns = `
	id, request_id, tier_level, action, actor_id, previous_status, new_status,
	comment, is_emergency, budget_decision, created_at`

// Append creates a new history record
func (r *HistoryRepository) Append(ctx context.Context, history *entity.ApprovalHistory) error {
	query := `
		INSERT INTO approval_history (
			request_id, tier_level, action, actor_id, previous_status, new_status,
			comment, is_emergency, budget_decision, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		history.RequestID,
		history.TierLevel,
		history.Action,
		history.ActorID,
		history.PreviousStatus,
		history.NewStatus,
		nullString(history.Comment),
		boolInt(history.IsEmergency),
		nullString(history.BudgetDecision),
		history.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append history record",
			zap.Int64("request_id", history.RequestID),
			zap.String("action", history.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history.ID = id
	return nil
}

// ListByRequest retrieves all history records of a request in insertion order
func (r *HistoryRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM approval_history WHERE request_id = ? ORDER BY id ASC`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to get history by request ID", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.ApprovalHistory
	for rows.Next() {
		record, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Latest returns the most recent history record of a request, or nil
func (r *HistoryRepository) Latest(ctx context.Context, requestID int64) (*entity.ApprovalHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM approval_history WHERE request_id = ? ORDER BY id DESC LIMIT 1`

	record, err := scanHistory(r.db.Executor(ctx).QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest history: %w", err)
	}
	return record, nil
}

func scanHistory(s scanner) (*entity.ApprovalHistory, error) {
	var (
		record          entity.ApprovalHistory
		comment, budget sql.NullString
		emergency       int
	)
	err := s.Scan(
		&record.ID,
		&record.RequestID,
		&record.TierLevel,
		&record.Action,
		&record.ActorID,
		&record.PreviousStatus,
		&record.NewStatus,
		&comment,
		&emergency,
		&budget,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Comment = comment.String
	record.BudgetDecision = budget.String
	record.IsEmergency = emergency != 0
	record.CreatedAt = record.CreatedAt.UTC()
	return &record, nil
}

// Verify interface compliance
var _ port.AuditSink = (*HistoryRepository)(nil)
