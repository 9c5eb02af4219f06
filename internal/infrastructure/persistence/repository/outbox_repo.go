package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// OutboxRepository implements port.NotificationOutbox
type OutboxRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new notification outbox repository
func NewOutboxRepository(db *sqlite.DB, logger *zap.Logger) port.NotificationOutbox {
	return &OutboxRepository{db: db, logger: logger}
}

const outboxColumns = `
	id, event_id, event_type, request_id, recipients, payload, status,
	attempts, last_error, created_at, delivered_at`

// Enqueue stores a message and sets its ID
func (r *OutboxRepository) Enqueue(ctx context.Context, msg *entity.OutboxMessage) error {
	recipients, err := encodeList(msg.Recipients)
	if err != nil {
		return err
	}
	if msg.Status == "" {
		msg.Status = entity.NotificationStatusPending
	}

	query := `
		INSERT INTO notification_outbox (
			event_id, event_type, request_id, recipients, payload, status, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		msg.EventID,
		msg.EventType,
		msg.RequestID,
		recipients,
		msg.Payload,
		msg.Status,
		msg.Attempts,
		msg.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue notification", zap.String("event_type", msg.EventType), zap.Error(err))
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	msg.ID = id
	return nil
}

// MarkSent records a successful delivery
func (r *OutboxRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE notification_outbox
		SET status = ?, attempts = attempts + 1, delivered_at = ?, last_error = NULL
		WHERE id = ?
	`
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, entity.NotificationStatusSent, at.UTC(), id); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. A final failure stops redelivery and a
// non-empty remaining narrows the recipients left to notify.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, remaining []string, errMsg string, final bool) error {
	set := `attempts = attempts + 1, last_error = ?`
	args := []interface{}{errMsg}
	if final {
		set += `, status = ?`
		args = append(args, entity.NotificationStatusFailed)
	}
	if len(remaining) > 0 {
		recipients, err := encodeList(remaining)
		if err != nil {
			return err
		}
		set += `, recipients = ?`
		args = append(args, recipients)
	}
	args = append(args, id)
	query := `UPDATE notification_outbox SET ` + set + ` WHERE id = ?`
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// ListPending returns PENDING messages created before createdBefore, oldest first
func (r *OutboxRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM notification_outbox WHERE status = ? ORDER BY id ASC`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, entity.NotificationStatusPending)
	if err != nil {
		r.logger.Error("Failed to list pending notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	// created_at is compared in Go; the driver's text encoding of times does
	// not order reliably across offsets.
	var out []*entity.OutboxMessage
	for rows.Next() {
		msg, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if !msg.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

// HasEventSince reports whether an event of eventType for the request was
// recorded at or after since
func (r *OutboxRepository) HasEventSince(ctx context.Context, requestID int64, eventType string, since time.Time) (bool, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx,
		`SELECT created_at FROM notification_outbox WHERE request_id = ? AND event_type = ?`,
		requestID, eventType,
	)
	if err != nil {
		return false, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var createdAt time.Time
		if err := rows.Scan(&createdAt); err != nil {
			return false, fmt.Errorf("failed to scan notification: %w", err)
		}
		if !createdAt.Before(since) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func scanOutbox(s scanner) (*entity.OutboxMessage, error) {
	var (
		msg         entity.OutboxMessage
		recipients  string
		lastError   sql.NullString
		deliveredAt sql.NullTime
	)
	err := s.Scan(
		&msg.ID,
		&msg.EventID,
		&msg.EventType,
		&msg.RequestID,
		&recipients,
		&msg.Payload,
		&msg.Status,
		&msg.Attempts,
		&lastError,
		&msg.CreatedAt,
		&deliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if msg.Recipients, err = decodeList(recipients); err != nil {
		return nil, err
	}
	msg.LastError = lastError.String
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.DeliveredAt = timePtr(deliveredAt)
	return &msg, nil
}

// Verify interface compliance
var _ port.NotificationOutbox = (*OutboxRepository)(nil)
