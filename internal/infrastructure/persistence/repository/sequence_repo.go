package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
)

// SequenceRepository implements port.SequenceCounter with one row per scope
type SequenceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *sqlite.DB, logger *zap.Logger) port.SequenceCounter {
	return &SequenceRepository{db: db, logger: logger}
}

// Next increments and returns the counter of scope, starting at 1
func (r *SequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	query := `
		INSERT INTO sequences (scope, value) VALUES (?, 1)
		ON CONFLICT(scope) DO UPDATE SET value = value + 1
		RETURNING value
	`
	var value int64
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, scope).Scan(&value); err != nil {
		r.logger.Error("Failed to advance sequence", zap.String("scope", scope), zap.Error(err))
		return 0, fmt.Errorf("failed to advance sequence %s: %w", scope, err)
	}
	return value, nil
}

// Verify interface compliance
var _ port.SequenceCounter = (*SequenceRepository)(nil)
