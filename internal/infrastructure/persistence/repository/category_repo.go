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

// CategoryRepository implements port.CategoryRegistry
type CategoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *sqlite.DB, logger *zap.Logger) *CategoryRepository {
	return &CategoryRepository{db: db, logger: logger}
}

const categoryColumns = `id, name, parent_id, requires_receipt, requires_pre_approval, max_amount_minor, is_active`

// GetCategory retrieves a category by ID
func (r *CategoryRepository) GetCategory(ctx context.Context, id string) (*entity.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE id = ?`
	cat, err := scanCategory(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get category", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return cat, nil
}

// List returns all categories ordered by name
func (r *CategoryRepository) List(ctx context.Context) ([]*entity.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories ORDER BY name`
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []*entity.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, cat)
	}
	return out, rows.Err()
}

// Save inserts or replaces a category
func (r *CategoryRepository) Save(ctx context.Context, cat *entity.Category) error {
	query := `
		INSERT INTO categories (` + categoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			requires_receipt = excluded.requires_receipt,
			requires_pre_approval = excluded.requires_pre_approval,
			max_amount_minor = excluded.max_amount_minor,
			is_active = excluded.is_active
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		cat.ID,
		cat.Name,
		nullString(cat.ParentID),
		boolInt(cat.RequiresReceipt),
		boolInt(cat.RequiresPreApproval),
		nullMinor(cat.MaxAmount),
		boolInt(cat.IsActive),
	)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func scanCategory(s scanner) (*entity.Category, error) {
	var (
		cat                          entity.Category
		parent                       sql.NullString
		receipt, preApproval, active int
		max                          sql.NullInt64
	)
	if err := s.Scan(&cat.ID, &cat.Name, &parent, &receipt, &preApproval, &max, &active); err != nil {
		return nil, err
	}
	cat.ParentID = parent.String
	cat.RequiresReceipt = receipt != 0
	cat.RequiresPreApproval = preApproval != 0
	cat.MaxAmount = minorPtr(max)
	cat.IsActive = active != 0
	return &cat, nil
}

// Verify interface compliance
var _ port.CategoryRegistry = (*CategoryRepository)(nil)
