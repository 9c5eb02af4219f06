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

// UserRepository implements port.RoleDirectory on the users table
type UserRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlite.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, userID string) (*entity.User, error) {
	query := `
		SELECT id, name, role, department_id, manager_id, lark_open_id, is_locked
		FROM users WHERE id = ?
	`
	var (
		u               entity.User
		manager, openID sql.NullString
		locked          int
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, userID).Scan(
		&u.ID, &u.Name, &u.Role, &u.DepartmentID, &manager, &openID, &locked,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.ManagerID = manager.String
	u.LarkOpenID = openID.String
	u.IsLocked = locked != 0
	return &u, nil
}

// Save inserts or replaces a user
func (r *UserRepository) Save(ctx context.Context, u *entity.User) error {
	query := `
		INSERT INTO users (id, name, role, department_id, manager_id, lark_open_id, is_locked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			department_id = excluded.department_id,
			manager_id = excluded.manager_id,
			lark_open_id = excluded.lark_open_id,
			is_locked = excluded.is_locked
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		u.ID, u.Name, u.Role, u.DepartmentID,
		nullString(u.ManagerID), nullString(u.LarkOpenID), boolInt(u.IsLocked),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// HasRole reports whether the user holds role
func (r *UserRepository) HasRole(ctx context.Context, userID, role string) (bool, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u != nil && u.Role == role, nil
}

// ManagerOf returns the user's manager, empty when unknown
func (r *UserRepository) ManagerOf(ctx context.Context, userID string) (string, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil || u == nil {
		return "", err
	}
	return u.ManagerID, nil
}

// UsersWithRole returns the IDs of every holder of role, sorted
func (r *UserRepository) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `SELECT id FROM users WHERE role = ? ORDER BY id`, role)
	if err != nil {
		r.logger.Error("Failed to list users by role", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsLocked reports whether the account is locked
func (r *UserRepository) IsLocked(ctx context.Context, userID string) (bool, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u != nil && u.IsLocked, nil
}

// Verify interface compliance
var _ port.RoleDirectory = (*UserRepository)(nil)
