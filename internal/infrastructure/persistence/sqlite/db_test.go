package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/pkg/database"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	raw, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "tx.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	_, err = raw.Exec(`CREATE TABLE counters (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`)
	require.NoError(t, err)
	return NewDB(raw.DB, zap.NewNop())
}

func count(t *testing.T, db *DB) int {
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM counters`).Scan(&n))
	return n
}

func TestWithTransaction_NestedCallsJoin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	assert.False(t, InTransaction(ctx))

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		assert.True(t, InTransaction(txCtx))
		if _, err := db.Executor(txCtx).ExecContext(txCtx, `INSERT INTO counters VALUES ('a', 1)`); err != nil {
			return err
		}
		return db.WithTransaction(txCtx, func(inner context.Context) error {
			_, err := db.Executor(inner).ExecContext(inner, `INSERT INTO counters VALUES ('b', 1)`)
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, db))
}

func TestWithTransaction_InnerFailureRollsBackAll(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := db.Executor(txCtx).ExecContext(txCtx, `INSERT INTO counters VALUES ('a', 1)`); err != nil {
			return err
		}
		return db.WithTransaction(txCtx, func(context.Context) error { return boom })
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, count(t, db))
}

func TestWithTransaction_KeepsTypedErrors(t *testing.T) {
	db := newTestDB(t)

	err := db.WithTransaction(context.Background(), func(context.Context) error {
		return apperr.StaleState("changed underneath")
	})
	assert.ErrorIs(t, err, apperr.ErrStaleState)
}

func TestClassify(t *testing.T) {
	busy := classify(sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.ErrorIs(t, busy, apperr.ErrCollaboratorFailure)

	plain := errors.New("syntax error")
	assert.Equal(t, plain, classify(plain))
}
