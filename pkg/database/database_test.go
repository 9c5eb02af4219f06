package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_seed.sql":   {Data: []byte("INSERT INTO t VALUES (1);")},
		"001_schema.sql": {Data: []byte("CREATE TABLE t (id INTEGER);")},
		"README.md":      {Data: []byte("ignored")},
	}

	migs, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "schema", migs[0].Name)
	assert.Equal(t, "seed", migs[1].Name)
	assert.Len(t, migs[0].Checksum, 64)
}

func TestLoadMigrations_Invalid(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"schema.sql": {Data: []byte("")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("")},
		"001_b.sql": {Data: []byte("")},
	})
	assert.Error(t, err)
}

func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, zap.NewNop())

	fsys := fstest.MapFS{
		"001_schema.sql": {Data: []byte("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT);")},
		"002_seed.sql":   {Data: []byte("INSERT INTO t (name) VALUES ('a'); INSERT INTO t (name) VALUES ('b');")},
	}

	n, err := m.RunMigrations(ctx, fsys)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.RunMigrations(ctx, fsys)
	require.NoError(t, err)
	assert.Zero(t, n)

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&rows))
	assert.Equal(t, 2, rows)

	fsys["002_seed.sql"] = &fstest.MapFile{Data: []byte("INSERT INTO t (name) VALUES ('c');")}
	_, err = m.RunMigrations(ctx, fsys)
	assert.ErrorContains(t, err, "modified")
}

func TestRunMigrations_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := NewMigrator(db, zap.NewNop()).RunMigrations(ctx, fstest.MapFS{
		"001_bad.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); CREATE TABLE broken (;")},
	})
	require.Error(t, err)

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Zero(t, applied)
}

func TestIsBusyAndConstraint(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	assert.True(t, IsBusy(busy))
	assert.True(t, IsBusy(fmt.Errorf("commit: %w", busy)))
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, IsBusy(errors.New("busy")))
	assert.False(t, IsBusy(nil))

	db := openTestDB(t)
	_, err := db.Exec("CREATE TABLE u (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO u (id) VALUES (1)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO u (id) VALUES (1)")
	require.Error(t, err)
	assert.True(t, IsConstraint(err))
	assert.False(t, IsBusy(err))
}
