package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/escalation"
	"github.com/garyjia/expense-approval/pkg/database"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "approval.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "database:\n  path: " + dbPath + "\nlogger:\n  level: error\n  output_path: stderr\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	cfgPath, dbPath := writeTestConfig(t)

	_, err := execute(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)

	db, err := database.New(database.Config{Path: dbPath}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var tiers int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM approval_tiers WHERE is_active = 1`).Scan(&tiers))
	assert.Equal(t, 4, tiers)
}

func TestSweepCommand(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "sweep", "--config", cfgPath)
	require.NoError(t, err)

	var report escalation.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Zero(t, report.Scanned)
	assert.Zero(t, report.Escalated)
}

func TestMissingConfigFails(t *testing.T) {
	_, err := execute(t, "migrate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
