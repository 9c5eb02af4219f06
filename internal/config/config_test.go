package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Approval.BaseCurrency)
	assert.Equal(t, 30*24*time.Hour, cfg.Approval.PreApprovalExpiry)
	assert.Equal(t, []string{"CEO", "SUPER_APPROVER", "FINANCE"}, cfg.Approval.EmergencyRoles)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 20, cfg.Notification.RatePerMinute)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
approval:
  base_currency: eur
  emergency_roles: [CEO]
scheduler:
  interval: 15m
`)
	t.Setenv("DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "EUR", cfg.Approval.BaseCurrency)
	assert.Equal(t, []string{"CEO"}, cfg.Approval.EmergencyRoles)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad currency", "approval:\n  base_currency: EURO\n"},
		{"half lark credentials", "lark:\n  app_id: cli_1\n"},
		{"zero rate", "notification:\n  rate_per_minute: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_PrefixedEnvOverrides(t *testing.T) {
	t.Setenv("APPROVAL_SCHEDULER_INTERVAL", "20m")
	t.Setenv("APPROVAL_DATABASE_PATH", "/tmp/prefixed.db")
	t.Setenv("DATABASE_PATH", "/tmp/alias.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "/tmp/prefixed.db", cfg.Database.Path, "prefixed name wins over the alias")
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Database.Path = ""
	cfg.Server.Port = 0
	cfg.Notification.MaxAttempts = 0

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.path", "server.port", "notification.max_attempts"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestToContainerConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, cfg.Database.Path, cc.Database.Path)
	assert.Equal(t, cfg.Scheduler.Interval, cc.Worker.EscalationInterval)
	assert.Equal(t, cfg.Notification.RatePerMinute, cc.Notification.RatePerMinute)
	assert.Equal(t, "USD", cc.Approval.BaseCurrency)
	assert.Equal(t, cfg.Database.BusyTimeout, cc.Database.BusyTimeout)
	assert.Equal(t, cfg.Notification.RedeliverInterval, cc.Worker.RedeliverInterval)
	assert.NoError(t, cc.Validate())
}
