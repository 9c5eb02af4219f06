// Package container wires the expense approval service together and owns
// the lifecycle of its components.
package container

import (
	"errors"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/database"
)

// Config is everything the container needs to build the service. It is
// usually produced by config.Config.ToContainerConfig.
type Config struct {
	Database     DatabaseConfig
	Lark         LarkConfig
	Approval     ApprovalConfig
	Worker       WorkerConfig
	Notification NotificationConfig
}

// DatabaseConfig is the connection pool config plus migration policy.
type DatabaseConfig struct {
	database.Config
	AutoMigrate bool
}

// LarkConfig holds Lark API settings. Empty credentials select the log channel.
type LarkConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
}

type ApprovalConfig struct {
	// BaseCurrency is the currency tiers and budgets are expressed in
	BaseCurrency      string
	PreApprovalExpiry time.Duration
	// EmergencyRoles may approve any tier with a mandatory reason
	EmergencyRoles []string
}

// WorkerConfig controls the background loops. A zero RedeliverInterval
// disables redelivery.
type WorkerConfig struct {
	EscalationEnabled   bool
	EscalationInterval  time.Duration
	EscalationBatchSize int
	RedeliverInterval   time.Duration
	RedeliverBatchSize  int
}

type NotificationConfig struct {
	RatePerMinute  int
	MaxAttempts    int
	RedeliverAfter time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Config: database.Config{
				Path:            "data/approval.db",
				MaxOpenConns:    4,
				ConnMaxLifetime: 5 * time.Minute,
				BusyTimeout:     5 * time.Second,
			},
			AutoMigrate: true,
		},
		Approval: ApprovalConfig{
			BaseCurrency:      "USD",
			PreApprovalExpiry: 30 * 24 * time.Hour,
			EmergencyRoles:    []string{entity.RoleCEO, entity.RoleSuperApprover, entity.RoleFinance},
		},
		Worker: WorkerConfig{
			EscalationEnabled:   true,
			EscalationInterval:  time.Hour,
			EscalationBatchSize: 500,
			RedeliverInterval:   30 * time.Second,
			RedeliverBatchSize:  100,
		},
		Notification: NotificationConfig{
			RatePerMinute:  20,
			MaxAttempts:    5,
			RedeliverAfter: time.Minute,
		},
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Approval.BaseCurrency == "" {
		errs = append(errs, errors.New("approval.base_currency is required"))
	}
	if c.Worker.EscalationEnabled && c.Worker.EscalationInterval <= 0 {
		errs = append(errs, errors.New("worker.escalation_interval must be positive"))
	}
	if c.Worker.RedeliverInterval < 0 {
		errs = append(errs, errors.New("worker.redeliver_interval must not be negative"))
	}
	return errors.Join(errs...)
}
