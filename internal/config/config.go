// Package config loads service configuration from YAML, .env and the
// environment using viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/database"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// EnvPrefix namespaces automatic environment overrides, e.g.
// APPROVAL_SCHEDULER_INTERVAL=15m sets scheduler.interval.
const EnvPrefix = "APPROVAL"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Notification NotificationConfig `mapstructure:"notification"`

	v *viper.Viper
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout bounds the drain of in-flight requests
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Mode is the gin mode: debug, release or test
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Options converts the settings to the pool configuration
func (d DatabaseConfig) Options() database.Config {
	return database.Config{
		Path:            d.Path,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		BusyTimeout:     d.BusyTimeout,
	}
}

// LarkConfig holds Lark API configuration. Notifications fall back to the
// log channel when credentials are empty.
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

type ApprovalConfig struct {
	BaseCurrency      string        `mapstructure:"base_currency"`
	PreApprovalExpiry time.Duration `mapstructure:"pre_approval_expiry"`
	EmergencyRoles    []string      `mapstructure:"emergency_roles"`
}

// SchedulerConfig drives the escalation sweep
type SchedulerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type NotificationConfig struct {
	RatePerMinute      int           `mapstructure:"rate_per_minute"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RedeliverAfter     time.Duration `mapstructure:"redeliver_after"`
	RedeliverInterval  time.Duration `mapstructure:"redeliver_interval"`
	RedeliverBatchSize int           `mapstructure:"redeliver_batch_size"`
}

var defaults = map[string]interface{}{
	"server.host":             "0.0.0.0",
	"server.port":             8080,
	"server.read_timeout":     30 * time.Second,
	"server.write_timeout":    30 * time.Second,
	"server.shutdown_timeout": 10 * time.Second,
	"server.mode":             "release",

	"database.path":              "data/approval.db",
	"database.max_open_conns":    4,
	"database.max_idle_conns":    4,
	"database.conn_max_lifetime": 5 * time.Minute,
	"database.busy_timeout":      5 * time.Second,
	"database.auto_migrate":      true,

	"logger.level":       "info",
	"logger.output_path": "stdout",
	"logger.format":      "json",

	"approval.base_currency":       "USD",
	"approval.pre_approval_expiry": 30 * 24 * time.Hour,
	"approval.emergency_roles":     []string{entity.RoleCEO, entity.RoleSuperApprover, entity.RoleFinance},

	"scheduler.enabled":    true,
	"scheduler.interval":   time.Hour,
	"scheduler.batch_size": 500,

	"notification.rate_per_minute":      20,
	"notification.max_attempts":         5,
	"notification.redeliver_after":      time.Minute,
	"notification.redeliver_interval":   30 * time.Second,
	"notification.redeliver_batch_size": 100,
}

// Unprefixed variables kept for deployments that predate EnvPrefix.
var envAliases = map[string]string{
	"lark.app_id":     "LARK_APP_ID",
	"lark.app_secret": "LARK_APP_SECRET",
	"database.path":   "DATABASE_PATH",
	"logger.level":    "LOG_LEVEL",
	"server.port":     "PORT",
}

// Load reads configuration from an optional YAML file, a .env file in the
// working directory and the environment, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.v = v
	cfg.Approval.BaseCurrency = strings.ToUpper(cfg.Approval.BaseCurrency)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Database.Path != "", "database.path is required")
	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be between 1 and 65535")
	if err := utils.ValidateCurrencyCode(c.Approval.BaseCurrency); err != nil {
		errs = append(errs, fmt.Errorf("approval.base_currency: %w", err))
	}
	check((c.Lark.AppID == "") == (c.Lark.AppSecret == ""), "lark.app_id and lark.app_secret must be set together")
	check(!c.Scheduler.Enabled || c.Scheduler.Interval > 0, "scheduler.interval must be positive")
	check(c.Notification.RatePerMinute > 0, "notification.rate_per_minute must be positive")
	check(c.Notification.MaxAttempts > 0, "notification.max_attempts must be positive")

	return errors.Join(errs...)
}
