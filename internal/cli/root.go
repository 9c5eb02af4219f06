// Package cli wires the command-line entry points of the approval service.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/config"
	"github.com/garyjia/expense-approval/pkg/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "expense-approval",
	Short:         "Expense and voucher approval routing service",
	Long:          "Routes expenses and cash-advance vouchers through amount-based approval tiers with budget checks, delegation, pre-approvals and escalation.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to config YAML (environment only when empty)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime is the configuration and logger shared by every subcommand
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, level, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    rootCmd.Name(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, level: level}, nil
}
