package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/migrations"
	"github.com/garyjia/expense-approval/pkg/database"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync()

	db, err := database.New(rt.cfg.Database.Options(), rt.logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	applied, err := database.NewMigrator(db, rt.logger).RunMigrations(cmd.Context(), migrations.FS)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	rt.logger.Info("Migrations applied", zap.String("path", rt.cfg.Database.Path), zap.Int("applied", applied))
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, rt.cfg.Database.Path)
	return nil
}
