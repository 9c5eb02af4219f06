package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/expense-approval/internal/container"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one escalation sweep and exit",
	Long:  "Escalates overdue pending requests, flags stalled ones at the highest tier and expires stale pre-approvals, then prints the sweep report.",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync()

	cc := rt.cfg.ToContainerConfig()
	cc.Worker.EscalationEnabled = false
	cc.Worker.RedeliverInterval = 0

	c, err := container.NewContainer(cc, rt.logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	report, err := c.Services().Sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
