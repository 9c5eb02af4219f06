package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/expense-approval/internal/config"
	"github.com/garyjia/expense-approval/internal/container"
	httpapi "github.com/garyjia/expense-approval/internal/interfaces/http"
	"github.com/garyjia/expense-approval/pkg/utils"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the approval HTTP API and background workers",
	Long:  "Runs the REST API together with the escalation and notification redelivery workers.\nThe log level follows edits to the config file without a restart.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	logger := rt.logger
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting expense approval service",
		zap.String("version", "1.0.0"),
		zap.Int("port", rt.cfg.Server.Port))

	c, err := container.NewContainer(rt.cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	rt.cfg.Watch(func(next *config.Config) {
		level := utils.ParseLevel(next.Logger.Level)
		if level != rt.level.Level() {
			rt.level.SetLevel(level)
			logger.Info("Log level changed", zap.String("level", level.String()))
		}
	}, func(err error) {
		logger.Warn("Ignoring invalid configuration change", zap.Error(err))
	})

	svc := c.Services()
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            rt.cfg.Server.Host,
		Port:            rt.cfg.Server.Port,
		Mode:            rt.cfg.Server.Mode,
		ReadTimeout:     rt.cfg.Server.ReadTimeout,
		WriteTimeout:    rt.cfg.Server.WriteTimeout,
		ShutdownTimeout: rt.cfg.Server.ShutdownTimeout,
	}, httpapi.Services{
		Engine:       svc.Engine,
		Tiers:        svc.Tiers,
		PreApprovals: svc.PreApprovals,
		Delegations:  svc.Delegations,
		Exporter:     svc.Exporter,
		Health: func(ctx context.Context) (bool, interface{}) {
			h := c.Health(ctx)
			return h.Overall, h
		},
	}, container.NewLoggerAdapter(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return nil
	})

	return g.Wait()
}
