package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/budget"
	"github.com/garyjia/expense-approval/internal/application/delegation"
	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/escalation"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/preapproval"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/tier"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/export"
	infraLark "github.com/garyjia/expense-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/expense-approval/internal/infrastructure/external/logchannel"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/internal/infrastructure/worker"
	"github.com/garyjia/expense-approval/migrations"
	"github.com/garyjia/expense-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Raw            *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Requests     port.RequestRepository
	History      port.AuditSink
	Tiers        port.TierRepository
	PreApprovals port.PreApprovalStore
	Delegations  port.DelegationRepository
	Budgets      *repository.BudgetRepository
	Categories   *repository.CategoryRepository
	Users        *repository.UserRepository
	Currency     *repository.CurrencyRepository
	Sequences    port.SequenceCounter
	Outbox       port.NotificationOutbox
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Tiers         *tier.Resolver
	Budget        *budget.Guard
	Delegations   *delegation.Resolver
	PreApprovals  *preapproval.Ledger
	Engine        workflow.ApprovalEngine
	Notifications service.NotificationService
	Sweeper       *escalation.Sweeper
	Exporter      *export.HistoryExporter
}

// ProvideDatabase opens the database and, when configured, applies the
// embedded migrations.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	raw, err := database.New(cfg.Config, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(raw, logger).RunMigrations(ctx, migrations.FS); err != nil {
			raw.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Raw:            raw,
		TransactionMgr: sqlite.NewDB(raw.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *sqlite.DB, baseCurrency string, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Requests:     repository.NewRequestRepository(db, logger),
		History:      repository.NewHistoryRepository(db, logger),
		Tiers:        repository.NewTierRepository(db, logger),
		PreApprovals: repository.NewPreApprovalRepository(db, logger),
		Delegations:  repository.NewDelegationRepository(db, logger),
		Budgets:      repository.NewBudgetRepository(db, logger).(*repository.BudgetRepository),
		Categories:   repository.NewCategoryRepository(db, logger),
		Users:        repository.NewUserRepository(db, logger),
		Currency:     repository.NewCurrencyRepository(db, baseCurrency, logger),
		Sequences:    repository.NewSequenceRepository(db, logger),
		Outbox:       repository.NewOutboxRepository(db, logger),
	}, nil
}

// ProvideNotificationChannel returns the Lark messenger when credentials are
// configured and the log channel otherwise.
func ProvideNotificationChannel(cfg *LarkConfig, logger *zap.Logger) port.NotificationDispatcher {
	larkCfg := infraLark.Config{AppID: cfg.AppID, AppSecret: cfg.AppSecret, BaseURL: cfg.BaseURL}
	if !larkCfg.Enabled() {
		logger.Warn("Lark credentials not configured, notifications go to the log")
		return logchannel.New(logger)
	}
	return infraLark.NewMessenger(infraLark.NewClient(larkCfg), logger.Named("lark"))
}

// ProvideServices wires the approval core on top of the repositories.
func ProvideServices(
	cfg *Config,
	db *sqlite.DB,
	repos *RepositoryBundle,
	channel port.NotificationDispatcher,
	d dispatcher.Dispatcher,
	logger *zap.Logger,
) (*ServiceBundle, error) {
	if repos == nil || db == nil || d == nil {
		return nil, fmt.Errorf("repositories, database and dispatcher are required")
	}
	appLogger := NewLoggerAdapter(logger)

	tiers := tier.NewResolver(repos.Tiers, repos.Users, db, appLogger)
	guard := budget.NewGuard(repos.Budgets, appLogger)
	delegations := delegation.NewResolver(repos.Delegations, repos.Users, db, appLogger,
		delegation.WithDispatcher(d))
	preApprovals := preapproval.NewLedger(repos.PreApprovals, repos.Categories, repos.Users, repos.Sequences,
		tiers, delegations, appLogger,
		preapproval.WithDispatcher(d),
		preapproval.WithExpiry(cfg.Approval.PreApprovalExpiry),
		preapproval.WithEmergencyRoles(cfg.Approval.EmergencyRoles),
	)

	engine := workflow.NewEngine(workflow.Dependencies{
		Requests:     repos.Requests,
		Audit:        repos.History,
		Outbox:       repos.Outbox,
		Categories:   repos.Categories,
		Directory:    repos.Users,
		Currency:     repos.Currency,
		Sequences:    repos.Sequences,
		TxManager:    db,
		Tiers:        tiers,
		Budget:       guard,
		PreApprovals: preApprovals,
		Delegations:  delegations,
		Logger:       appLogger,
	},
		workflow.WithDispatcher(d),
		workflow.WithEmergencyRoles(cfg.Approval.EmergencyRoles),
	)

	notifications := service.NewNotificationService(repos.Outbox, repos.Users, channel, appLogger,
		service.NotificationOptions{
			RatePerMinute:  cfg.Notification.RatePerMinute,
			MaxAttempts:    cfg.Notification.MaxAttempts,
			RedeliverAfter: cfg.Notification.RedeliverAfter,
		})
	notifications.Register(d)

	return &ServiceBundle{
		Tiers:         tiers,
		Budget:        guard,
		Delegations:   delegations,
		PreApprovals:  preApprovals,
		Engine:        engine,
		Notifications: notifications,
		Sweeper: escalation.NewSweeper(engine, repos.Requests, preApprovals,
			cfg.Worker.EscalationBatchSize, appLogger),
		Exporter: export.NewHistoryExporter(logger),
	}, nil
}

// ProvideWorkers registers the escalation and redelivery workers.
func ProvideWorkers(cfg *WorkerConfig, services *ServiceBundle, logger *zap.Logger) *worker.Supervisor {
	supervisor := worker.NewSupervisor(logger.Named("workers"))
	if cfg.EscalationEnabled {
		supervisor.Add(worker.NewEscalationWorker(services.Sweeper, cfg.EscalationInterval, logger))
	}
	if cfg.RedeliverInterval > 0 {
		supervisor.Add(worker.NewRedeliveryWorker(services.Notifications, cfg.RedeliverInterval,
			cfg.RedeliverBatchSize, logger))
	}
	return supervisor
}
