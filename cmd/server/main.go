package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/config"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/events"
	"github.com/garyjia/portal-workflow/internal/form"
	"github.com/garyjia/portal-workflow/internal/identity"
	httpserver "github.com/garyjia/portal-workflow/internal/interfaces/http"
	"github.com/garyjia/portal-workflow/internal/repository"
	"github.com/garyjia/portal-workflow/internal/rules"
	"github.com/garyjia/portal-workflow/internal/worker"
	"github.com/garyjia/portal-workflow/internal/workflow"
	"github.com/garyjia/portal-workflow/pkg/database"
	"github.com/garyjia/portal-workflow/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	_ = gotenv.Load()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting portal workflow service")

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	schemas, err := form.LoadSchemas(cfg.Forms.SchemaDir)
	if err != nil {
		return fmt.Errorf("failed to load form schemas: %w", err)
	}
	logger.Info("Form schemas loaded", zap.Int("count", len(schemas)))

	directory, err := identity.LoadDirectory(cfg.Identity.RolesFile)
	if err != nil {
		return fmt.Errorf("failed to load role directory: %w", err)
	}

	requestRepo := repository.NewRequestRepository(db.DB, logger)
	stepRepo := repository.NewStepRepository(db.DB, logger)
	approvalRepo := repository.NewApprovalRepository(db.DB, logger)
	txManager := repository.NewTxManager(db.DB, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := workflow.NewRegistry(ctx, stepRepo, logger)
	if err != nil {
		return fmt.Errorf("failed to load workflow templates: %w", err)
	}

	resolver := workflow.NewResolver(directory, rules.NewExprEvaluator(), logger)

	bus := events.NewIntentBus(cfg.Workflow.IntentBufferSize, logger)
	defer bus.Stop()
	bus.SubscribeAll(func(ctx context.Context, intent entity.NotificationIntent) {
		logger.Info("Notification intent",
			zap.String("kind", string(intent.Kind)),
			zap.Int64("request_id", intent.RequestID),
			zap.String("status", string(intent.Status)))
	})

	engine := workflow.NewEngine(requestRepo, approvalRepo, registry, resolver,
		schemas, txManager, bus, logger)
	reconciler := workflow.NewReconciler(requestRepo, approvalRepo, registry,
		resolver, bus, logger)

	workerManager := worker.NewManager(logger)
	workerManager.Register(worker.NewReconcileWorker(reconciler,
		cfg.Workflow.ReconcileInterval, cfg.Workflow.ReconcileBatchLimit, logger))
	if err := workerManager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer workerManager.StopAll()

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, reconciler, logger)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
