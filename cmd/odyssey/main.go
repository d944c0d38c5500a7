package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/manufacturing"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	root := cli.NewRootCommand(cli.Deps{
		Serve: func(ctx context.Context) error { return serve(ctx, cfg, logger) },
		Migrate: func(context.Context) error {
			return db.Migrate(cfg.PGDSN, logger)
		},
		OpenJobs: func() (*cli.JobsCLI, func() error, error) {
			client, err := jobs.NewClient(cfg.RedisOptions().AsynqOpts())
			if err != nil {
				return nil, nil, err
			}
			inspector := asynq.NewInspector(cfg.RedisOptions().AsynqOpts())
			closeFn := func() error {
				return errors.Join(inspector.Close(), client.Close())
			}
			return cli.NewJobsCLI(client, inspector), closeFn, nil
		},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("odyssey", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if app.ShouldMigrate(cfg) {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			return err
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, completion lock disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	accountingRepo := accounting.NewRepository(pool)
	accountingService := accounting.NewService(accountingRepo, auditLogger)
	periodService := accounting.NewPeriodService(accountingRepo, auditLogger)
	integrationHooks := integration.NewHooks(accountingService, periodService, accountingService)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, idempotencyStore, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		Logger:             logger,
		Metrics:            metrics,
	}, integrationHooks)

	mfgConfig := manufacturing.ServiceConfig{Metrics: metrics, Logger: logger}
	if redisClient != nil {
		mfgConfig.Locker = shared.NewLocker(redisClient, cfg.CompletionLockTTL)
	}
	manufacturingService := manufacturing.NewService(manufacturing.NewRepository(pool), auditLogger, mfgConfig)

	inspector := asynq.NewInspector(cfg.RedisOptions().AsynqOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		AccountingHandler:    accounting.NewHandler(logger, accountingService, periodService),
		InventoryHandler:     inventory.NewHandler(logger, inventoryService),
		ManufacturingHandler: manufacturing.NewHandler(logger, manufacturingService),
		JobHandler:           jobs.NewHandler(inspector, logger),
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
