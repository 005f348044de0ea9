package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/medzillo/medzillo/internal/app"
	"github.com/medzillo/medzillo/internal/inventory"
	jobmetrics "github.com/medzillo/medzillo/internal/jobs"
	"github.com/medzillo/medzillo/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	ledger := inventory.NewLedger(store.Inventory, store.Audit, nil, inventory.Config{Retry: cfg.RetryPolicy()}, logger)
	stockJobs := jobs.NewStockJobs(ledger, logger, jobmetrics.NewMetrics(nil))

	reconcileTask, err := jobs.NewReconcileTask(false)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	expiryTask, err := jobs.NewExpiryScanTask(int(cfg.StockExpiryWindow.Hours() / 24))
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.RedisOptions().AsynqOpts(),
		Logger:    logger,
		Handlers:  stockJobs.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 6 * * *", Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("driver", store.Driver))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
