package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/medzillo/medzillo/cmd/medzillo/cli"
	"github.com/medzillo/medzillo/internal/allocation"
	"github.com/medzillo/medzillo/internal/app"
	"github.com/medzillo/medzillo/internal/auth"
	"github.com/medzillo/medzillo/internal/billing"
	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/observability"
	"github.com/medzillo/medzillo/internal/platform/cache"
	"github.com/medzillo/medzillo/jobs"
)

// stockReaderFunc adapts a function to inventory.StockReader.
type stockReaderFunc func(ctx context.Context, clinicID, medicineID int64) (inventory.StockView, error)

func (f stockReaderFunc) GetStock(ctx context.Context, clinicID, medicineID int64) (inventory.StockView, error) {
	return f(ctx, clinicID, medicineID)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	if len(os.Args) > 1 && os.Args[1] != "serve" {
		if err := cli.Run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
			logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisOptions()); err != nil {
		logger.Warn("redis unavailable, stock cache and job queue disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	var ledger *inventory.Ledger
	stockCache := inventory.NewStockCache(redisClient, stockReaderFunc(func(ctx context.Context, clinicID, medicineID int64) (inventory.StockView, error) {
		return ledger.GetStock(ctx, clinicID, medicineID)
	}), cfg.StockCacheTTL)
	publishers := inventory.Publishers{stockCache}

	var inspector *asynq.Inspector
	if redisClient != nil {
		jobClient, err := jobs.NewClient(cfg.RedisOptions().AsynqOpts())
		if err != nil {
			return fmt.Errorf("init job client: %w", err)
		}
		defer jobClient.Close()
		publishers = append(publishers, jobs.NewLowStockPublisher(jobClient))
		inspector = asynq.NewInspector(cfg.RedisOptions().AsynqOpts())
		defer inspector.Close()
	}

	ledger = inventory.NewLedger(store.Inventory, store.Audit, publishers, inventory.Config{
		BlockDeleteWithStock: cfg.StockBlockDeleteWithStock,
		Retry:                cfg.RetryPolicy(),
	}, logger)

	numbers, err := billing.NewSnowflakeNumbers(cfg.BillNodeID)
	if err != nil {
		return fmt.Errorf("init bill numbers: %w", err)
	}
	settlement := billing.NewService(billing.Deps{
		Repo:     store.Bills,
		Ledger:   ledger,
		Patients: store.Patients,
		Numbers:  numbers,
		Audit:    store.Audit,
		Recorder: metrics,
		Logger:   logger,
	}, billing.Config{
		Shortfall:   cfg.ShortfallPolicy(),
		SkipExpired: cfg.SettleSkipExpired,
		Retry:       cfg.RetryPolicy(),
	})

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTokenTTL)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Verifier:          verifier,
		BillingHandler:    billing.NewHandler(logger, settlement, store.Clinics, store.Patients),
		InventoryHandler:  inventory.NewHandler(logger, ledger, stockCache),
		AllocationHandler: allocation.NewHandler(logger, allocation.NewAllocator(stockCache, cfg.SettleSkipExpired)),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
		Health: func(r *http.Request) error {
			return store.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("driver", store.Driver), slog.String("shortfall_policy", string(cfg.ShortfallPolicy())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
