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

	"github.com/shopledger/shopledger/internal/app"
	"github.com/shopledger/shopledger/internal/catalog"
	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/observability"
	"github.com/shopledger/shopledger/internal/platform/cache"
	"github.com/shopledger/shopledger/internal/report"
	"github.com/shopledger/shopledger/jobs"
)

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

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Warn("store close", slog.Any("error", err))
		}
	}()

	redisOpts := cache.Options{Addr: cfg.RedisAddr}
	redisClient, err := cache.Open(ctx, redisOpts)
	if err != nil {
		logger.Warn("redis unavailable, reports will be built uncached", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledgerMetrics := observability.NewLedgerMetrics(metrics.Registerer())

	reportCache := report.NewCache(redisClient, cfg.ReportCacheTTL)
	reportService := report.NewService(backend.Reports, reportCache, logger, report.Config{
		Location:    cfg.ReportLocation(),
		TopProducts: cfg.ReportTopProducts,
	})

	jobClient := jobs.NewClient(cache.QueueOpt(redisOpts))
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	ledgerService := ledger.NewService(backend.Ledger, ledger.Deps{
		Audit:       backend.Audit,
		Idempotency: backend.Idempotency,
		Cache:       reportCache,
		Integration: jobClient,
		Metrics:     ledgerMetrics,
		Logger:      logger,
	}, ledger.ServiceConfig{
		TxAttempts:      cfg.LedgerTxAttempts,
		InvoiceAttempts: cfg.LedgerInvoiceAttempts,
	})
	catalogService := catalog.NewService(backend.Catalog, backend.Audit, reportCache, logger)
	expenseService := expense.NewService(backend.Expenses, backend.Audit, reportCache, logger)

	inspector := asynq.NewInspector(cache.QueueOpt(redisOpts))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Store:          backend.Store,
		LedgerHandler:  ledger.NewHandler(logger, ledgerService, cfg.ReportLocation()),
		CatalogHandler: catalog.NewHandler(logger, catalogService),
		ExpenseHandler: expense.NewHandler(logger, expenseService, cfg.ReportLocation()),
		ReportHandler:  report.NewHandler(logger, reportService),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", backend.Driver))
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
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
