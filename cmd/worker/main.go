package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/shopledger/shopledger/internal/app"
	"github.com/shopledger/shopledger/internal/catalog"
	jobmetrics "github.com/shopledger/shopledger/internal/jobs"
	"github.com/shopledger/shopledger/internal/platform/cache"
	"github.com/shopledger/shopledger/internal/report"
	"github.com/shopledger/shopledger/jobs"
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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	reportCache := report.NewCache(redisClient, cfg.ReportCacheTTL)
	reportService := report.NewService(backend.Reports, reportCache, logger, report.Config{
		Location:    cfg.ReportLocation(),
		TopProducts: cfg.ReportTopProducts,
	})
	catalogService := catalog.NewService(backend.Catalog, backend.Audit, reportCache, logger)

	alertJob := jobs.NewLowStockAlertJob(logger, metrics)
	scanJob := jobs.NewLowStockScanJob(catalogService, logger, metrics)
	warmupJob := jobs.NewReportWarmupJob(catalogService, reportService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(backend.Idempotency, logger, metrics)

	scanTask, err := jobs.NewLowStockScanTask()
	if err != nil {
		logger.Error("build low stock scan task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewReportWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.DefaultIdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cache.QueueOpt(redisOpts),
		Logger:    logger,
		Location:  cfg.ReportLocation(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockAlert, Handler: alertJob.Handle},
			{Type: jobs.TaskLowStockScan, Handler: scanJob.Handle},
			{Type: jobs.TaskReportWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LowStockScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ReportWarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
