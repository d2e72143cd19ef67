package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/shopledger/shopledger/internal/jobs"
	"github.com/shopledger/shopledger/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LowStockSource lists shops and their low stock products.
type LowStockSource interface {
	Shops(ctx context.Context) ([]string, error)
	LowStock(ctx context.Context, shopID string) ([]ledger.Product, error)
}

// LowStockAlertJob reports a single product left at or below its threshold by a sale.
type LowStockAlertJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockAlertJob wires the alert handler.
func NewLowStockAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockAlertJob {
	return &LowStockAlertJob{Logger: logger, Metrics: metrics}
}

// Handle logs the alert. Malformed payloads are not retried.
func (j *LowStockAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	var evt LowStockAlertPayload
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	if evt.ShopID == "" || evt.ProductID == "" {
		return asynq.SkipRetry
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskLowStockAlert)
	jobLogger(j.Logger, TaskLowStockAlert).Warn("product low on stock",
		slog.String("shop_id", evt.ShopID),
		slog.String("product_id", evt.ProductID),
		slog.String("product_name", evt.ProductName),
		slog.Float64("stock", evt.Stock),
		slog.Float64("threshold", evt.Threshold),
		slog.String("invoice", evt.InvoiceNumber),
	)
	metricsOrDefault(j.Metrics).AddLowStock("alert", 1)
	return tracker.End(nil)
}

// LowStockScanJob walks every shop and reports its low stock products.
type LowStockScanJob struct {
	Source  LowStockSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob wires the scan handler.
func NewLowStockScanJob(source LowStockSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle runs the scan. A failing shop is logged and the scan continues; the first error is returned.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskLowStockScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskLowStockScan)
	start := time.Now()
	shops := payload.ShopIDs
	if len(shops) == 0 {
		var err error
		if shops, err = j.Source.Shops(ctx); err != nil {
			logger.Error("list shops", slog.Any("error", err))
			return err
		}
	}

	total := 0
	for _, shopID := range shops {
		products, err := j.Source.LowStock(ctx, shopID)
		if err != nil {
			logger.Error("scan shop", slog.String("shop_id", shopID), slog.Any("error", err))
			if resultErr == nil {
				resultErr = err
			}
			continue
		}
		for _, p := range products {
			logger.Warn("product low on stock",
				slog.String("shop_id", shopID),
				slog.String("product_id", p.ID),
				slog.String("product_name", p.Name),
				slog.Float64("stock", p.Stock),
				slog.Float64("threshold", p.LowStockThreshold),
			)
		}
		total += len(products)
	}
	metricsOrDefault(j.Metrics).AddLowStock("scan", total)
	logger.Info("completed low stock scan",
		slog.Int("shops", len(shops)),
		slog.Int("low_stock", total),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
