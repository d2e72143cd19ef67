package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/shopledger/shopledger/internal/jobs"
	"github.com/shopledger/shopledger/internal/report"
)

// ShopLister enumerates the shops to warm.
type ShopLister interface {
	Shops(ctx context.Context) ([]string, error)
}

// ReportWarmer builds and caches a shop's reports.
type ReportWarmer interface {
	Warm(ctx context.Context, shopID string, kinds ...report.RangeKind) error
}

// ReportWarmupJob pre-populates the report cache for every shop.
type ReportWarmupJob struct {
	Shops   ShopLister
	Reports ReportWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(shops ShopLister, reports ReportWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{Shops: shops, Reports: reports, Logger: logger, Metrics: metrics, Timeout: 20 * time.Second}
}

// Handle processes report warmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Shops == nil || j.Reports == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload ReportWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskReportWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := jobLogger(j.Logger, TaskReportWarmup)
	start := time.Now()
	shops, err := j.Shops.Shops(ctx)
	if err != nil {
		logger.Error("load warmup shops", slog.Any("error", err))
		return err
	}
	if len(shops) == 0 {
		logger.Info("no shops discovered for warmup")
		return nil
	}
	for _, shopID := range shops {
		if err := j.warmShop(ctx, shopID, payload.Ranges); err != nil {
			logger.Error("warm shop", slog.String("shop_id", shopID), slog.Any("error", err))
			return err
		}
	}
	logger.Info("completed report warmup", slog.Int("shops", len(shops)), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *ReportWarmupJob) warmShop(ctx context.Context, shopID string, ranges []report.RangeKind) error {
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	return j.Reports.Warm(ctx, shopID, ranges...)
}
