package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/report"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAlerts carries low stock alerts raised by sales.
	QueueAlerts = "alerts"
	// TaskLowStockAlert reports a product a sale left at or below its threshold.
	TaskLowStockAlert = "inventory:low_stock_alert"
	// TaskLowStockScan lists low stock products of every shop.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskReportWarmup pre-builds cached reports of every shop.
	TaskReportWarmup = "report:warmup"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// LowStockAlertPayload is the event raised by the sale processor.
type LowStockAlertPayload = ledger.LowStockEvent

// NewLowStockAlertTask constructs the alert task for one product.
func NewLowStockAlertTask(evt ledger.LowStockEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, data, asynq.MaxRetry(3)), nil
}

// LowStockScanPayload scopes a scan. An empty ShopIDs scans every shop.
type LowStockScanPayload struct {
	ShopIDs []string `json:"shop_ids,omitempty"`
}

// NewLowStockScanTask constructs the scan task.
func NewLowStockScanTask(shopIDs ...string) (*asynq.Task, error) {
	data, err := json.Marshal(LowStockScanPayload{ShopIDs: shopIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// ReportWarmupPayload lists the ranges to pre-build.
type ReportWarmupPayload struct {
	Ranges []report.RangeKind `json:"ranges"`
}

// NewReportWarmupTask constructs the warmup task. No ranges means today, week and month.
func NewReportWarmupTask(ranges ...report.RangeKind) (*asynq.Task, error) {
	if len(ranges) == 0 {
		ranges = []report.RangeKind{report.RangeToday, report.RangeWeek, report.RangeMonth}
	}
	data, err := json.Marshal(ReportWarmupPayload{Ranges: ranges})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
