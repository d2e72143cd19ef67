package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/shopledger/shopledger/internal/jobs"
)

// DefaultIdempotencyRetention is used when the task carries no retention.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleaner deletes keys older than a retention.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob purges processed request keys.
type IdempotencyCleanupJob struct {
	Store   IdempotencyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires the cleanup handler.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle removes expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		payload.Retention = DefaultIdempotencyRetention
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskIdempotencyCleanup)
	err := j.Store.Cleanup(ctx, payload.Retention)
	if err != nil {
		jobLogger(j.Logger, TaskIdempotencyCleanup).Error("cleanup idempotency keys", slog.Any("error", err))
	}
	return tracker.End(err)
}
