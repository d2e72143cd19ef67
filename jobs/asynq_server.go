package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Location    *time.Location
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance. Alerts are served from QueueAlerts ahead of scheduled work.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", "worker"))
	handlers := make([]TaskHandler, 0, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if h.Type != "" && h.Handler != nil {
			handlers = append(handlers, h)
		}
	}
	if len(handlers) == 0 {
		return nil, errors.New("worker: no task handlers")
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueAlerts:  6,
			QueueDefault: 3,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("task failed",
				slog.String("type", task.Type()),
				slog.Int("retry", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err),
			)
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range handlers {
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: cfg.Location})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, fmt.Errorf("worker: schedule %s: %w", entry.Task.Type(), err)
			}
			logger.Info("scheduled task", slog.String("type", entry.Task.Type()), slog.String("spec", entry.Spec), slog.String("entry", id))
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("worker: start scheduler: %w", err)
		}
	}
	w.logger.Info("worker started")
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Enqueuer is the part of asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client submits jobs to the queue. It forwards ledger low stock events as alert tasks.
type Client struct {
	client Enqueuer
	closer func() error
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client, closer: client.Close}
}

// NewClientWithEnqueuer wraps an existing enqueuer.
func NewClientWithEnqueuer(e Enqueuer) *Client {
	return &Client{client: e}
}

var _ ledger.IntegrationHandler = (*Client)(nil)

// HandleLowStock enqueues a low stock alert task.
func (c *Client) HandleLowStock(ctx context.Context, evt ledger.LowStockEvent) error {
	task, err := NewLowStockAlertTask(evt)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueAlerts))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// QueueInspector reports queue state for the health endpoint.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. inspector may be nil.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	known := map[string]bool{}
	if h.inspector != nil {
		names, err := h.inspector.Queues()
		if err != nil {
			h.unavailable(w, "", err)
			return
		}
		for _, name := range names {
			known[name] = true
		}
	}
	queues := make([]queueHealth, 0, 2)
	for _, name := range []string{QueueDefault, QueueAlerts} {
		entry := queueHealth{Queue: name}
		if known[name] {
			info, err := h.inspector.GetQueueInfo(name)
			if err != nil {
				h.unavailable(w, name, err)
				return
			}
			entry.Pending, entry.Active, entry.Retry = info.Pending, info.Active, info.Retry
		}
		queues = append(queues, entry)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": queues})
}

func (h *Handler) unavailable(w http.ResponseWriter, queue string, err error) {
	if h.logger != nil {
		h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
}
