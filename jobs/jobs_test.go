package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/shopledger/shopledger/internal/jobs"
	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/report"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

type fakeLowStockSource struct {
	shops    []string
	products map[string][]ledger.Product
	failShop string
}

func (f *fakeLowStockSource) Shops(context.Context) ([]string, error) {
	return f.shops, nil
}

func (f *fakeLowStockSource) LowStock(_ context.Context, shopID string) ([]ledger.Product, error) {
	if shopID == f.failShop {
		return nil, errors.New("store down")
	}
	return f.products[shopID], nil
}

type fakeWarmer struct {
	mu     sync.Mutex
	warmed map[string][]report.RangeKind
	err    error
}

func (f *fakeWarmer) Shops(context.Context) ([]string, error) {
	return []string{"shop-a", "shop-b"}, nil
}

func (f *fakeWarmer) Warm(_ context.Context, shopID string, kinds ...report.RangeKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.warmed == nil {
		f.warmed = make(map[string][]report.RangeKind)
	}
	f.warmed[shopID] = kinds
	return nil
}

type fakeCleaner struct {
	retention time.Duration
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.retention = olderThan
	return nil
}

func TestClientEnqueuesLowStockAlert(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWithEnqueuer(enq)
	evt := ledger.LowStockEvent{ShopID: "shop-1", ProductID: "p-1", ProductName: "Kopi", Stock: 2, Threshold: 5, InvoiceNumber: "INV-1"}

	require.NoError(t, client.HandleLowStock(context.Background(), evt))
	require.NoError(t, client.Close())
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskLowStockAlert, enq.tasks[0].Type())

	var payload LowStockAlertPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, evt.ProductID, payload.ProductID)
	require.Equal(t, 2.0, payload.Stock)
}

func TestClientPropagatesEnqueueFailure(t *testing.T) {
	client := NewClientWithEnqueuer(&fakeEnqueuer{err: errors.New("redis down")})
	err := client.HandleLowStock(context.Background(), ledger.LowStockEvent{ShopID: "s", ProductID: "p"})
	require.EqualError(t, err, "redis down")
}

func TestLowStockAlertJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewLowStockAlertJob(discardLogger(), jobmetrics.NewMetrics(reg))

	task, err := NewLowStockAlertTask(ledger.LowStockEvent{ShopID: "shop-1", ProductID: "p-1", Stock: 1, Threshold: 3})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1.0, counterValue(t, reg, "shopledger_low_stock_products_total", map[string]string{"source": "alert"}))

	err = job.Handle(context.Background(), asynq.NewTask(TaskLowStockAlert, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskLowStockAlert, []byte(`{"shop_id":"s"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockScanJobCountsAllShops(t *testing.T) {
	reg := prometheus.NewRegistry()
	source := &fakeLowStockSource{
		shops: []string{"shop-a", "shop-b"},
		products: map[string][]ledger.Product{
			"shop-a": {{ID: "p1", Name: "Gula", Stock: 0, LowStockThreshold: 5}},
			"shop-b": {{ID: "p2", Name: "Teh", Stock: 2, LowStockThreshold: 5}, {ID: "p3", Name: "Susu", Stock: 1, LowStockThreshold: 2}},
		},
	}
	job := NewLowStockScanJob(source, discardLogger(), jobmetrics.NewMetrics(reg))

	task, err := NewLowStockScanTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 3.0, counterValue(t, reg, "shopledger_low_stock_products_total", map[string]string{"source": "scan"}))
	require.Equal(t, 1.0, counterValue(t, reg, "shopledger_jobs_total", map[string]string{"job": TaskLowStockScan, "status": "success"}))
}

func TestLowStockScanJobContinuesPastFailingShop(t *testing.T) {
	reg := prometheus.NewRegistry()
	source := &fakeLowStockSource{
		products: map[string][]ledger.Product{"shop-b": {{ID: "p2"}}},
		failShop: "shop-a",
	}
	job := NewLowStockScanJob(source, discardLogger(), jobmetrics.NewMetrics(reg))

	task, err := NewLowStockScanTask("shop-a", "shop-b")
	require.NoError(t, err)
	require.EqualError(t, job.Handle(context.Background(), task), "store down")
	require.Equal(t, 1.0, counterValue(t, reg, "shopledger_low_stock_products_total", map[string]string{"source": "scan"}))
	require.Equal(t, 1.0, counterValue(t, reg, "shopledger_jobs_failures_total", map[string]string{"job": TaskLowStockScan}))
}

func TestReportWarmupJob(t *testing.T) {
	warmer := &fakeWarmer{}
	job := NewReportWarmupJob(warmer, warmer, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewReportWarmupTask()
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, warmer.warmed, 2)
	require.Equal(t, []report.RangeKind{report.RangeToday, report.RangeWeek, report.RangeMonth}, warmer.warmed["shop-a"])

	warmer.err = errors.New("cache down")
	require.Error(t, job.Handle(context.Background(), task))

	var unconfigured *ReportWarmupJob
	require.Error(t, unconfigured.Handle(context.Background(), task))
}

func TestIdempotencyCleanupJobDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.retention)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, cleaner.retention)
}

type fakeInspector struct {
	queues []string
	info   map[string]*asynq.QueueInfo
	err    error
}

func (f fakeInspector) Queues() ([]string, error) {
	return f.queues, f.err
}

func (f fakeInspector) GetQueueInfo(name string) (*asynq.QueueInfo, error) {
	return f.info[name], nil
}

func TestHandlerHealth(t *testing.T) {
	cases := []struct {
		name   string
		insp   QueueInspector
		status int
		body   string
	}{
		{
			name:   "no inspector",
			status: http.StatusOK,
			body:   `{"queues":[{"queue":"default","pending":0,"active":0,"retry":0},{"queue":"alerts","pending":0,"active":0,"retry":0}]}`,
		},
		{
			name: "pending alerts",
			insp: fakeInspector{
				queues: []string{QueueAlerts},
				info:   map[string]*asynq.QueueInfo{QueueAlerts: {Queue: QueueAlerts, Pending: 4, Retry: 1}},
			},
			status: http.StatusOK,
			body:   `{"queues":[{"queue":"default","pending":0,"active":0,"retry":0},{"queue":"alerts","pending":4,"active":0,"retry":1}]}`,
		},
		{name: "redis down", insp: fakeInspector{err: errors.New("dial")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.insp, discardLogger()).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				require.JSONEq(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}
