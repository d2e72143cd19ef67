package expense

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/shared"
)

type memoryRepo struct {
	mu    sync.Mutex
	items map[string]Expense
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[string]Expense)}
}

func (r *memoryRepo) Create(ctx context.Context, e Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[e.ID] = e
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, shopID, id string) (Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok || e.ShopID != shopID {
		return Expense{}, shared.ErrNotFound
	}
	return e, nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Expense, int, error) {
	items, _ := r.ListRange(ctx, filter.ShopID, filter.From, filter.To)
	var out []Expense
	for _, e := range items {
		if filter.Category == "" || strings.Contains(strings.ToLower(e.Category), strings.ToLower(filter.Category)) {
			out = append(out, e)
		}
	}
	start := min(filter.Offset(), len(out))
	end := min(start+filter.Limit, len(out))
	return out[start:end], len(out), nil
}

func (r *memoryRepo) Update(ctx context.Context, e Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[e.ID]; !ok {
		return shared.ErrNotFound
	}
	r.items[e.ID] = e
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, shopID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.items[id]; !ok || e.ShopID != shopID {
		return shared.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memoryRepo) ListRange(ctx context.Context, shopID string, from, to time.Time) ([]Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Expense
	for _, e := range r.items {
		if e.ShopID != shopID {
			continue
		}
		if (!from.IsZero() && e.ExpenseDate.Before(from)) || (!to.IsZero() && e.ExpenseDate.After(to)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type countingCache struct{ bumps int }

func (c *countingCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC)
}

func TestCreateDefaultsDateAndValidates(t *testing.T) {
	cache := &countingCache{}
	svc := NewService(newMemoryRepo(), nil, cache, nil)
	now := day(15)
	svc.clock = func() time.Time { return now }
	ctx := context.Background()

	e, err := svc.Create(ctx, CreateInput{ShopID: "s1", Title: " Electricity ", Amount: 120, Category: "utilities"})
	require.NoError(t, err)
	require.Equal(t, "Electricity", e.Title)
	require.Equal(t, now, e.ExpenseDate)
	require.Equal(t, 1, cache.bumps)

	_, err = svc.Create(ctx, CreateInput{ShopID: "s1", Title: "Rent", Amount: -1, Category: "rent"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, CreateInput{ShopID: "s1", Title: "R", Amount: 1, Category: "rent"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, CreateInput{ShopID: "s1", Title: "Rent", Amount: 1, Category: " "})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateAndDelete(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	e, err := svc.Create(ctx, CreateInput{ShopID: "s1", Title: "Rent", Amount: 500, Category: "rent", ExpenseDate: day(1)})
	require.NoError(t, err)

	amount := 550.0
	updated, err := svc.Update(ctx, "s1", e.ID, UpdateInput{Amount: &amount})
	require.NoError(t, err)
	require.InDelta(t, 550.0, updated.Amount, 1e-9)
	require.Equal(t, "Rent", updated.Title)

	_, err = svc.Update(ctx, "s2", e.ID, UpdateInput{Amount: &amount})
	require.ErrorIs(t, err, ErrExpenseNotFound)

	require.NoError(t, svc.Delete(ctx, "s1", e.ID, ""))
	_, err = svc.Get(ctx, "s1", e.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSummaryGroupsByCategory(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	for _, in := range []CreateInput{
		{ShopID: "s1", Title: "Rent", Amount: 500, Category: "rent", ExpenseDate: day(1)},
		{ShopID: "s1", Title: "Power", Amount: 80, Category: "utilities", ExpenseDate: day(3)},
		{ShopID: "s1", Title: "Water", Amount: 40, Category: "utilities", ExpenseDate: day(4)},
		{ShopID: "s1", Title: "Old bill", Amount: 99, Category: "utilities", ExpenseDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ShopID: "s2", Title: "Other shop", Amount: 1000, Category: "rent", ExpenseDate: day(2)},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	summary, err := svc.Summary(ctx, "s1", day(1).Add(-time.Hour), day(31))
	require.NoError(t, err)
	require.InDelta(t, 620.0, summary.GrandTotal, 1e-9)
	require.Len(t, summary.ByCategory, 2)
	require.Equal(t, "rent", summary.ByCategory[0].Category)
	require.Equal(t, "utilities", summary.ByCategory[1].Category)
	require.Equal(t, 2, summary.ByCategory[1].Count)
	require.InDelta(t, 120.0, summary.ByCategory[1].Total, 1e-9)

	_, err = svc.Summary(ctx, "s1", day(5), day(1))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHandlerExpenseRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, NewService(newMemoryRepo(), nil, nil, logger), time.UTC)
	handler.clock = func() time.Time { return day(20) }
	r := chi.NewRouter()
	r.Route("/shops/{shopID}", handler.MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/shops/s1/expenses",
		strings.NewReader(`{"title":"Rent","amount":300,"category":"rent","expense_date":"2024-03-02T09:00:00Z"}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/shops/s1/expenses/summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var summary Summary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&summary))
	require.InDelta(t, 300.0, summary.GrandTotal, 1e-9)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/shops/s1/expenses?from=2024-03-03", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":0`)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/shops/s1/expenses", strings.NewReader(`{"title":"Rent","amount":-3,"category":"rent"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
