package ledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/shared"
)

const testShop = "shop-1"

type memoryRepo struct {
	mu          sync.Mutex
	products    map[string]Product
	purchases   []Purchase
	sales       []Sale
	conflicts   int
	failInbound map[string]error
}

type memoryTx struct {
	repo      *memoryRepo
	products  map[string]Product
	purchases []Purchase
	sales     []Sale
}

func newMemoryRepo(products ...Product) *memoryRepo {
	repo := &memoryRepo{products: make(map[string]Product), failInbound: make(map[string]error)}
	for _, p := range products {
		if p.ShopID == "" {
			p.ShopID = testShop
		}
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		return shared.ErrConcurrentUpdate
	}
	tx := &memoryTx{repo: r, products: maps.Clone(r.products)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.products = tx.products
	r.purchases = append(r.purchases, tx.purchases...)
	r.sales = append(r.sales, tx.sales...)
	return nil
}

func (r *memoryRepo) product(id string) Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id]
}

func (r *memoryRepo) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Purchase
	for _, p := range r.purchases {
		if p.ShopID == filter.ShopID && (filter.SupplierID == "" || p.SupplierID == filter.SupplierID) {
			out = append(out, p)
		}
	}
	return page(out, filter), len(out), nil
}

func (r *memoryRepo) GetPurchase(ctx context.Context, shopID, id string) (Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.purchases {
		if p.ShopID == shopID && p.ID == id {
			return p, nil
		}
	}
	return Purchase{}, shared.ErrNotFound
}

func (r *memoryRepo) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sale
	for _, s := range r.sales {
		if s.ShopID == filter.ShopID {
			out = append(out, s)
		}
	}
	return page(out, filter), len(out), nil
}

func (r *memoryRepo) GetSale(ctx context.Context, shopID, id string) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sales {
		if s.ShopID == shopID && s.ID == id {
			return s, nil
		}
	}
	return Sale{}, shared.ErrNotFound
}

func page[T any](items []T, filter ListFilter) []T {
	start := filter.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+filter.Limit, len(items))
	return items[start:end]
}

func (tx *memoryTx) LockProducts(ctx context.Context, shopID string, ids []string, activeOnly bool) ([]Product, error) {
	var out []Product
	for _, id := range ids {
		p, ok := tx.products[id]
		if !ok || p.ShopID != shopID || (activeOnly && !p.Active) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) invoiceTaken(shopID, invoice string) bool {
	for _, list := range [][]Purchase{tx.repo.purchases, tx.purchases} {
		for _, p := range list {
			if p.ShopID == shopID && p.InvoiceNumber == invoice {
				return true
			}
		}
	}
	for _, list := range [][]Sale{tx.repo.sales, tx.sales} {
		for _, s := range list {
			if s.ShopID == shopID && s.InvoiceNumber == invoice {
				return true
			}
		}
	}
	return false
}

func (tx *memoryTx) InsertPurchase(ctx context.Context, p Purchase) error {
	if tx.invoiceTaken(p.ShopID, p.InvoiceNumber) {
		return fmt.Errorf("%w: purchases_shop_invoice_key", shared.ErrDuplicate)
	}
	tx.purchases = append(tx.purchases, p)
	return nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, s Sale) error {
	if tx.invoiceTaken(s.ShopID, s.InvoiceNumber) {
		return fmt.Errorf("%w: sales_shop_invoice_key", shared.ErrDuplicate)
	}
	tx.sales = append(tx.sales, s)
	return nil
}

func (tx *memoryTx) ApplyInbound(ctx context.Context, prev Product, qty, newCost float64) error {
	if err := tx.repo.failInbound[prev.ID]; err != nil {
		return err
	}
	p := tx.products[prev.ID]
	p.Stock += qty
	p.CostPrice = newCost
	tx.products[prev.ID] = p
	return nil
}

func (tx *memoryTx) DecrementStock(ctx context.Context, shopID, productID string, qty float64) error {
	p, ok := tx.products[productID]
	if !ok || p.ShopID != shopID || p.Stock < qty {
		return ErrStockGuard
	}
	p.Stock -= qty
	tx.products[productID] = p
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type countingCache struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingCache) Bump(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

type recordingIntegration struct {
	events []LowStockEvent
}

func (r *recordingIntegration) HandleLowStock(ctx context.Context, evt LowStockEvent) error {
	r.events = append(r.events, evt)
	return nil
}

func sequenceInvoices(numbers ...string) InvoiceGenerator {
	var mu sync.Mutex
	i := 0
	return func(prefix string, at time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		n := numbers[min(i, len(numbers)-1)]
		i++
		return n
	}
}

func product(id, name string, stock, cost float64) Product {
	return Product{ID: id, ShopID: testShop, Name: name, Unit: "pcs", Stock: stock, CostPrice: cost, LowStockThreshold: 10, Active: true}
}

func TestPurchaseAndSaleEndToEnd(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Rice 5kg", 0, 0))
	svc := NewService(repo, Deps{}, ServiceConfig{})
	ctx := context.Background()

	first, err := svc.RecordPurchase(ctx, PurchaseInput{
		ShopID:        testShop,
		Items:         []PurchaseItemInput{{ProductID: "p1", Quantity: 10, PricePerUnit: 5}},
		TransportCost: 10,
	})
	require.NoError(t, err)
	require.InDelta(t, 6.0, first.Items[0].CostPerUnit, 1e-9)
	require.InDelta(t, 50.0, first.TotalAmount, 1e-9)
	require.InDelta(t, 60.0, first.GrandTotal, 1e-9)
	require.Equal(t, "Rice 5kg", first.Items[0].ProductName)
	require.InDelta(t, 10.0, repo.product("p1").Stock, 1e-9)
	require.InDelta(t, 6.0, repo.product("p1").CostPrice, 1e-9)

	_, err = svc.RecordPurchase(ctx, PurchaseInput{
		ShopID: testShop,
		Items:  []PurchaseItemInput{{ProductID: "p1", Quantity: 10, PricePerUnit: 8}},
	})
	require.NoError(t, err)
	require.InDelta(t, 20.0, repo.product("p1").Stock, 1e-9)
	require.InDelta(t, 7.0, repo.product("p1").CostPrice, 1e-9)

	sale, err := svc.RecordSale(ctx, SaleInput{
		ShopID: testShop,
		Items:  []SaleItemInput{{ProductID: "p1", Quantity: 5, SellingPrice: 15}},
	})
	require.NoError(t, err)
	require.InDelta(t, 7.0, sale.Items[0].CostPrice, 1e-9)
	require.InDelta(t, 40.0, sale.Items[0].Profit, 1e-9)
	require.InDelta(t, 75.0, sale.GrandTotal, 1e-9)
	require.InDelta(t, 35.0, sale.TotalCost, 1e-9)
	require.InDelta(t, 40.0, sale.TotalProfit, 1e-9)
	require.Equal(t, DiscountFixed, sale.DiscountType)
	require.InDelta(t, 15.0, repo.product("p1").Stock, 1e-9)
	require.InDelta(t, 7.0, repo.product("p1").CostPrice, 1e-9, "sales never move the average cost")
}

func TestWeightedAverageAcrossPurchases(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Cooking Oil", 0, 0))
	svc := NewService(repo, Deps{}, ServiceConfig{})
	ctx := context.Background()

	purchases := []struct {
		qty, price, transport float64
	}{
		{4, 10, 8},
		{6, 15, 0},
		{10, 11, 5},
	}
	var totalQty, totalCost float64
	for _, p := range purchases {
		_, err := svc.RecordPurchase(ctx, PurchaseInput{
			ShopID:        testShop,
			Items:         []PurchaseItemInput{{ProductID: "p1", Quantity: p.qty, PricePerUnit: p.price}},
			TransportCost: p.transport,
		})
		require.NoError(t, err)
		totalQty += p.qty
		totalCost += p.qty*p.price + p.transport
		require.InDelta(t, totalCost/totalQty, repo.product("p1").CostPrice, 1e-4)
	}
	require.InDelta(t, 12.65, repo.product("p1").CostPrice, 1e-9)
	require.InDelta(t, 20.0, repo.product("p1").Stock, 1e-9)
}

func TestPurchaseTransportAllocationSumsToTotal(t *testing.T) {
	repo := newMemoryRepo(product("a", "A", 0, 0), product("b", "B", 0, 0), product("c", "C", 0, 0))
	svc := NewService(repo, Deps{}, ServiceConfig{})

	purchase, err := svc.RecordPurchase(context.Background(), PurchaseInput{
		ShopID: testShop,
		Items: []PurchaseItemInput{
			{ProductID: "a", Quantity: 3, PricePerUnit: 2},
			{ProductID: "b", Quantity: 7, PricePerUnit: 4},
			{ProductID: "c", Quantity: 11, PricePerUnit: 1.5},
		},
		TransportCost: 100,
	})
	require.NoError(t, err)
	var sum float64
	for _, item := range purchase.Items {
		sum += item.TransportCost
	}
	require.InDelta(t, 100.0, sum, 1e-9)
	require.InDelta(t, purchase.TotalAmount+100, purchase.GrandTotal, 1e-9)
}

func TestPurchaseDuplicateLinesApplySequentially(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Sugar", 0, 0))
	svc := NewService(repo, Deps{}, ServiceConfig{})

	_, err := svc.RecordPurchase(context.Background(), PurchaseInput{
		ShopID: testShop,
		Items: []PurchaseItemInput{
			{ProductID: "p1", Quantity: 10, PricePerUnit: 6},
			{ProductID: "p1", Quantity: 10, PricePerUnit: 8},
		},
	})
	require.NoError(t, err)
	require.InDelta(t, 20.0, repo.product("p1").Stock, 1e-9)
	require.InDelta(t, 7.0, repo.product("p1").CostPrice, 1e-9)
}

func TestPurchaseRejectsUnknownProduct(t *testing.T) {
	other := product("foreign", "Other shop", 0, 0)
	other.ShopID = "shop-2"
	repo := newMemoryRepo(product("p1", "Salt", 0, 0), other)
	svc := NewService(repo, Deps{}, ServiceConfig{})

	_, err := svc.RecordPurchase(context.Background(), PurchaseInput{
		ShopID: testShop,
		Items: []PurchaseItemInput{
			{ProductID: "p1", Quantity: 1, PricePerUnit: 1},
			{ProductID: "foreign", Quantity: 1, PricePerUnit: 1},
		},
	})
	require.ErrorIs(t, err, ErrProductsNotFound)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.InDelta(t, 0.0, repo.product("p1").Stock, 1e-9)
	require.Empty(t, repo.purchases)
}

func TestPurchaseValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), Deps{}, ServiceConfig{})
	ctx := context.Background()

	cases := []PurchaseInput{
		{ShopID: testShop},
		{ShopID: testShop, Items: []PurchaseItemInput{{ProductID: "p1", Quantity: 0, PricePerUnit: 1}}},
		{ShopID: testShop, Items: []PurchaseItemInput{{ProductID: "p1", Quantity: 1, PricePerUnit: -1}}},
		{ShopID: testShop, Items: []PurchaseItemInput{{ProductID: "p1", Quantity: 1}}, TransportCost: -5},
	}
	for _, input := range cases {
		_, err := svc.RecordPurchase(ctx, input)
		var verr *shared.ValidationError
		require.ErrorAs(t, err, &verr)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestPurchaseFailureLeavesNoEffect(t *testing.T) {
	repo := newMemoryRepo(product("a", "A", 5, 2), product("b", "B", 5, 2))
	repo.failInbound["b"] = errors.New("disk full")
	svc := NewService(repo, Deps{}, ServiceConfig{})

	_, err := svc.RecordPurchase(context.Background(), PurchaseInput{
		ShopID: testShop,
		Items: []PurchaseItemInput{
			{ProductID: "a", Quantity: 5, PricePerUnit: 4},
			{ProductID: "b", Quantity: 5, PricePerUnit: 4},
		},
	})
	require.ErrorIs(t, err, shared.ErrUnavailable)
	require.True(t, shared.IsRetryable(err))
	require.InDelta(t, 5.0, repo.product("a").Stock, 1e-9)
	require.InDelta(t, 2.0, repo.product("a").CostPrice, 1e-9)
	require.Empty(t, repo.purchases)
}

func TestSaleRejectedWithoutPartialDeduction(t *testing.T) {
	repo := newMemoryRepo(product("a", "Tea", 10, 1), product("b", "Coffee", 2, 1), product("c", "Milk", 10, 1))
	svc := NewService(repo, Deps{}, ServiceConfig{})

	_, err := svc.RecordSale(context.Background(), SaleInput{
		ShopID: testShop,
		Items: []SaleItemInput{
			{ProductID: "a", Quantity: 1, SellingPrice: 2},
			{ProductID: "b", Quantity: 5, SellingPrice: 2},
			{ProductID: "c", Quantity: 1, SellingPrice: 2},
		},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "Coffee", stockErr.ProductName)
	require.InDelta(t, 2.0, stockErr.Available, 1e-9)
	require.Contains(t, err.Error(), "Available: 2")

	require.InDelta(t, 10.0, repo.product("a").Stock, 1e-9)
	require.InDelta(t, 2.0, repo.product("b").Stock, 1e-9)
	require.InDelta(t, 10.0, repo.product("c").Stock, 1e-9)
	require.Empty(t, repo.sales)
}

func TestSaleSumsDuplicateLinesForStockCheck(t *testing.T) {
	repo := newMemoryRepo(product("b", "Coffee", 2, 1))
	svc := NewService(repo, Deps{}, ServiceConfig{})

	_, err := svc.RecordSale(context.Background(), SaleInput{
		ShopID: testShop,
		Items: []SaleItemInput{
			{ProductID: "b", Quantity: 1, SellingPrice: 2},
			{ProductID: "b", Quantity: 2, SellingPrice: 2},
		},
	})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.InDelta(t, 3.0, stockErr.Requested, 1e-9)
	require.InDelta(t, 2.0, repo.product("b").Stock, 1e-9)
}

func TestSaleDiscountTotals(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		discount float64
		kind     DiscountType
		amount   float64
	}{
		{"percentage", 10, DiscountPercentage, 20},
		{"fixed", 15, DiscountFixed, 15},
		{"none", 0, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryRepo(product("p1", "Flour", 20, 7))
			svc := NewService(repo, Deps{}, ServiceConfig{})
			sale, err := svc.RecordSale(ctx, SaleInput{
				ShopID:       testShop,
				Items:        []SaleItemInput{{ProductID: "p1", Quantity: 10, SellingPrice: 20}},
				Discount:     tc.discount,
				DiscountType: tc.kind,
			})
			require.NoError(t, err)
			require.InDelta(t, 200.0, sale.TotalAmount, 1e-9)
			require.InDelta(t, tc.amount, sale.DiscountAmount, 1e-9)
			require.Equal(t, sale.TotalAmount-sale.DiscountAmount, sale.GrandTotal)
			require.Equal(t, sale.GrandTotal-sale.TotalCost, sale.TotalProfit)
			require.InDelta(t, 70.0, sale.TotalCost, 1e-9)
		})
	}
}

func TestSaleRejectsDiscountAboveTotal(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Flour", 20, 7))
	svc := NewService(repo, Deps{}, ServiceConfig{})

	_, err := svc.RecordSale(context.Background(), SaleInput{
		ShopID:   testShop,
		Items:    []SaleItemInput{{ProductID: "p1", Quantity: 1, SellingPrice: 20}},
		Discount: 25,
	})
	require.ErrorIs(t, err, ErrDiscountExceedsTotal)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.InDelta(t, 20.0, repo.product("p1").Stock, 1e-9)

	_, err = svc.RecordSale(context.Background(), SaleInput{
		ShopID:       testShop,
		Items:        []SaleItemInput{{ProductID: "p1", Quantity: 1, SellingPrice: 20}},
		Discount:     150,
		DiscountType: DiscountPercentage,
	})
	require.ErrorIs(t, err, ErrDiscountExceedsTotal)
}

func TestSaleIgnoresInactiveProducts(t *testing.T) {
	disabled := product("p1", "Old stock", 5, 1)
	disabled.Active = false
	svc := NewService(newMemoryRepo(disabled), Deps{}, ServiceConfig{})

	_, err := svc.RecordSale(context.Background(), SaleInput{
		ShopID: testShop,
		Items:  []SaleItemInput{{ProductID: "p1", Quantity: 1, SellingPrice: 2}},
	})
	require.ErrorIs(t, err, ErrProductsNotFound)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Eggs", 5, 1))
	svc := NewService(repo, Deps{}, ServiceConfig{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordSale(context.Background(), SaleInput{
				ShopID: testShop,
				Items:  []SaleItemInput{{ProductID: "p1", Quantity: 3, SellingPrice: 2}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInsufficientStock)
	}
	require.Equal(t, 1, succeeded)
	require.InDelta(t, 2.0, repo.product("p1").Stock, 1e-9)
}

func TestConcurrentSalesDrainStockExactly(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Eggs", 10, 1))
	svc := NewService(repo, Deps{}, ServiceConfig{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSale(context.Background(), SaleInput{
				ShopID: testShop,
				Items:  []SaleItemInput{{ProductID: "p1", Quantity: 1, SellingPrice: 2}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	require.InDelta(t, 0.0, repo.product("p1").Stock, 1e-9)
	require.Len(t, repo.sales, 10)
}

func TestRetriesWriteConflicts(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Soap", 5, 1))
	repo.conflicts = 2
	svc := NewService(repo, Deps{}, ServiceConfig{TxAttempts: 3})

	_, err := svc.RecordSale(context.Background(), SaleInput{
		ShopID: testShop,
		Items:  []SaleItemInput{{ProductID: "p1", Quantity: 1, SellingPrice: 2}},
	})
	require.NoError(t, err)
	require.InDelta(t, 4.0, repo.product("p1").Stock, 1e-9)

	repo.conflicts = 5
	_, err = svc.RecordSale(context.Background(), SaleInput{
		ShopID: testShop,
		Items:  []SaleItemInput{{ProductID: "p1", Quantity: 1, SellingPrice: 2}},
	})
	require.ErrorIs(t, err, shared.ErrConcurrentUpdate)
	require.True(t, shared.IsRetryable(err))
	require.InDelta(t, 4.0, repo.product("p1").Stock, 1e-9)
}

func TestInvoiceCollisionRegeneratesNumber(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Soap", 0, 0))
	svc := NewService(repo, Deps{}, ServiceConfig{
		InvoiceNumber: sequenceInvoices("PUR-20240301-1111", "PUR-20240301-1111", "PUR-20240301-2222"),
	})
	input := PurchaseInput{ShopID: testShop, Items: []PurchaseItemInput{{ProductID: "p1", Quantity: 1, PricePerUnit: 1}}}

	first, err := svc.RecordPurchase(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "PUR-20240301-1111", first.InvoiceNumber)

	second, err := svc.RecordPurchase(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "PUR-20240301-2222", second.InvoiceNumber)
	require.InDelta(t, 2.0, repo.product("p1").Stock, 1e-9)
}

func TestInvoiceCollisionGivesUpAfterAttempts(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Soap", 0, 0))
	svc := NewService(repo, Deps{}, ServiceConfig{
		InvoiceAttempts: 2,
		InvoiceNumber:   sequenceInvoices("PUR-20240301-1111"),
	})
	input := PurchaseInput{ShopID: testShop, Items: []PurchaseItemInput{{ProductID: "p1", Quantity: 1, PricePerUnit: 1}}}

	_, err := svc.RecordPurchase(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.RecordPurchase(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.InDelta(t, 1.0, repo.product("p1").Stock, 1e-9)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Soap", 10, 1))
	idem := &memoryIdempotency{keys: map[string]string{}}
	svc := NewService(repo, Deps{Idempotency: idem}, ServiceConfig{})
	ctx := context.Background()

	input := SaleInput{
		ShopID:         testShop,
		Items:          []SaleItemInput{{ProductID: "p1", Quantity: 20, SellingPrice: 2}},
		IdempotencyKey: "req-1",
	}
	_, err := svc.RecordSale(ctx, input)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Empty(t, idem.keys, "failed requests release their key")

	input.Items[0].Quantity = 2
	_, err = svc.RecordSale(ctx, input)
	require.NoError(t, err)
	_, err = svc.RecordSale(ctx, input)
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.InDelta(t, 8.0, repo.product("p1").Stock, 1e-9)
	require.Contains(t, idem.keys, "sale:shop-1:req-1")
}

type cancellingRepo struct {
	*memoryRepo
	cancel context.CancelFunc
}

func (r cancellingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.cancel()
	return ctx.Err()
}

func TestCancelledRequestReleasesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Soap", 5, 1))
	idem := &memoryIdempotency{keys: map[string]string{}}
	input := SaleInput{
		ShopID:         testShop,
		Items:          []SaleItemInput{{ProductID: "p1", Quantity: 2, SellingPrice: 2}},
		IdempotencyKey: "k1",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	aborted := NewService(cancellingRepo{memoryRepo: repo, cancel: cancel}, Deps{Idempotency: idem}, ServiceConfig{})
	_, err := aborted.RecordSale(ctx, input)
	require.Error(t, err)
	require.Empty(t, idem.keys)
	require.InDelta(t, 5.0, repo.product("p1").Stock, 1e-9)

	svc := NewService(repo, Deps{Idempotency: idem}, ServiceConfig{})
	sale, err := svc.RecordSale(context.Background(), input)
	require.NoError(t, err)
	require.NotEmpty(t, sale.ID)
	require.InDelta(t, 3.0, repo.product("p1").Stock, 1e-9)
}

func TestSaleSideEffects(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Bread", 12, 1), product("p2", "Jam", 50, 3))
	audit := &recordingAudit{}
	cache := &countingCache{}
	integration := &recordingIntegration{}
	svc := NewService(repo, Deps{Audit: audit, Cache: cache, Integration: integration}, ServiceConfig{
		InvoiceNumber: sequenceInvoices("SAL-20240301-4242"),
	})

	sale, err := svc.RecordSale(context.Background(), SaleInput{
		ShopID:  testShop,
		Items:   []SaleItemInput{{ProductID: "p1", Quantity: 3, SellingPrice: 2}, {ProductID: "p2", Quantity: 1, SellingPrice: 5}},
		ActorID: "user-7",
	})
	require.NoError(t, err)
	require.Equal(t, 1, cache.bumps)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "SALE_CREATE", audit.logs[0].Action)
	require.Equal(t, "user-7", audit.logs[0].ActorID)
	require.Equal(t, sale.ID, audit.logs[0].EntityID)

	require.Len(t, integration.events, 1)
	evt := integration.events[0]
	require.Equal(t, "p1", evt.ProductID)
	require.InDelta(t, 9.0, evt.Stock, 1e-9)
	require.Equal(t, "SAL-20240301-4242", evt.InvoiceNumber)
}

func TestListAndGetRecords(t *testing.T) {
	repo := newMemoryRepo(product("p1", "Soap", 0, 0))
	svc := NewService(repo, Deps{}, ServiceConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordPurchase(ctx, PurchaseInput{
			ShopID:     testShop,
			SupplierID: "sup-1",
			Items:      []PurchaseItemInput{{ProductID: "p1", Quantity: 1, PricePerUnit: 1}},
		})
		require.NoError(t, err)
	}
	purchases, page, err := svc.ListPurchases(ctx, ListFilter{ShopID: testShop, Limit: 2})
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.TotalPages)

	got, err := svc.GetPurchase(ctx, testShop, purchases[0].ID)
	require.NoError(t, err)
	require.Equal(t, purchases[0].InvoiceNumber, got.InvoiceNumber)

	_, err = svc.GetPurchase(ctx, "shop-2", purchases[0].ID)
	require.ErrorIs(t, err, ErrPurchaseNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.GetSale(ctx, testShop, "missing")
	require.ErrorIs(t, err, ErrSaleNotFound)
}
