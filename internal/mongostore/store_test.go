package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shopledger/shopledger/internal/catalog"
	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/report"
	"github.com/shopledger/shopledger/internal/shared"
)

var (
	_ ledger.RepositoryPort  = (*LedgerRepository)(nil)
	_ ledger.TxRepository    = (*ledgerTx)(nil)
	_ ledger.AuditPort       = (*AuditLogger)(nil)
	_ ledger.IdempotencyPort = (*IdempotencyStore)(nil)
	_ catalog.RepositoryPort = (*CatalogRepository)(nil)
	_ expense.RepositoryPort = (*ExpenseRepository)(nil)
	_ report.Source          = (*ReportSource)(nil)
)

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))

	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	require.ErrorIs(t, classify(dup), shared.ErrDuplicate)

	conflict := mongo.CommandError{Code: writeConflictCode, Name: "WriteConflict"}
	require.ErrorIs(t, classify(conflict), shared.ErrConcurrentUpdate)

	transient := mongo.CommandError{Code: 251, Labels: []string{"TransientTransactionError"}}
	require.ErrorIs(t, classify(transient), shared.ErrConcurrentUpdate)

	stock := &ledger.InsufficientStockError{ProductName: "Rice"}
	require.Same(t, stock, classify(stock))

	other := errors.New("boom")
	require.Equal(t, other, classify(other))
}

func TestNotFound(t *testing.T) {
	require.ErrorIs(t, notFound(mongo.ErrNoDocuments), shared.ErrNotFound)
}

func TestBetween(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := between(bson.M{"shop_id": "s"}, "sold_at", from, time.Time{})
	require.Equal(t, bson.M{"shop_id": "s", "sold_at": bson.M{"$gte": from}}, q)

	q = between(bson.M{"shop_id": "s"}, "sold_at", time.Time{}, time.Time{})
	require.Equal(t, bson.M{"shop_id": "s"}, q)
}

func TestProductQuery(t *testing.T) {
	active := true
	q := productQuery(catalog.Filter{ShopID: "s", Search: "rice (5kg)", Active: &active, LowStock: true})
	require.Equal(t, "s", q["shop_id"])
	require.Equal(t, true, q["is_active"])
	require.Equal(t, bson.M{"$regex": `rice \(5kg\)`, "$options": "i"}, q["name"])
	require.Equal(t, lowStockExpr, q["$expr"])
	require.NotContains(t, q, "category_id")
}

func TestProductDocumentFields(t *testing.T) {
	raw, err := bson.Marshal(fromProduct(ledger.Product{ID: "p1", ShopID: "s", Name: "  Rice ", Stock: 3, Active: true}))
	require.NoError(t, err)
	var fields bson.M
	require.NoError(t, bson.Unmarshal(raw, &fields))
	require.Equal(t, "p1", fields["_id"])
	require.Equal(t, "rice", fields["name_key"])
	require.Equal(t, 3.0, fields["stock"])
	require.Equal(t, true, fields["is_active"])
}

func TestSaleDocumentKeepsItems(t *testing.T) {
	s := ledger.Sale{
		ID:           "x",
		DiscountType: ledger.DiscountPercentage,
		Items:        []ledger.SaleItem{{ProductID: "p1", Quantity: 2, CostPrice: 3, Subtotal: 10, Profit: 4}},
	}
	got := fromSale(s).sale()
	require.Equal(t, s.Items, got.Items)
	require.Equal(t, ledger.DiscountPercentage, got.DiscountType)
}

// The tests below need a replica set, e.g. SHOPLEDGER_MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0.
func openStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("SHOPLEDGER_MONGO_URI")
	if uri == "" {
		t.Skip("SHOPLEDGER_MONGO_URI not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, uri, "shopledger_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(ctx))
	t.Cleanup(func() {
		_ = store.db.Drop(context.Background())
		_ = store.Close(context.Background())
	})
	return store
}

func TestLedgerAgainstMongo(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Catalog().Create(ctx, ledger.Product{
		ID: "p1", ShopID: "shop-1", Name: "Rice", Unit: "kg", LowStockThreshold: 2, Active: true, CreatedAt: now, UpdatedAt: now,
	}))

	svc := ledger.NewService(store.Ledger(), ledger.Deps{
		Audit:       store.Audit(),
		Idempotency: store.Idempotency(),
	}, ledger.ServiceConfig{})

	_, err := svc.RecordPurchase(ctx, ledger.PurchaseInput{
		ShopID:        "shop-1",
		Items:         []ledger.PurchaseItemInput{{ProductID: "p1", Quantity: 10, PricePerUnit: 5}},
		TransportCost: 10,
	})
	require.NoError(t, err)
	_, err = svc.RecordPurchase(ctx, ledger.PurchaseInput{
		ShopID: "shop-1",
		Items:  []ledger.PurchaseItemInput{{ProductID: "p1", Quantity: 10, PricePerUnit: 8}},
	})
	require.NoError(t, err)

	sale, err := svc.RecordSale(ctx, ledger.SaleInput{
		ShopID: "shop-1",
		Items:  []ledger.SaleItemInput{{ProductID: "p1", Quantity: 5, SellingPrice: 15}},
	})
	require.NoError(t, err)
	require.InDelta(t, 40.0, sale.TotalProfit, 1e-9)

	p, err := store.Catalog().Get(ctx, "shop-1", "p1")
	require.NoError(t, err)
	require.InDelta(t, 15.0, p.Stock, 1e-9)
	require.InDelta(t, 7.0, p.CostPrice, 1e-9)

	_, err = svc.RecordSale(ctx, ledger.SaleInput{
		ShopID: "shop-1",
		Items:  []ledger.SaleItemInput{{ProductID: "p1", Quantity: 16, SellingPrice: 15}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	reports := report.NewService(store.Reports(), nil, nil, report.Config{})
	r, err := reports.Range(report.RangeToday)
	require.NoError(t, err)
	summary, err := reports.GetReport(ctx, "shop-1", r)
	require.NoError(t, err)
	require.InDelta(t, 75.0, summary.Sales.TotalRevenue, 1e-9)
	require.Equal(t, 53.33, summary.Sales.ProfitMargin)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Catalog().Create(ctx, ledger.Product{
		ID: "p1", ShopID: "shop-1", Name: "Oil", Unit: "l", Stock: 5, CostPrice: 2, Active: true, CreatedAt: now, UpdatedAt: now,
	}))
	svc := ledger.NewService(store.Ledger(), ledger.Deps{}, ledger.ServiceConfig{TxAttempts: 20})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordSale(ctx, ledger.SaleInput{
				ShopID: "shop-1",
				Items:  []ledger.SaleItemInput{{ProductID: "p1", Quantity: 1, SellingPrice: 4}},
				Note:   fmt.Sprintf("sale %d", i),
			})
			if err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	p, err := store.Catalog().Get(ctx, "shop-1", "p1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, p.Stock, 0.0)
	require.InDelta(t, float64(5-sold), p.Stock, 1e-9)
}
