package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/shopledger/shopledger/internal/app"
	"github.com/shopledger/shopledger/internal/catalog"
	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/shared"
)

// Seeds a demo shop through the services so stock and cost follow the normal ledger rules.
func main() {
	shopID := flag.String("shop", "demo-shop", "shop id to seed")
	days := flag.Int("days", 14, "days of sales history")
	flag.Parse()

	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer func() { _ = backend.Close(ctx) }()

	catalogSvc := catalog.NewService(backend.Catalog, backend.Audit, nil, logger)
	ledgerSvc := ledger.NewService(backend.Ledger, ledger.Deps{Audit: backend.Audit, Logger: logger}, ledger.ServiceConfig{})
	expenseSvc := expense.NewService(backend.Expenses, backend.Audit, nil, logger)

	fmt.Println("→ Seeding products...")
	products, err := seedProducts(ctx, catalogSvc, *shopID)
	if err != nil {
		log.Fatalf("seed products: %v", err)
	}

	start := time.Now().AddDate(0, 0, -*days)
	fmt.Println("→ Seeding purchases...")
	if err := seedPurchases(ctx, ledgerSvc, *shopID, products, start); err != nil {
		log.Fatalf("seed purchases: %v", err)
	}

	fmt.Println("→ Seeding sales...")
	if err := seedSales(ctx, ledgerSvc, *shopID, products, start, *days); err != nil {
		log.Fatalf("seed sales: %v", err)
	}

	fmt.Println("→ Seeding expenses...")
	if err := seedExpenses(ctx, expenseSvc, *shopID, start, *days); err != nil {
		log.Fatalf("seed expenses: %v", err)
	}

	logger.Info("seed complete", slog.String("shop_id", *shopID), slog.String("store", backend.Driver))
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

type demoProduct struct {
	name      string
	unit      string
	price     float64
	buyPrice  float64
	buyQty    float64
	threshold float64
}

var demoProducts = []demoProduct{
	{name: "Beras 5kg", unit: "sak", price: 78000, buyPrice: 65000, buyQty: 40, threshold: 5},
	{name: "Minyak Goreng 1L", unit: "botol", price: 19000, buyPrice: 15500, buyQty: 60, threshold: 10},
	{name: "Gula Pasir 1kg", unit: "kg", price: 17500, buyPrice: 14000, buyQty: 50, threshold: 8},
	{name: "Kopi Bubuk 200g", unit: "bungkus", price: 24000, buyPrice: 18000, buyQty: 30, threshold: 6},
	{name: "Teh Celup", unit: "kotak", price: 8500, buyPrice: 6000, buyQty: 45, threshold: 10},
}

func seedProducts(ctx context.Context, svc *catalog.Service, shopID string) ([]ledger.Product, error) {
	out := make([]ledger.Product, 0, len(demoProducts))
	for _, d := range demoProducts {
		threshold := d.threshold
		p, err := svc.Create(ctx, catalog.CreateInput{
			ShopID:            shopID,
			Name:              d.name,
			Unit:              d.unit,
			SellingPrice:      d.price,
			LowStockThreshold: &threshold,
			ActorID:           "seed",
		})
		if errors.Is(err, shared.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func seedPurchases(ctx context.Context, svc *ledger.Service, shopID string, products []ledger.Product, at time.Time) error {
	if len(products) == 0 {
		return nil
	}
	items := make([]ledger.PurchaseItemInput, 0, len(products))
	for i, p := range products {
		d := demoProducts[i%len(demoProducts)]
		items = append(items, ledger.PurchaseItemInput{ProductID: p.ID, Quantity: d.buyQty, PricePerUnit: d.buyPrice})
	}
	_, err := svc.RecordPurchase(ctx, ledger.PurchaseInput{
		ShopID:        shopID,
		SupplierID:    "grosir-utama",
		Items:         items,
		TransportCost: 150000,
		Note:          "opening stock",
		PurchasedAt:   at,
		ActorID:       "seed",
	})
	return err
}

func seedSales(ctx context.Context, svc *ledger.Service, shopID string, products []ledger.Product, start time.Time, days int) error {
	for day := 1; day <= days; day++ {
		for i, p := range products {
			if (day+i)%3 == 0 {
				continue
			}
			_, err := svc.RecordSale(ctx, ledger.SaleInput{
				ShopID:       shopID,
				Items:        []ledger.SaleItemInput{{ProductID: p.ID, Quantity: float64(1 + (day+i)%3), SellingPrice: p.SellingPrice}},
				Discount:     float64(day % 2 * 5),
				DiscountType: ledger.DiscountPercentage,
				SoldAt:       start.AddDate(0, 0, day),
				ActorID:      "seed",
			})
			if errors.Is(err, shared.ErrInsufficientStock) {
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func seedExpenses(ctx context.Context, svc *expense.Service, shopID string, start time.Time, days int) error {
	for day := 0; day < days; day += 7 {
		date := start.AddDate(0, 0, day)
		for _, e := range []struct {
			title    string
			category string
			amount   float64
		}{
			{"Listrik", "utilities", 250000},
			{"Kantong plastik", "supplies", 45000},
		} {
			if _, err := svc.Create(ctx, expense.CreateInput{
				ShopID:      shopID,
				Title:       e.title,
				Category:    e.category,
				Amount:      e.amount,
				ExpenseDate: date,
				ActorID:     "seed",
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
