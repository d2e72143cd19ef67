package report

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
)

// Repository reads report inputs from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the report source.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SalesBetween loads sales and their items in the window.
func (r *Repository) SalesBetween(ctx context.Context, shopID string, from, to time.Time) ([]ledger.Sale, error) {
	rows, err := r.pool.Query(ctx, ledger.SaleQuery, shopID, from, to)
	if err != nil {
		return nil, err
	}
	sales, err := ledger.ScanSales(rows)
	if err != nil {
		return nil, err
	}
	if err := ledger.LoadSaleItems(ctx, r.pool, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

// ExpensesBetween loads expenses dated in the window.
func (r *Repository) ExpensesBetween(ctx context.Context, shopID string, from, to time.Time) ([]expense.Expense, error) {
	rows, err := r.pool.Query(ctx, expense.RangeQuery, shopID, from, to)
	if err != nil {
		return nil, err
	}
	return expense.ScanExpenses(rows)
}

// ActiveProducts loads the shop's enabled products.
func (r *Repository) ActiveProducts(ctx context.Context, shopID string) ([]ledger.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ledger.ProductColumns+` FROM products WHERE shop_id=$1 AND is_active ORDER BY id`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []ledger.Product{}
	for rows.Next() {
		p, err := ledger.ScanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
