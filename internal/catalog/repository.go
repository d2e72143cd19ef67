package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/platform/db"
	"github.com/shopledger/shopledger/internal/shared"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a product. A case-insensitive unique index guards the name.
func (r *Repository) Create(ctx context.Context, p ledger.Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products (`+ledger.ProductColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.ShopID, p.Name, p.Description, p.CategoryID, p.Unit, p.Stock, p.CostPrice,
		p.SellingPrice, p.LowStockThreshold, p.Active, p.CreatedAt, p.UpdatedAt)
	return db.Classify(err)
}

// Get loads a product by id.
func (r *Repository) Get(ctx context.Context, shopID, id string) (ledger.Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ledger.ProductColumns+` FROM products WHERE shop_id=$1 AND id=$2`, shopID, id)
	return scanOne(row)
}

// FindByName loads a product by case-insensitive name.
func (r *Repository) FindByName(ctx context.Context, shopID, name string) (ledger.Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ledger.ProductColumns+` FROM products WHERE shop_id=$1 AND lower(name)=lower($2)`, shopID, name)
	return scanOne(row)
}

// List returns a filtered page of products, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]ledger.Product, int, error) {
	clauses := []string{"shop_id=$1"}
	args := []any{filter.ShopID}
	if filter.Search != "" {
		args = append(args, filter.Search)
		clauses = append(clauses, fmt.Sprintf("name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		clauses = append(clauses, fmt.Sprintf("category_id=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("is_active=$%d", len(args)))
	}
	if filter.LowStock {
		clauses = append(clauses, "stock <= low_stock_threshold")
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		ledger.ProductColumns, where, filter.Limit, filter.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	products, err := scanAll(rows)
	return products, total, err
}

// Update writes the descriptive fields. Stock and cost are owned by the ledger.
func (r *Repository) Update(ctx context.Context, p ledger.Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET name=$1, description=$2, category_id=$3, unit=$4, selling_price=$5,
low_stock_threshold=$6, is_active=$7, updated_at=$8 WHERE shop_id=$9 AND id=$10`,
		p.Name, p.Description, p.CategoryID, p.Unit, p.SellingPrice, p.LowStockThreshold, p.Active, p.UpdatedAt, p.ShopID, p.ID)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// LowStock lists active products at or below threshold.
func (r *Repository) LowStock(ctx context.Context, shopID string) ([]ledger.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ledger.ProductColumns+` FROM products
WHERE shop_id=$1 AND is_active AND stock <= low_stock_threshold ORDER BY stock ASC, name`, shopID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

// ShopIDs lists shops owning an active product.
func (r *Repository) ShopIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT shop_id FROM products WHERE is_active ORDER BY shop_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanOne(row pgx.Row) (ledger.Product, error) {
	p, err := ledger.ScanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Product{}, shared.ErrNotFound
		}
		return ledger.Product{}, err
	}
	return p, nil
}

func scanAll(rows pgx.Rows) ([]ledger.Product, error) {
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
