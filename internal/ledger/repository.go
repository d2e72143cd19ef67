package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopledger/shopledger/internal/platform/db"
	"github.com/shopledger/shopledger/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// ProductColumns lists the product columns in scan order.
const ProductColumns = `id, shop_id, name, description, category_id, unit, stock, cost_price, selling_price, low_stock_threshold, is_active, created_at, updated_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (t *txRepository) LockProducts(ctx context.Context, shopID string, ids []string, activeOnly bool) ([]Product, error) {
	query := `SELECT ` + ProductColumns + ` FROM products WHERE shop_id=$1 AND id = ANY($2)`
	if activeOnly {
		query += ` AND is_active`
	}
	// Lock in id order so concurrent writers acquire rows identically.
	query += ` ORDER BY id FOR UPDATE`
	rows, err := t.tx.Query(ctx, query, shopID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make([]Product, 0, len(ids))
	for rows.Next() {
		p, err := ScanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (t *txRepository) InsertPurchase(ctx context.Context, p Purchase) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchases (id, shop_id, supplier_id, invoice_number, total_amount, total_transport_cost, grand_total, note, purchased_at, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.ShopID, p.SupplierID, p.InvoiceNumber, p.TotalAmount, p.TotalTransportCost, p.GrandTotal, p.Note, p.PurchasedAt, p.CreatedAt)
	if err != nil {
		return err
	}
	for i, item := range p.Items {
		_, err := t.tx.Exec(ctx, `INSERT INTO purchase_items (purchase_id, line_no, product_id, product_name, quantity, price_per_unit, subtotal, transport_cost, cost_per_unit)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.PricePerUnit, item.Subtotal, item.TransportCost, item.CostPerUnit)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) InsertSale(ctx context.Context, s Sale) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO sales (id, shop_id, invoice_number, total_amount, total_cost, discount, discount_type, discount_amount, grand_total, total_profit, note, sold_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.ShopID, s.InvoiceNumber, s.TotalAmount, s.TotalCost, s.Discount, string(s.DiscountType), s.DiscountAmount, s.GrandTotal, s.TotalProfit, s.Note, s.SoldAt, s.CreatedAt)
	if err != nil {
		return err
	}
	for i, item := range s.Items {
		_, err := t.tx.Exec(ctx, `INSERT INTO sale_items (sale_id, line_no, product_id, product_name, quantity, selling_price, cost_price, subtotal, profit)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.SellingPrice, item.CostPrice, item.Subtotal, item.Profit)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) ApplyInbound(ctx context.Context, prev Product, qty, newCost float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $1, cost_price = $2, updated_at = NOW() WHERE shop_id=$3 AND id=$4`,
		qty, newCost, prev.ShopID, prev.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductsNotFound
	}
	return nil
}

func (t *txRepository) DecrementStock(ctx context.Context, shopID, productID string, qty float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE shop_id=$2 AND id=$3 AND stock >= $1`,
		qty, shopID, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockGuard
	}
	return nil
}

// ListPurchases returns a filtered page of purchases with their items.
func (r *Repository) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	where, args := rangeClause("purchased_at", filter)
	if filter.SupplierID != "" {
		args = append(args, filter.SupplierID)
		where += fmt.Sprintf(" AND supplier_id=$%d", len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT id, shop_id, COALESCE(supplier_id, ''), invoice_number, total_amount, total_transport_cost, grand_total, note, purchased_at, created_at
FROM purchases WHERE %s ORDER BY purchased_at %s, id LIMIT %d OFFSET %d`, where, direction(filter.SortAsc), filter.Limit, filter.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	purchases := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadPurchaseItems(ctx, purchases); err != nil {
		return nil, 0, err
	}
	return purchases, total, nil
}

// GetPurchase loads a single purchase with its items.
func (r *Repository) GetPurchase(ctx context.Context, shopID, id string) (Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, shop_id, COALESCE(supplier_id, ''), invoice_number, total_amount, total_transport_cost, grand_total, note, purchased_at, created_at
FROM purchases WHERE shop_id=$1 AND id=$2`, shopID, id)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, shared.ErrNotFound
		}
		return Purchase{}, err
	}
	list := []Purchase{p}
	if err := r.loadPurchaseItems(ctx, list); err != nil {
		return Purchase{}, err
	}
	return list[0], nil
}

// ListSales returns a filtered page of sales with their items.
func (r *Repository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	where, args := rangeClause("sold_at", filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT `+saleColumns+` FROM sales WHERE %s ORDER BY sold_at %s, id LIMIT %d OFFSET %d`,
		where, direction(filter.SortAsc), filter.Limit, filter.Offset())
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	sales := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := LoadSaleItems(ctx, r.pool, sales); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

// GetSale loads a single sale with its items.
func (r *Repository) GetSale(ctx context.Context, shopID, id string) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE shop_id=$1 AND id=$2`, shopID, id)
	s, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, shared.ErrNotFound
		}
		return Sale{}, err
	}
	list := []Sale{s}
	if err := LoadSaleItems(ctx, r.pool, list); err != nil {
		return Sale{}, err
	}
	return list[0], nil
}

func (r *Repository) loadPurchaseItems(ctx context.Context, purchases []Purchase) error {
	if len(purchases) == 0 {
		return nil
	}
	ids := make([]string, len(purchases))
	pos := make(map[string]int, len(purchases))
	for i, p := range purchases {
		ids[i] = p.ID
		pos[p.ID] = i
	}
	rows, err := r.pool.Query(ctx, `SELECT purchase_id, product_id, product_name, quantity, price_per_unit, subtotal, transport_cost, cost_per_unit
FROM purchase_items WHERE purchase_id = ANY($1) ORDER BY purchase_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var purchaseID string
		var item PurchaseItem
		if err := rows.Scan(&purchaseID, &item.ProductID, &item.ProductName, &item.Quantity, &item.PricePerUnit, &item.Subtotal, &item.TransportCost, &item.CostPerUnit); err != nil {
			return err
		}
		i := pos[purchaseID]
		purchases[i].Items = append(purchases[i].Items, item)
	}
	return rows.Err()
}

const saleColumns = `id, shop_id, invoice_number, total_amount, total_cost, discount, discount_type, discount_amount, grand_total, total_profit, note, sold_at, created_at`

// SaleQuery selects sales of a shop between two instants, ordered by sale time.
const SaleQuery = `SELECT ` + saleColumns + ` FROM sales WHERE shop_id=$1 AND sold_at BETWEEN $2 AND $3 ORDER BY sold_at, id`

// LoadSaleItems attaches line items to the given sales.
func LoadSaleItems(ctx context.Context, q Querier, sales []Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, len(sales))
	pos := make(map[string]int, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
		pos[s.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT sale_id, product_id, product_name, quantity, selling_price, cost_price, subtotal, profit
FROM sale_items WHERE sale_id = ANY($1) ORDER BY sale_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var saleID string
		var item SaleItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.SellingPrice, &item.CostPrice, &item.Subtotal, &item.Profit); err != nil {
			return err
		}
		i := pos[saleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return rows.Err()
}

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ScanSales reads rows produced by SaleQuery.
func ScanSales(rows pgx.Rows) ([]Sale, error) {
	defer rows.Close()
	sales := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// ScanProduct reads a row selected with ProductColumns.
func ScanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.Description, &p.CategoryID, &p.Unit, &p.Stock, &p.CostPrice,
		&p.SellingPrice, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.ShopID, &p.SupplierID, &p.InvoiceNumber, &p.TotalAmount, &p.TotalTransportCost, &p.GrandTotal, &p.Note, &p.PurchasedAt, &p.CreatedAt)
	return p, err
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var discountType string
	err := row.Scan(&s.ID, &s.ShopID, &s.InvoiceNumber, &s.TotalAmount, &s.TotalCost, &s.Discount, &discountType, &s.DiscountAmount, &s.GrandTotal, &s.TotalProfit, &s.Note, &s.SoldAt, &s.CreatedAt)
	s.DiscountType = DiscountType(discountType)
	return s, err
}

func rangeClause(column string, filter ListFilter) (string, []any) {
	clauses := []string{"shop_id=$1"}
	args := []any{filter.ShopID}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func direction(asc bool) string {
	if asc {
		return "ASC"
	}
	return "DESC"
}

// EndOfDay returns the last instant of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
