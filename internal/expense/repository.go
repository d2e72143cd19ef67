package expense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopledger/shopledger/internal/shared"
)

const columns = `id, shop_id, title, amount, category, note, expense_date, created_at, updated_at`

// Repository persists expenses in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an expense.
func (r *Repository) Create(ctx context.Context, e Expense) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO expenses (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ShopID, e.Title, e.Amount, e.Category, e.Note, e.ExpenseDate, e.CreatedAt, e.UpdatedAt)
	return err
}

// Get loads an expense by id.
func (r *Repository) Get(ctx context.Context, shopID, id string) (Expense, error) {
	e, err := scanExpense(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM expenses WHERE shop_id=$1 AND id=$2`, shopID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, shared.ErrNotFound
	}
	return e, err
}

// List returns a filtered page ordered by expense date, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Expense, int, error) {
	clauses := []string{"shop_id=$1"}
	args := []any{filter.ShopID}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("expense_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("expense_date <= $%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM expenses WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM expenses WHERE %s ORDER BY expense_date DESC, id LIMIT %d OFFSET %d`,
		columns, where, filter.Limit, filter.Offset()), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := ScanExpenses(rows)
	return items, total, err
}

// Update writes every mutable field.
func (r *Repository) Update(ctx context.Context, e Expense) error {
	tag, err := r.pool.Exec(ctx, `UPDATE expenses SET title=$1, amount=$2, category=$3, note=$4, expense_date=$5, updated_at=$6 WHERE shop_id=$7 AND id=$8`,
		e.Title, e.Amount, e.Category, e.Note, e.ExpenseDate, e.UpdatedAt, e.ShopID, e.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes an expense.
func (r *Repository) Delete(ctx context.Context, shopID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM expenses WHERE shop_id=$1 AND id=$2`, shopID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListRange returns every expense dated within [from, to].
func (r *Repository) ListRange(ctx context.Context, shopID string, from, to time.Time) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, RangeQuery, shopID, from, to)
	if err != nil {
		return nil, err
	}
	return ScanExpenses(rows)
}

// RangeQuery selects a shop's expenses between two instants in date order.
const RangeQuery = `SELECT ` + columns + ` FROM expenses WHERE shop_id=$1 AND expense_date BETWEEN $2 AND $3 ORDER BY expense_date, id`

// ScanExpenses reads rows selected with the expense columns.
func ScanExpenses(rows pgx.Rows) ([]Expense, error) {
	defer rows.Close()
	items := []Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func scanExpense(row pgx.Row) (Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.ShopID, &e.Title, &e.Amount, &e.Category, &e.Note, &e.ExpenseDate, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}
