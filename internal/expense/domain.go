package expense

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopledger/shopledger/internal/shared"
)

// ErrExpenseNotFound indicates the expense does not exist in the shop.
var ErrExpenseNotFound = fmt.Errorf("expense: %w", shared.ErrNotFound)

// Expense is an operating cost of the shop, independent of stock.
type Expense struct {
	ID          string    `json:"id"`
	ShopID      string    `json:"shop_id"`
	Title       string    `json:"title"`
	Amount      float64   `json:"amount"`
	Category    string    `json:"category"`
	Note        string    `json:"note,omitempty"`
	ExpenseDate time.Time `json:"expense_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateInput describes a new expense.
type CreateInput struct {
	ShopID      string
	Title       string
	Amount      float64
	Category    string
	Note        string
	ExpenseDate time.Time
	ActorID     string
}

// Validate trims and checks field constraints.
func (in *CreateInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Note = strings.TrimSpace(in.Note)
	if strings.TrimSpace(in.ShopID) == "" {
		return shared.NewValidationError("shop_id", "shop is required")
	}
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if in.Amount < 0 {
		return shared.NewValidationError("amount", "amount cannot be negative")
	}
	if err := validateCategory(in.Category); err != nil {
		return err
	}
	return validateNote(in.Note)
}

// UpdateInput carries optional field changes.
type UpdateInput struct {
	Title       *string
	Amount      *float64
	Category    *string
	Note        *string
	ExpenseDate *time.Time
	ActorID     string
}

// Apply validates the changes and merges them into e.
func (in UpdateInput) Apply(e *Expense) error {
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := validateTitle(title); err != nil {
			return err
		}
		e.Title = title
	}
	if in.Amount != nil {
		if *in.Amount < 0 {
			return shared.NewValidationError("amount", "amount cannot be negative")
		}
		e.Amount = *in.Amount
	}
	if in.Category != nil {
		category := strings.TrimSpace(*in.Category)
		if err := validateCategory(category); err != nil {
			return err
		}
		e.Category = category
	}
	if in.Note != nil {
		note := strings.TrimSpace(*in.Note)
		if err := validateNote(note); err != nil {
			return err
		}
		e.Note = note
	}
	if in.ExpenseDate != nil && !in.ExpenseDate.IsZero() {
		e.ExpenseDate = in.ExpenseDate.UTC()
	}
	return nil
}

func validateTitle(title string) error {
	if n := len([]rune(title)); n < 2 || n > 100 {
		return shared.NewValidationError("title", "title must be between 2 and 100 characters")
	}
	return nil
}

func validateCategory(category string) error {
	if n := len([]rune(category)); n < 1 || n > 50 {
		return shared.NewValidationError("category", "category must be between 1 and 50 characters")
	}
	return nil
}

func validateNote(note string) error {
	if len([]rune(note)) > 500 {
		return shared.NewValidationError("note", "note cannot exceed 500 characters")
	}
	return nil
}

// Filter scopes expense listings.
type Filter struct {
	ShopID   string
	Category string
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

// Normalize applies paging defaults: page 1, limit 20, limit capped at 100.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

// Offset returns the number of rows to skip.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// CategoryTotal aggregates the expenses of one category.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// Summary groups expenses of a period by category, largest first.
type Summary struct {
	ByCategory []CategoryTotal `json:"by_category"`
	GrandTotal float64         `json:"grand_total"`
}

// Summarize groups expenses by category ordered by descending total.
func Summarize(expenses []Expense) Summary {
	index := map[string]int{}
	summary := Summary{ByCategory: []CategoryTotal{}}
	for _, e := range expenses {
		i, ok := index[e.Category]
		if !ok {
			i = len(summary.ByCategory)
			index[e.Category] = i
			summary.ByCategory = append(summary.ByCategory, CategoryTotal{Category: e.Category})
		}
		summary.ByCategory[i].Total += e.Amount
		summary.ByCategory[i].Count++
		summary.GrandTotal += e.Amount
	}
	sortByTotal(summary.ByCategory)
	return summary
}

func sortByTotal(totals []CategoryTotal) {
	slices.SortStableFunc(totals, func(a, b CategoryTotal) int {
		return cmp.Compare(b.Total, a.Total)
	})
}
