package catalog

import (
	"fmt"
	"strings"

	"github.com/shopledger/shopledger/internal/shared"
)

// DefaultLowStockThreshold applies when a product is created without a threshold.
const DefaultLowStockThreshold = 10

var (
	// ErrProductNotFound indicates the product does not exist in the shop.
	ErrProductNotFound = fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	// ErrDuplicateName indicates another product of the shop already uses the name.
	ErrDuplicateName = fmt.Errorf("catalog: product name already exists: %w", shared.ErrDuplicate)
)

// CreateInput describes a new catalog product. Stock and cost start at zero and
// only move through purchases and sales.
type CreateInput struct {
	ShopID            string
	Name              string
	Description       string
	CategoryID        string
	Unit              string
	SellingPrice      float64
	LowStockThreshold *float64
	ActorID           string
}

// Validate checks field constraints.
func (in *CreateInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Unit = strings.TrimSpace(in.Unit)
	if strings.TrimSpace(in.ShopID) == "" {
		return shared.NewValidationError("shop_id", "shop is required")
	}
	if err := validateName(in.Name); err != nil {
		return err
	}
	if err := validateUnit(in.Unit); err != nil {
		return err
	}
	if len(in.Description) > 500 {
		return shared.NewValidationError("description", "description cannot exceed 500 characters")
	}
	if in.SellingPrice < 0 {
		return shared.NewValidationError("selling_price", "selling price cannot be negative")
	}
	if in.LowStockThreshold != nil && *in.LowStockThreshold < 0 {
		return shared.NewValidationError("low_stock_threshold", "low stock threshold cannot be negative")
	}
	return nil
}

// UpdateInput carries optional field changes; nil fields are left untouched.
type UpdateInput struct {
	Name              *string
	Description       *string
	CategoryID        *string
	Unit              *string
	SellingPrice      *float64
	LowStockThreshold *float64
	Active            *bool
	ActorID           string
}

// Validate checks the provided fields.
func (in *UpdateInput) Validate() error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
		if err := validateName(name); err != nil {
			return err
		}
	}
	if in.Unit != nil {
		unit := strings.TrimSpace(*in.Unit)
		in.Unit = &unit
		if err := validateUnit(unit); err != nil {
			return err
		}
	}
	if in.Description != nil && len(*in.Description) > 500 {
		return shared.NewValidationError("description", "description cannot exceed 500 characters")
	}
	if in.SellingPrice != nil && *in.SellingPrice < 0 {
		return shared.NewValidationError("selling_price", "selling price cannot be negative")
	}
	if in.LowStockThreshold != nil && *in.LowStockThreshold < 0 {
		return shared.NewValidationError("low_stock_threshold", "low stock threshold cannot be negative")
	}
	return nil
}

func validateName(name string) error {
	if n := len([]rune(name)); n < 2 || n > 100 {
		return shared.NewValidationError("name", "product name must be between 2 and 100 characters")
	}
	return nil
}

func validateUnit(unit string) error {
	if n := len([]rune(unit)); n < 1 || n > 20 {
		return shared.NewValidationError("unit", "unit must be between 1 and 20 characters")
	}
	return nil
}

// Filter scopes product listings.
type Filter struct {
	ShopID     string
	Search     string
	CategoryID string
	Active     *bool
	LowStock   bool
	Page       int
	Limit      int
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
