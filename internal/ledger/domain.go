package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopledger/shopledger/internal/shared"
)

// DiscountType enumerates how a sale discount is interpreted.
type DiscountType string

const (
	// DiscountFixed subtracts the discount as an absolute amount.
	DiscountFixed DiscountType = "fixed"
	// DiscountPercentage subtracts the discount as a percentage of the total amount.
	DiscountPercentage DiscountType = "percentage"
)

// MaxNoteLength bounds free-text notes on ledger records.
const MaxNoteLength = 500

// Product is the ledger view of a catalog item: the unit of truth for stock and cost.
type Product struct {
	ID                string    `json:"id"`
	ShopID            string    `json:"shop_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	CategoryID        string    `json:"category_id,omitempty"`
	Unit              string    `json:"unit"`
	Stock             float64   `json:"stock"`
	CostPrice         float64   `json:"cost_price"`
	SellingPrice      float64   `json:"selling_price"`
	LowStockThreshold float64   `json:"low_stock_threshold"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsLowStock reports whether stock sits at or below the alert threshold.
func (p Product) IsLowStock() bool {
	return p.Stock <= p.LowStockThreshold
}

// PurchaseItem is one stock inflow line with its computed costs.
type PurchaseItem struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Quantity      float64 `json:"quantity"`
	PricePerUnit  float64 `json:"price_per_unit"`
	Subtotal      float64 `json:"subtotal"`
	TransportCost float64 `json:"transport_cost"`
	CostPerUnit   float64 `json:"cost_per_unit"`
}

// Purchase is an immutable stock-in record.
type Purchase struct {
	ID                 string         `json:"id"`
	ShopID             string         `json:"shop_id"`
	SupplierID         string         `json:"supplier_id,omitempty"`
	InvoiceNumber      string         `json:"invoice_number"`
	Items              []PurchaseItem `json:"items"`
	TotalAmount        float64        `json:"total_amount"`
	TotalTransportCost float64        `json:"total_transport_cost"`
	GrandTotal         float64        `json:"grand_total"`
	Note               string         `json:"note,omitempty"`
	PurchasedAt        time.Time      `json:"purchased_at"`
	CreatedAt          time.Time      `json:"created_at"`
}

// SaleItem is one stock outflow line with the cost snapshot taken at sale time.
type SaleItem struct {
	ProductID    string  `json:"product_id"`
	ProductName  string  `json:"product_name"`
	Quantity     float64 `json:"quantity"`
	SellingPrice float64 `json:"selling_price"`
	CostPrice    float64 `json:"cost_price"`
	Subtotal     float64 `json:"subtotal"`
	Profit       float64 `json:"profit"`
}

// Cost returns the quantity weighted cost snapshot of the line.
func (i SaleItem) Cost() float64 {
	return i.Quantity * i.CostPrice
}

// Sale is an immutable stock-out record.
type Sale struct {
	ID             string       `json:"id"`
	ShopID         string       `json:"shop_id"`
	InvoiceNumber  string       `json:"invoice_number"`
	Items          []SaleItem   `json:"items"`
	TotalAmount    float64      `json:"total_amount"`
	TotalCost      float64      `json:"total_cost"`
	Discount       float64      `json:"discount"`
	DiscountType   DiscountType `json:"discount_type"`
	DiscountAmount float64      `json:"discount_amount"`
	GrandTotal     float64      `json:"grand_total"`
	TotalProfit    float64      `json:"total_profit"`
	Note           string       `json:"note,omitempty"`
	SoldAt         time.Time    `json:"sold_at"`
	CreatedAt      time.Time    `json:"created_at"`
}

// PurchaseItemInput is one requested purchase line.
type PurchaseItemInput struct {
	ProductID    string
	Quantity     float64
	PricePerUnit float64
}

// PurchaseInput describes a RecordPurchase request.
type PurchaseInput struct {
	ShopID        string
	SupplierID    string
	Items         []PurchaseItemInput
	TransportCost float64
	Note          string
	PurchasedAt   time.Time
	ActorID       string

	// IdempotencyKey, when set, rejects a replay of the same request with ErrDuplicate.
	IdempotencyKey string
}

// Validate checks the request before any product is resolved.
func (in PurchaseInput) Validate() error {
	if strings.TrimSpace(in.ShopID) == "" {
		return shared.NewValidationError("shop_id", "shop is required")
	}
	if len(in.Items) == 0 {
		return shared.NewValidationError("items", "at least one item is required")
	}
	for i, item := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			return shared.NewValidationError(field+".product_id", "product is required")
		}
		if !(item.Quantity > 0) {
			return shared.NewValidationError(field+".quantity", "quantity must be greater than 0")
		}
		if item.PricePerUnit < 0 {
			return shared.NewValidationError(field+".price_per_unit", "price cannot be negative")
		}
	}
	if in.TransportCost < 0 {
		return shared.NewValidationError("transport_cost", "transport cost cannot be negative")
	}
	if len(in.Note) > MaxNoteLength {
		return shared.NewValidationError("note", "note cannot exceed 500 characters")
	}
	return nil
}

// SaleItemInput is one requested sale line.
type SaleItemInput struct {
	ProductID    string
	Quantity     float64
	SellingPrice float64
}

// SaleInput describes a RecordSale request.
type SaleInput struct {
	ShopID       string
	Items        []SaleItemInput
	Discount     float64
	DiscountType DiscountType
	Note         string
	SoldAt       time.Time
	ActorID      string

	// IdempotencyKey, when set, rejects a replay of the same request with ErrDuplicate.
	IdempotencyKey string
}

// Validate checks the request before any product is resolved.
func (in SaleInput) Validate() error {
	if strings.TrimSpace(in.ShopID) == "" {
		return shared.NewValidationError("shop_id", "shop is required")
	}
	if len(in.Items) == 0 {
		return shared.NewValidationError("items", "at least one item is required")
	}
	for i, item := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			return shared.NewValidationError(field+".product_id", "product is required")
		}
		if !(item.Quantity > 0) {
			return shared.NewValidationError(field+".quantity", "quantity must be greater than 0")
		}
		if item.SellingPrice < 0 {
			return shared.NewValidationError(field+".selling_price", "selling price cannot be negative")
		}
	}
	if in.Discount < 0 {
		return shared.NewValidationError("discount", "discount cannot be negative")
	}
	switch in.DiscountType {
	case "", DiscountFixed, DiscountPercentage:
	default:
		return shared.NewValidationError("discount_type", "discount type must be fixed or percentage")
	}
	if len(in.Note) > MaxNoteLength {
		return shared.NewValidationError("note", "note cannot exceed 500 characters")
	}
	return nil
}

// ListFilter scopes purchase and sale listings.
type ListFilter struct {
	ShopID     string
	SupplierID string
	From       time.Time
	To         time.Time
	Page       int
	Limit      int
	SortAsc    bool
}

// Normalize applies paging defaults: page 1, limit 20, limit capped at 100.
func (f ListFilter) Normalize() ListFilter {
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
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// InsufficientStockError names the product that cannot satisfy a sale line.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   float64
	Requested   float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for '%s'. Available: %s", e.ProductName, formatQty(e.Available))
}

// Is reports shared.ErrInsufficientStock so callers can match the kind.
func (e *InsufficientStockError) Is(target error) bool {
	return target == shared.ErrInsufficientStock
}

var (
	// ErrProductsNotFound indicates at least one referenced product is missing from the shop.
	ErrProductsNotFound = fmt.Errorf("ledger: one or more products not found in your shop: %w", shared.ErrValidation)
	// ErrDiscountExceedsTotal indicates the discount is larger than the sale total.
	ErrDiscountExceedsTotal = fmt.Errorf("ledger: discount cannot exceed total amount: %w", shared.ErrValidation)
	// ErrPurchaseNotFound indicates the purchase does not exist in the shop.
	ErrPurchaseNotFound = fmt.Errorf("ledger: purchase %w", shared.ErrNotFound)
	// ErrSaleNotFound indicates the sale does not exist in the shop.
	ErrSaleNotFound = fmt.Errorf("ledger: sale %w", shared.ErrNotFound)
)

// ErrStockGuard is returned by a guarded decrement that matched no row.
var ErrStockGuard = errors.New("ledger: stock guard rejected decrement")
