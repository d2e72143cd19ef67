package ledger

import (
	"context"
	"time"
)

// LowStockEvent is emitted when a sale leaves a product at or below its threshold.
type LowStockEvent struct {
	ShopID        string    `json:"shop_id"`
	ProductID     string    `json:"product_id"`
	ProductName   string    `json:"product_name"`
	Stock         float64   `json:"stock"`
	Threshold     float64   `json:"threshold"`
	InvoiceNumber string    `json:"invoice_number"`
	At            time.Time `json:"at"`
}

// IntegrationHandler receives ledger events for downstream processing.
type IntegrationHandler interface {
	HandleLowStock(ctx context.Context, evt LowStockEvent) error
}
