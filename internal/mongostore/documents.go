package mongostore

import (
	"strings"
	"time"

	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
)

type productDoc struct {
	ID                string    `bson:"_id"`
	ShopID            string    `bson:"shop_id"`
	Name              string    `bson:"name"`
	NameKey           string    `bson:"name_key"`
	Description       string    `bson:"description"`
	CategoryID        string    `bson:"category_id"`
	Unit              string    `bson:"unit"`
	Stock             float64   `bson:"stock"`
	CostPrice         float64   `bson:"cost_price"`
	SellingPrice      float64   `bson:"selling_price"`
	LowStockThreshold float64   `bson:"low_stock_threshold"`
	Active            bool      `bson:"is_active"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

// nameKey is the case-folded name the unique index is built on.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func fromProduct(p ledger.Product) productDoc {
	return productDoc{
		ID:                p.ID,
		ShopID:            p.ShopID,
		Name:              p.Name,
		NameKey:           nameKey(p.Name),
		Description:       p.Description,
		CategoryID:        p.CategoryID,
		Unit:              p.Unit,
		Stock:             p.Stock,
		CostPrice:         p.CostPrice,
		SellingPrice:      p.SellingPrice,
		LowStockThreshold: p.LowStockThreshold,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (d productDoc) product() ledger.Product {
	return ledger.Product{
		ID:                d.ID,
		ShopID:            d.ShopID,
		Name:              d.Name,
		Description:       d.Description,
		CategoryID:        d.CategoryID,
		Unit:              d.Unit,
		Stock:             d.Stock,
		CostPrice:         d.CostPrice,
		SellingPrice:      d.SellingPrice,
		LowStockThreshold: d.LowStockThreshold,
		Active:            d.Active,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type purchaseItemDoc struct {
	ProductID     string  `bson:"product_id"`
	ProductName   string  `bson:"product_name"`
	Quantity      float64 `bson:"quantity"`
	PricePerUnit  float64 `bson:"price_per_unit"`
	Subtotal      float64 `bson:"subtotal"`
	TransportCost float64 `bson:"transport_cost"`
	CostPerUnit   float64 `bson:"cost_per_unit"`
}

type purchaseDoc struct {
	ID                 string            `bson:"_id"`
	ShopID             string            `bson:"shop_id"`
	SupplierID         string            `bson:"supplier_id,omitempty"`
	InvoiceNumber      string            `bson:"invoice_number"`
	Items              []purchaseItemDoc `bson:"items"`
	TotalAmount        float64           `bson:"total_amount"`
	TotalTransportCost float64           `bson:"total_transport_cost"`
	GrandTotal         float64           `bson:"grand_total"`
	Note               string            `bson:"note"`
	PurchasedAt        time.Time         `bson:"purchased_at"`
	CreatedAt          time.Time         `bson:"created_at"`
}

func fromPurchase(p ledger.Purchase) purchaseDoc {
	items := make([]purchaseItemDoc, len(p.Items))
	for i, item := range p.Items {
		items[i] = purchaseItemDoc(item)
	}
	return purchaseDoc{
		ID:                 p.ID,
		ShopID:             p.ShopID,
		SupplierID:         p.SupplierID,
		InvoiceNumber:      p.InvoiceNumber,
		Items:              items,
		TotalAmount:        p.TotalAmount,
		TotalTransportCost: p.TotalTransportCost,
		GrandTotal:         p.GrandTotal,
		Note:               p.Note,
		PurchasedAt:        p.PurchasedAt,
		CreatedAt:          p.CreatedAt,
	}
}

func (d purchaseDoc) purchase() ledger.Purchase {
	items := make([]ledger.PurchaseItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = ledger.PurchaseItem(item)
	}
	return ledger.Purchase{
		ID:                 d.ID,
		ShopID:             d.ShopID,
		SupplierID:         d.SupplierID,
		InvoiceNumber:      d.InvoiceNumber,
		Items:              items,
		TotalAmount:        d.TotalAmount,
		TotalTransportCost: d.TotalTransportCost,
		GrandTotal:         d.GrandTotal,
		Note:               d.Note,
		PurchasedAt:        d.PurchasedAt,
		CreatedAt:          d.CreatedAt,
	}
}

type saleItemDoc struct {
	ProductID    string  `bson:"product_id"`
	ProductName  string  `bson:"product_name"`
	Quantity     float64 `bson:"quantity"`
	SellingPrice float64 `bson:"selling_price"`
	CostPrice    float64 `bson:"cost_price"`
	Subtotal     float64 `bson:"subtotal"`
	Profit       float64 `bson:"profit"`
}

type saleDoc struct {
	ID             string        `bson:"_id"`
	ShopID         string        `bson:"shop_id"`
	InvoiceNumber  string        `bson:"invoice_number"`
	Items          []saleItemDoc `bson:"items"`
	TotalAmount    float64       `bson:"total_amount"`
	TotalCost      float64       `bson:"total_cost"`
	Discount       float64       `bson:"discount"`
	DiscountType   string        `bson:"discount_type"`
	DiscountAmount float64       `bson:"discount_amount"`
	GrandTotal     float64       `bson:"grand_total"`
	TotalProfit    float64       `bson:"total_profit"`
	Note           string        `bson:"note"`
	SoldAt         time.Time     `bson:"sold_at"`
	CreatedAt      time.Time     `bson:"created_at"`
}

func fromSale(s ledger.Sale) saleDoc {
	items := make([]saleItemDoc, len(s.Items))
	for i, item := range s.Items {
		items[i] = saleItemDoc(item)
	}
	return saleDoc{
		ID:             s.ID,
		ShopID:         s.ShopID,
		InvoiceNumber:  s.InvoiceNumber,
		Items:          items,
		TotalAmount:    s.TotalAmount,
		TotalCost:      s.TotalCost,
		Discount:       s.Discount,
		DiscountType:   string(s.DiscountType),
		DiscountAmount: s.DiscountAmount,
		GrandTotal:     s.GrandTotal,
		TotalProfit:    s.TotalProfit,
		Note:           s.Note,
		SoldAt:         s.SoldAt,
		CreatedAt:      s.CreatedAt,
	}
}

func (d saleDoc) sale() ledger.Sale {
	items := make([]ledger.SaleItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = ledger.SaleItem(item)
	}
	return ledger.Sale{
		ID:             d.ID,
		ShopID:         d.ShopID,
		InvoiceNumber:  d.InvoiceNumber,
		Items:          items,
		TotalAmount:    d.TotalAmount,
		TotalCost:      d.TotalCost,
		Discount:       d.Discount,
		DiscountType:   ledger.DiscountType(d.DiscountType),
		DiscountAmount: d.DiscountAmount,
		GrandTotal:     d.GrandTotal,
		TotalProfit:    d.TotalProfit,
		Note:           d.Note,
		SoldAt:         d.SoldAt,
		CreatedAt:      d.CreatedAt,
	}
}

type expenseDoc struct {
	ID          string    `bson:"_id"`
	ShopID      string    `bson:"shop_id"`
	Title       string    `bson:"title"`
	Amount      float64   `bson:"amount"`
	Category    string    `bson:"category"`
	Note        string    `bson:"note"`
	ExpenseDate time.Time `bson:"expense_date"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func fromExpense(e expense.Expense) expenseDoc {
	return expenseDoc(e)
}

func (d expenseDoc) expense() expense.Expense {
	return expense.Expense(d)
}
