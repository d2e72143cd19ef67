package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
)

// DefaultTopProducts bounds the best sellers list.
const DefaultTopProducts = 5

// SalesSummary totals the sales of a window.
type SalesSummary struct {
	TotalSales    int     `json:"total_sales"`
	TotalRevenue  float64 `json:"total_revenue"`
	TotalCost     float64 `json:"total_cost"`
	TotalProfit   float64 `json:"total_profit"`
	TotalDiscount float64 `json:"total_discount"`
	ProfitMargin  float64 `json:"profit_margin"`
}

// ExpenseSummary totals the expenses of a window.
type ExpenseSummary struct {
	TotalExpenses int     `json:"total_expenses"`
	TotalAmount   float64 `json:"total_amount"`
}

// TopProduct is a best seller ranked by revenue.
type TopProduct struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	TotalQuantity float64 `json:"total_quantity"`
	TotalRevenue  float64 `json:"total_revenue"`
	TotalProfit   float64 `json:"total_profit"`
}

// ChartPoint is one calendar day of activity.
type ChartPoint struct {
	Date     string  `json:"date"`
	Revenue  float64 `json:"revenue"`
	Profit   float64 `json:"profit"`
	Sales    int     `json:"sales"`
	Expenses float64 `json:"expenses"`
}

// Summary is the financial report of a window.
type Summary struct {
	Range       DateRange      `json:"range"`
	Sales       SalesSummary   `json:"sales"`
	Expenses    ExpenseSummary `json:"expenses"`
	NetProfit   float64        `json:"net_profit"`
	TopProducts []TopProduct   `json:"top_products"`
	ChartData   []ChartPoint   `json:"chart_data"`
}

// StockOverview describes the current stock position of a shop's active products.
type StockOverview struct {
	TotalProducts   int     `json:"total_products"`
	TotalStockValue float64 `json:"total_stock_value"`
	LowStockCount   int     `json:"low_stock_count"`
	OutOfStockCount int     `json:"out_of_stock_count"`
}

// SummarizeSales totals sales. Discount sums the applied discount amounts.
func SummarizeSales(sales []ledger.Sale) SalesSummary {
	s := SalesSummary{TotalSales: len(sales)}
	for _, sale := range sales {
		s.TotalRevenue += sale.GrandTotal
		s.TotalCost += sale.TotalCost
		s.TotalProfit += sale.TotalProfit
		s.TotalDiscount += sale.DiscountAmount
	}
	s.ProfitMargin = ProfitMargin(s.TotalProfit, s.TotalRevenue)
	return s
}

// ProfitMargin returns profit as a percentage of revenue, rounded to two decimals.
func ProfitMargin(profit, revenue float64) float64 {
	if revenue == 0 {
		return 0
	}
	return decimal.NewFromFloat(profit).
		Div(decimal.NewFromFloat(revenue)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}

// SummarizeExpenses totals expenses.
func SummarizeExpenses(expenses []expense.Expense) ExpenseSummary {
	s := ExpenseSummary{TotalExpenses: len(expenses)}
	for _, e := range expenses {
		s.TotalAmount += e.Amount
	}
	return s
}

// TopProducts ranks sold products by revenue, keeping at most limit entries.
func TopProducts(sales []ledger.Sale, limit int) []TopProduct {
	index := map[string]int{}
	products := []TopProduct{}
	for _, sale := range sales {
		for _, item := range sale.Items {
			i, ok := index[item.ProductID]
			if !ok {
				i = len(products)
				index[item.ProductID] = i
				products = append(products, TopProduct{ProductID: item.ProductID, ProductName: item.ProductName})
			}
			products[i].TotalQuantity += item.Quantity
			products[i].TotalRevenue += item.Subtotal
			products[i].TotalProfit += item.Profit
		}
	}
	slices.SortStableFunc(products, func(a, b TopProduct) int {
		return cmp.Compare(b.TotalRevenue, a.TotalRevenue)
	})
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	return products
}

// ChartData buckets sales and expenses per calendar day in loc, ascending.
func ChartData(sales []ledger.Sale, expenses []expense.Expense, loc *time.Location) []ChartPoint {
	if loc == nil {
		loc = time.UTC
	}
	days := map[string]*ChartPoint{}
	day := func(t time.Time) *ChartPoint {
		key := t.In(loc).Format(time.DateOnly)
		p, ok := days[key]
		if !ok {
			p = &ChartPoint{Date: key}
			days[key] = p
		}
		return p
	}
	for _, sale := range sales {
		p := day(sale.SoldAt)
		p.Revenue += sale.GrandTotal
		p.Profit += sale.TotalProfit
		p.Sales++
	}
	for _, e := range expenses {
		day(e.ExpenseDate).Expenses += e.Amount
	}
	points := make([]ChartPoint, 0, len(days))
	for _, p := range days {
		points = append(points, *p)
	}
	slices.SortFunc(points, func(a, b ChartPoint) int { return cmp.Compare(a.Date, b.Date) })
	return points
}

// Build assembles a Summary from the raw records of a window.
func Build(r DateRange, sales []ledger.Sale, expenses []expense.Expense, loc *time.Location, top int) Summary {
	summary := Summary{
		Range:       r,
		Sales:       SummarizeSales(sales),
		Expenses:    SummarizeExpenses(expenses),
		TopProducts: TopProducts(sales, top),
		ChartData:   ChartData(sales, expenses, loc),
	}
	summary.NetProfit = summary.Sales.TotalProfit - summary.Expenses.TotalAmount
	return summary
}

// Overview computes the stock position of the given products, skipping inactive ones.
func Overview(products []ledger.Product) StockOverview {
	var o StockOverview
	for _, p := range products {
		if !p.Active {
			continue
		}
		o.TotalProducts++
		o.TotalStockValue += p.Stock * p.CostPrice
		if p.IsLowStock() {
			o.LowStockCount++
		}
		if p.Stock == 0 {
			o.OutOfStockCount++
		}
	}
	return o
}
