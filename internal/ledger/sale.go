package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopledger/shopledger/internal/shared"
)

const moduleSale = "sale"

// RecordSale books a stock outflow. Every line is checked against current stock
// before anything is written; the sale record and all stock decrements commit together.
// Sales never touch the average cost; each line snapshots it instead.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (Sale, error) {
	if err := input.Validate(); err != nil {
		return Sale{}, err
	}
	if input.DiscountType == "" {
		input.DiscountType = DiscountFixed
	}
	now := s.clock()
	soldAt := input.SoldAt
	if soldAt.IsZero() {
		soldAt = now
	}

	requested := make(map[string]float64, len(input.Items))
	ids := make([]string, 0, len(input.Items))
	for _, item := range input.Items {
		requested[item.ProductID] += item.Quantity
		ids = append(ids, item.ProductID)
	}
	ids = uniqueIDs(ids)

	key, err := s.claimIdempotency(ctx, moduleSale, input.ShopID, input.IdempotencyKey)
	if err != nil {
		return Sale{}, err
	}

	var (
		sale     Sale
		lowStock []LowStockEvent
	)
	invoice, err := s.runAtomic(ctx, moduleSale, salePrefix, now, func(ctx context.Context, tx TxRepository, invoice string) error {
		products, err := tx.LockProducts(ctx, input.ShopID, ids, true)
		if err != nil {
			return err
		}
		if len(products) != len(ids) {
			return ErrProductsNotFound
		}
		state := indexProducts(products)

		for _, id := range ids {
			p := state[id]
			if p.Stock < requested[id] {
				return &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Available: p.Stock, Requested: requested[id]}
			}
		}

		record, err := priceSale(input, state)
		if err != nil {
			return err
		}
		record.ID = newID()
		record.InvoiceNumber = invoice
		record.SoldAt = soldAt
		record.CreatedAt = now
		if err := tx.InsertSale(ctx, record); err != nil {
			return err
		}

		for _, item := range record.Items {
			if err := tx.DecrementStock(ctx, input.ShopID, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, ErrStockGuard) {
					p := state[item.ProductID]
					return &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Available: p.Stock, Requested: requested[p.ID]}
				}
				return err
			}
		}

		lowStock = lowStock[:0]
		for _, id := range ids {
			p := state[id]
			remaining := p.Stock - requested[id]
			if remaining <= p.LowStockThreshold {
				lowStock = append(lowStock, LowStockEvent{
					ShopID:      p.ShopID,
					ProductID:   p.ID,
					ProductName: p.Name,
					Stock:       remaining,
					Threshold:   p.LowStockThreshold,
					At:          now,
				})
			}
		}
		sale = record
		return nil
	})
	if err != nil {
		s.releaseIdempotency(ctx, key)
		s.metrics.Failed(moduleSale, err)
		if shared.IsDomainError(err) {
			return Sale{}, err
		}
		s.logger.Error("record sale", slog.String("shop_id", input.ShopID), slog.Any("error", err))
		return Sale{}, shared.WrapStore("ledger: record sale", err)
	}
	sale.InvoiceNumber = invoice

	s.metrics.Committed(moduleSale, sale.GrandTotal)
	s.logger.Info("sale recorded",
		slog.String("shop_id", sale.ShopID),
		slog.String("invoice", sale.InvoiceNumber),
		slog.Int("items", len(sale.Items)),
		slog.Float64("grand_total", sale.GrandTotal))
	s.afterCommit(ctx, "SALE_CREATE", sale.ShopID, sale.ID, input.ActorID, map[string]any{
		"invoice_number": sale.InvoiceNumber,
		"grand_total":    sale.GrandTotal,
		"total_profit":   sale.TotalProfit,
	})
	s.publishLowStock(ctx, sale.InvoiceNumber, lowStock)
	return sale, nil
}

// priceSale builds the sale lines and totals from the locked product state.
func priceSale(input SaleInput, products map[string]Product) (Sale, error) {
	sale := Sale{
		ShopID:       input.ShopID,
		Discount:     input.Discount,
		DiscountType: input.DiscountType,
		Note:         input.Note,
		Items:        make([]SaleItem, len(input.Items)),
	}
	for i, in := range input.Items {
		p := products[in.ProductID]
		subtotal := in.Quantity * in.SellingPrice
		cost := in.Quantity * p.CostPrice
		sale.Items[i] = SaleItem{
			ProductID:    p.ID,
			ProductName:  p.Name,
			Quantity:     in.Quantity,
			SellingPrice: in.SellingPrice,
			CostPrice:    p.CostPrice,
			Subtotal:     subtotal,
			Profit:       subtotal - cost,
		}
		sale.TotalAmount += subtotal
		sale.TotalCost += cost
	}
	sale.DiscountAmount = DiscountAmount(sale.TotalAmount, input.Discount, input.DiscountType)
	if sale.DiscountAmount > sale.TotalAmount {
		return Sale{}, ErrDiscountExceedsTotal
	}
	sale.GrandTotal = sale.TotalAmount - sale.DiscountAmount
	sale.TotalProfit = sale.GrandTotal - sale.TotalCost
	return sale, nil
}

func (s *Service) publishLowStock(ctx context.Context, invoice string, events []LowStockEvent) {
	if s.integration == nil {
		return
	}
	for _, evt := range events {
		evt.InvoiceNumber = invoice
		if err := s.integration.HandleLowStock(ctx, evt); err != nil {
			s.logger.Warn("publish low stock", slog.String("product_id", evt.ProductID), slog.Any("error", err))
		}
	}
}
