package ledger

import (
	"context"
	"log/slog"

	"github.com/shopledger/shopledger/internal/shared"
)

const modulePurchase = "purchase"

// RecordPurchase books a stock inflow: it prices every line including its share of
// transport, then persists the purchase and updates stock and weighted-average cost
// of every referenced product in one unit of work.
func (s *Service) RecordPurchase(ctx context.Context, input PurchaseInput) (Purchase, error) {
	if err := input.Validate(); err != nil {
		return Purchase{}, err
	}
	now := s.clock()
	purchasedAt := input.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = now
	}

	items, totalAmount := pricePurchase(input.Items, input.TransportCost)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	ids = uniqueIDs(ids)

	key, err := s.claimIdempotency(ctx, modulePurchase, input.ShopID, input.IdempotencyKey)
	if err != nil {
		return Purchase{}, err
	}

	purchase := Purchase{
		ID:                 newID(),
		ShopID:             input.ShopID,
		SupplierID:         input.SupplierID,
		TotalAmount:        totalAmount,
		TotalTransportCost: input.TransportCost,
		GrandTotal:         totalAmount + input.TransportCost,
		Note:               input.Note,
		PurchasedAt:        purchasedAt,
		CreatedAt:          now,
	}

	invoice, err := s.runAtomic(ctx, modulePurchase, purchasePrefix, now, func(ctx context.Context, tx TxRepository, invoice string) error {
		products, err := tx.LockProducts(ctx, input.ShopID, ids, false)
		if err != nil {
			return err
		}
		if len(products) != len(ids) {
			return ErrProductsNotFound
		}
		state := indexProducts(products)

		record := purchase
		record.InvoiceNumber = invoice
		record.Items = make([]PurchaseItem, len(items))
		for i, item := range items {
			item.ProductName = state[item.ProductID].Name
			record.Items[i] = item
		}
		if err := tx.InsertPurchase(ctx, record); err != nil {
			return err
		}

		for _, item := range record.Items {
			prev := state[item.ProductID]
			newCost := RoundCost(AverageCost(prev.Stock, prev.CostPrice, item.Quantity, item.CostPerUnit))
			if err := tx.ApplyInbound(ctx, prev, item.Quantity, newCost); err != nil {
				return err
			}
			next := prev
			next.Stock += item.Quantity
			next.CostPrice = newCost
			state[item.ProductID] = next
		}
		purchase = record
		return nil
	})
	if err != nil {
		s.releaseIdempotency(ctx, key)
		s.metrics.Failed(modulePurchase, err)
		if shared.IsDomainError(err) {
			return Purchase{}, err
		}
		s.logger.Error("record purchase", slog.String("shop_id", input.ShopID), slog.Any("error", err))
		return Purchase{}, shared.WrapStore("ledger: record purchase", err)
	}
	purchase.InvoiceNumber = invoice

	s.metrics.Committed(modulePurchase, purchase.GrandTotal)
	s.logger.Info("purchase recorded",
		slog.String("shop_id", purchase.ShopID),
		slog.String("invoice", purchase.InvoiceNumber),
		slog.Int("items", len(purchase.Items)),
		slog.Float64("grand_total", purchase.GrandTotal))
	s.afterCommit(ctx, "PURCHASE_CREATE", purchase.ShopID, purchase.ID, input.ActorID, map[string]any{
		"invoice_number": purchase.InvoiceNumber,
		"grand_total":    purchase.GrandTotal,
	})
	return purchase, nil
}

// pricePurchase computes subtotal, transport allocation and unit cost of every line.
func pricePurchase(inputs []PurchaseItemInput, transport float64) ([]PurchaseItem, float64) {
	quantities := make([]float64, len(inputs))
	for i, in := range inputs {
		quantities[i] = in.Quantity
	}
	allocations := AllocateTransport(quantities, transport)

	var total float64
	items := make([]PurchaseItem, len(inputs))
	for i, in := range inputs {
		subtotal := in.Quantity * in.PricePerUnit
		items[i] = PurchaseItem{
			ProductID:     in.ProductID,
			Quantity:      in.Quantity,
			PricePerUnit:  in.PricePerUnit,
			Subtotal:      subtotal,
			TransportCost: allocations[i],
			CostPerUnit:   (subtotal + allocations[i]) / in.Quantity,
		}
		total += subtotal
	}
	return items, total
}
