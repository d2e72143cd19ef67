package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
)

// ReportSource implements report.Source on MongoDB.
type ReportSource struct {
	store *Store
}

// Reports returns the report source.
func (s *Store) Reports() *ReportSource {
	return &ReportSource{store: s}
}

// SalesBetween loads sales with embedded items, oldest first.
func (r *ReportSource) SalesBetween(ctx context.Context, shopID string, from, to time.Time) ([]ledger.Sale, error) {
	cur, err := r.store.collection(colSales).Find(ctx,
		bson.M{"shop_id": shopID, "sold_at": bson.M{"$gte": from, "$lte": to}},
		options.Find().SetSort(bson.D{{Key: "sold_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	sales, err := decodeAll(ctx, cur, saleDoc.sale)
	return sales, classify(err)
}

// ExpensesBetween loads expenses dated in the window.
func (r *ReportSource) ExpensesBetween(ctx context.Context, shopID string, from, to time.Time) ([]expense.Expense, error) {
	return r.store.Expenses().ListRange(ctx, shopID, from, to)
}

// ActiveProducts loads the shop's enabled products.
func (r *ReportSource) ActiveProducts(ctx context.Context, shopID string) ([]ledger.Product, error) {
	cur, err := r.store.collection(colProducts).Find(ctx,
		bson.M{"shop_id": shopID, "is_active": true},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	products, err := decodeAll(ctx, cur, productDoc.product)
	return products, classify(err)
}
