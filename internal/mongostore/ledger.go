package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/shared"
)

// LedgerRepository implements ledger.RepositoryPort on MongoDB.
type LedgerRepository struct {
	store *Store
}

// Ledger returns the purchase and sale repository.
func (s *Store) Ledger() *LedgerRepository {
	return &LedgerRepository{store: s}
}

type ledgerTx struct {
	store *Store
}

// WithTx runs fn in a multi-document transaction. Stock updates carry compare-and-swap
// filters, so a lost race surfaces as shared.ErrConcurrentUpdate.
func (r *LedgerRepository) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.store.withTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &ledgerTx{store: r.store})
	})
}

func (t *ledgerTx) LockProducts(ctx context.Context, shopID string, ids []string, activeOnly bool) ([]ledger.Product, error) {
	filter := bson.M{"shop_id": shopID, "_id": bson.M{"$in": ids}}
	if activeOnly {
		filter["is_active"] = true
	}
	cur, err := t.store.collection(colProducts).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	products, err := decodeAll(ctx, cur, productDoc.product)
	return products, classify(err)
}

func (t *ledgerTx) InsertPurchase(ctx context.Context, p ledger.Purchase) error {
	_, err := t.store.collection(colPurchases).InsertOne(ctx, fromPurchase(p))
	return classify(err)
}

func (t *ledgerTx) InsertSale(ctx context.Context, s ledger.Sale) error {
	_, err := t.store.collection(colSales).InsertOne(ctx, fromSale(s))
	return classify(err)
}

// ApplyInbound only matches the product when stock and cost still equal what was read.
func (t *ledgerTx) ApplyInbound(ctx context.Context, prev ledger.Product, qty, newCost float64) error {
	res, err := t.store.collection(colProducts).UpdateOne(ctx,
		bson.M{"_id": prev.ID, "shop_id": prev.ShopID, "stock": prev.Stock, "cost_price": prev.CostPrice},
		bson.M{
			"$inc": bson.M{"stock": qty},
			"$set": bson.M{"cost_price": newCost, "updated_at": time.Now().UTC()},
		})
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return shared.ErrConcurrentUpdate
	}
	return nil
}

func (t *ledgerTx) DecrementStock(ctx context.Context, shopID, productID string, qty float64) error {
	res, err := t.store.collection(colProducts).UpdateOne(ctx,
		bson.M{"_id": productID, "shop_id": shopID, "stock": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"stock": -qty},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return ledger.ErrStockGuard
	}
	return nil
}

// ListPurchases returns a filtered page of purchases.
func (r *LedgerRepository) ListPurchases(ctx context.Context, filter ledger.ListFilter) ([]ledger.Purchase, int, error) {
	query := between(bson.M{"shop_id": filter.ShopID}, "purchased_at", filter.From, filter.To)
	if filter.SupplierID != "" {
		query["supplier_id"] = filter.SupplierID
	}
	col := r.store.collection(colPurchases)
	total, err := col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, classify(err)
	}
	sort := bson.D{{Key: "purchased_at", Value: direction(filter.SortAsc)}, {Key: "_id", Value: 1}}
	cur, err := col.Find(ctx, query, page(sort, filter.Limit, filter.Offset()))
	if err != nil {
		return nil, 0, classify(err)
	}
	purchases, err := decodeAll(ctx, cur, purchaseDoc.purchase)
	return purchases, int(total), classify(err)
}

// GetPurchase loads one purchase.
func (r *LedgerRepository) GetPurchase(ctx context.Context, shopID, id string) (ledger.Purchase, error) {
	var doc purchaseDoc
	err := r.store.collection(colPurchases).FindOne(ctx, bson.M{"_id": id, "shop_id": shopID}).Decode(&doc)
	if err != nil {
		return ledger.Purchase{}, notFound(err)
	}
	return doc.purchase(), nil
}

// ListSales returns a filtered page of sales.
func (r *LedgerRepository) ListSales(ctx context.Context, filter ledger.ListFilter) ([]ledger.Sale, int, error) {
	query := between(bson.M{"shop_id": filter.ShopID}, "sold_at", filter.From, filter.To)
	col := r.store.collection(colSales)
	total, err := col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, classify(err)
	}
	sort := bson.D{{Key: "sold_at", Value: direction(filter.SortAsc)}, {Key: "_id", Value: 1}}
	cur, err := col.Find(ctx, query, page(sort, filter.Limit, filter.Offset()))
	if err != nil {
		return nil, 0, classify(err)
	}
	sales, err := decodeAll(ctx, cur, saleDoc.sale)
	return sales, int(total), classify(err)
}

// GetSale loads one sale.
func (r *LedgerRepository) GetSale(ctx context.Context, shopID, id string) (ledger.Sale, error) {
	var doc saleDoc
	err := r.store.collection(colSales).FindOne(ctx, bson.M{"_id": id, "shop_id": shopID}).Decode(&doc)
	if err != nil {
		return ledger.Sale{}, notFound(err)
	}
	return doc.sale(), nil
}

func direction(asc bool) int {
	if asc {
		return 1
	}
	return -1
}
