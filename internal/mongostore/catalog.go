package mongostore

import (
	"context"
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopledger/shopledger/internal/catalog"
	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/shared"
)

// CatalogRepository implements catalog.RepositoryPort on MongoDB.
type CatalogRepository struct {
	store *Store
}

// Catalog returns the product repository.
func (s *Store) Catalog() *CatalogRepository {
	return &CatalogRepository{store: s}
}

// lowStockExpr matches products whose stock sits at or below their threshold.
var lowStockExpr = bson.M{"$lte": bson.A{"$stock", "$low_stock_threshold"}}

// Create inserts a product; the (shop_id, name_key) index rejects duplicate names.
func (r *CatalogRepository) Create(ctx context.Context, p ledger.Product) error {
	_, err := r.store.collection(colProducts).InsertOne(ctx, fromProduct(p))
	return classify(err)
}

// Get loads a product by id.
func (r *CatalogRepository) Get(ctx context.Context, shopID, id string) (ledger.Product, error) {
	return r.findOne(ctx, bson.M{"_id": id, "shop_id": shopID})
}

// FindByName loads a product by case-insensitive name.
func (r *CatalogRepository) FindByName(ctx context.Context, shopID, name string) (ledger.Product, error) {
	return r.findOne(ctx, bson.M{"shop_id": shopID, "name_key": nameKey(name)})
}

func (r *CatalogRepository) findOne(ctx context.Context, filter bson.M) (ledger.Product, error) {
	var doc productDoc
	if err := r.store.collection(colProducts).FindOne(ctx, filter).Decode(&doc); err != nil {
		return ledger.Product{}, notFound(err)
	}
	return doc.product(), nil
}

// List returns a filtered page of products, newest first.
func (r *CatalogRepository) List(ctx context.Context, filter catalog.Filter) ([]ledger.Product, int, error) {
	query := productQuery(filter)
	col := r.store.collection(colProducts)
	total, err := col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, classify(err)
	}
	order := bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}
	cur, err := col.Find(ctx, query, page(order, filter.Limit, filter.Offset()))
	if err != nil {
		return nil, 0, classify(err)
	}
	products, err := decodeAll(ctx, cur, productDoc.product)
	return products, int(total), classify(err)
}

func productQuery(filter catalog.Filter) bson.M {
	query := bson.M{"shop_id": filter.ShopID}
	if filter.Search != "" {
		query["name"] = bson.M{"$regex": regexp.QuoteMeta(filter.Search), "$options": "i"}
	}
	if filter.CategoryID != "" {
		query["category_id"] = filter.CategoryID
	}
	if filter.Active != nil {
		query["is_active"] = *filter.Active
	}
	if filter.LowStock {
		query["$expr"] = lowStockExpr
	}
	return query
}

// Update writes the descriptive fields. Stock and cost are owned by the ledger.
func (r *CatalogRepository) Update(ctx context.Context, p ledger.Product) error {
	res, err := r.store.collection(colProducts).UpdateOne(ctx,
		bson.M{"_id": p.ID, "shop_id": p.ShopID},
		bson.M{"$set": bson.M{
			"name":                p.Name,
			"name_key":            nameKey(p.Name),
			"description":         p.Description,
			"category_id":         p.CategoryID,
			"unit":                p.Unit,
			"selling_price":       p.SellingPrice,
			"low_stock_threshold": p.LowStockThreshold,
			"is_active":           p.Active,
			"updated_at":          p.UpdatedAt,
		}})
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// LowStock lists active products at or below threshold, lowest stock first.
func (r *CatalogRepository) LowStock(ctx context.Context, shopID string) ([]ledger.Product, error) {
	cur, err := r.store.collection(colProducts).Find(ctx,
		bson.M{"shop_id": shopID, "is_active": true, "$expr": lowStockExpr},
		options.Find().SetSort(bson.D{{Key: "stock", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	products, err := decodeAll(ctx, cur, productDoc.product)
	return products, classify(err)
}

// ShopIDs lists shops owning an active product.
func (r *CatalogRepository) ShopIDs(ctx context.Context) ([]string, error) {
	values, err := r.store.collection(colProducts).Distinct(ctx, "shop_id", bson.M{"is_active": true})
	if err != nil {
		return nil, classify(err)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
