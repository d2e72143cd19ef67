package mongostore

import (
	"context"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/shared"
)

// ExpenseRepository implements expense.RepositoryPort on MongoDB.
type ExpenseRepository struct {
	store *Store
}

// Expenses returns the expense repository.
func (s *Store) Expenses() *ExpenseRepository {
	return &ExpenseRepository{store: s}
}

// Create inserts an expense.
func (r *ExpenseRepository) Create(ctx context.Context, e expense.Expense) error {
	_, err := r.store.collection(colExpenses).InsertOne(ctx, fromExpense(e))
	return classify(err)
}

// Get loads an expense by id.
func (r *ExpenseRepository) Get(ctx context.Context, shopID, id string) (expense.Expense, error) {
	var doc expenseDoc
	if err := r.store.collection(colExpenses).FindOne(ctx, bson.M{"_id": id, "shop_id": shopID}).Decode(&doc); err != nil {
		return expense.Expense{}, notFound(err)
	}
	return doc.expense(), nil
}

// List returns a filtered page ordered by expense date, newest first.
func (r *ExpenseRepository) List(ctx context.Context, filter expense.Filter) ([]expense.Expense, int, error) {
	query := between(bson.M{"shop_id": filter.ShopID}, "expense_date", filter.From, filter.To)
	if filter.Category != "" {
		query["category"] = bson.M{"$regex": regexp.QuoteMeta(filter.Category), "$options": "i"}
	}
	col := r.store.collection(colExpenses)
	total, err := col.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, classify(err)
	}
	sort := bson.D{{Key: "expense_date", Value: -1}, {Key: "_id", Value: 1}}
	cur, err := col.Find(ctx, query, page(sort, filter.Limit, filter.Offset()))
	if err != nil {
		return nil, 0, classify(err)
	}
	items, err := decodeAll(ctx, cur, expenseDoc.expense)
	return items, int(total), classify(err)
}

// Update writes every mutable field.
func (r *ExpenseRepository) Update(ctx context.Context, e expense.Expense) error {
	res, err := r.store.collection(colExpenses).UpdateOne(ctx,
		bson.M{"_id": e.ID, "shop_id": e.ShopID},
		bson.M{"$set": bson.M{
			"title":        e.Title,
			"amount":       e.Amount,
			"category":     e.Category,
			"note":         e.Note,
			"expense_date": e.ExpenseDate,
			"updated_at":   e.UpdatedAt,
		}})
	if err != nil {
		return classify(err)
	}
	if res.MatchedCount == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes an expense.
func (r *ExpenseRepository) Delete(ctx context.Context, shopID, id string) error {
	res, err := r.store.collection(colExpenses).DeleteOne(ctx, bson.M{"_id": id, "shop_id": shopID})
	if err != nil {
		return classify(err)
	}
	if res.DeletedCount == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListRange returns every expense dated within [from, to].
func (r *ExpenseRepository) ListRange(ctx context.Context, shopID string, from, to time.Time) ([]expense.Expense, error) {
	cur, err := r.store.collection(colExpenses).Find(ctx,
		bson.M{"shop_id": shopID, "expense_date": bson.M{"$gte": from, "$lte": to}},
		options.Find().SetSort(bson.D{{Key: "expense_date", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify(err)
	}
	items, err := decodeAll(ctx, cur, expenseDoc.expense)
	return items, classify(err)
}
