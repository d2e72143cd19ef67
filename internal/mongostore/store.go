// Package mongostore persists shop ledgers in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/shopledger/shopledger/internal/shared"
)

const (
	colProducts    = "products"
	colPurchases   = "purchases"
	colSales       = "sales"
	colExpenses    = "expenses"
	colIdempotency = "idempotency_keys"
	colAudit       = "audit_logs"
)

// writeConflictCode is returned when two transactions modify the same document.
const writeConflictCode = 112

// Store holds the database every repository in this package reads and writes.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and verifies the deployment is reachable.
// Transactions need a replica set or sharded cluster.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// EnsureIndexes creates the indexes the repositories rely on for uniqueness and range scans.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		colProducts: {
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "name_key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "is_active", Value: 1}, {Key: "stock", Value: 1}}},
		},
		colPurchases: {
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "invoice_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "purchased_at", Value: 1}}},
		},
		colSales: {
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "invoice_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "sold_at", Value: 1}}},
		},
		colExpenses: {
			{Keys: bson.D{{Key: "shop_id", Value: 1}, {Key: "expense_date", Value: 1}}},
		},
		colIdempotency: {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colAudit: {
			{Keys: bson.D{{Key: "entity", Value: 1}, {Key: "entity_id", Value: 1}}},
		},
	}
	for name, models := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongostore: indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// withTx runs fn inside a snapshot transaction. ctx passed to fn carries the session.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return classify(err)
	}
	defer sess.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(opts); err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			_ = sess.AbortTransaction(context.WithoutCancel(sc))
			return err
		}
		return sess.CommitTransaction(sc)
	})
	return classify(err)
}

// classify maps driver errors onto the shared error kinds. Other errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsDomainError(err) || errors.Is(err, shared.ErrConcurrentUpdate) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", shared.ErrDuplicate, err)
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) &&
		(serverErr.HasErrorLabel("TransientTransactionError") || serverErr.HasErrorCode(writeConflictCode)) {
		return fmt.Errorf("%w: %v", shared.ErrConcurrentUpdate, err)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return &shared.StoreError{Op: "mongostore", Err: err}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return shared.ErrNotFound
	}
	return classify(err)
}

// page returns find options for a paginated, sorted listing.
func page(sort bson.D, limit, offset int) *options.FindOptions {
	return options.Find().SetSort(sort).SetLimit(int64(limit)).SetSkip(int64(offset))
}

// between adds an inclusive range on field for the non-zero bounds.
func between(filter bson.M, field string, from, to time.Time) bson.M {
	bounds := bson.M{}
	if !from.IsZero() {
		bounds["$gte"] = from
	}
	if !to.IsZero() {
		bounds["$lte"] = to
	}
	if len(bounds) > 0 {
		filter[field] = bounds
	}
	return filter
}

func decodeAll[D any, T any](ctx context.Context, cur *mongo.Cursor, convert func(D) T) ([]T, error) {
	defer func() { _ = cur.Close(ctx) }()
	out := []T{}
	for cur.Next(ctx) {
		var doc D
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, convert(doc))
	}
	return out, cur.Err()
}
