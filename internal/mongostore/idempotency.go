package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shopledger/shopledger/internal/shared"
)

type idempotencyDoc struct {
	Key       string    `bson:"_id"`
	Module    string    `bson:"module"`
	CreatedAt time.Time `bson:"created_at"`
}

// IdempotencyStore persists processed request keys, one document per key.
type IdempotencyStore struct {
	store *Store
}

// Idempotency returns the idempotency key store.
func (s *Store) Idempotency() *IdempotencyStore {
	return &IdempotencyStore{store: s}
}

// CheckAndInsert claims key, failing with shared.ErrIdempotencyConflict when it was seen before.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if err := shared.ValidateIdempotency(key, module); err != nil {
		return err
	}
	_, err := s.store.collection(colIdempotency).InsertOne(ctx, idempotencyDoc{Key: key, Module: module, CreatedAt: time.Now().UTC()})
	if mongo.IsDuplicateKeyError(err) {
		return shared.ErrIdempotencyConflict
	}
	return classify(err)
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	_, err := s.store.collection(colIdempotency).DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": time.Now().UTC().Add(-olderThan)}})
	return classify(err)
}

// Delete removes a key so the request can be resubmitted.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.store.collection(colIdempotency).DeleteOne(ctx, bson.M{"_id": key})
	return classify(err)
}
