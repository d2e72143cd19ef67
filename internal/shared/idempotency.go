package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates the key was claimed by an earlier request.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// ValidateIdempotency checks the arguments shared by every store backend.
func ValidateIdempotency(key, module string) error {
	if key == "" {
		return NewValidationError("idempotency_key", "required")
	}
	if module == "" {
		return NewValidationError("module", "required")
	}
	return nil
}

// IdempotencyStore records claimed request keys in PostgreSQL.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// CheckAndInsert claims key. A second claim fails with ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency store not initialised")
	}
	if err := ValidateIdempotency(key, module); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO NOTHING`, key, module, s.now().UTC())
	if err != nil {
		return WrapStore("idempotency: claim", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Cleanup removes keys claimed before now minus olderThan.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.pool == nil {
		return nil
	}
	cutoff := s.now().UTC().Add(-olderThan)
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff); err != nil {
		return WrapStore("idempotency: cleanup", err)
	}
	return nil
}

// Delete releases a key after the guarded unit of work failed.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.pool == nil || key == "" {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key); err != nil {
		return WrapStore("idempotency: release", err)
	}
	return nil
}
