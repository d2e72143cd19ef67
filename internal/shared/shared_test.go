package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapStoreKeepsDomainErrors(t *testing.T) {
	notFound := errors.Join(ErrNotFound)
	require.Same(t, notFound, WrapStore("op", notFound))
	require.Nil(t, WrapStore("op", nil))

	err := WrapStore("ledger: insert", errors.New("connection reset"))
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, "ledger: insert", storeErr.Op)
	require.ErrorIs(t, err, ErrUnavailable)
	require.True(t, IsRetryable(err))
	require.False(t, IsDomainError(err))
}

func TestValidationErrorKind(t *testing.T) {
	err := NewValidationError("quantity", "must be positive")
	require.ErrorIs(t, err, ErrValidation)
	require.EqualError(t, err, "quantity: must be positive")
	require.True(t, IsDomainError(err))
	require.False(t, IsRetryable(err))
	require.EqualError(t, NewValidationError("", "bad"), "bad")
}

func TestValidateIdempotency(t *testing.T) {
	require.ErrorIs(t, ValidateIdempotency("", "ledger.sale"), ErrValidation)
	require.ErrorIs(t, ValidateIdempotency("k", ""), ErrValidation)
	require.NoError(t, ValidateIdempotency("k", "ledger.sale"))
}

func TestAuditLogValidate(t *testing.T) {
	require.ErrorIs(t, AuditLog{Entity: "ledger", EntityID: "1"}.Validate(), ErrValidation)
	require.NoError(t, AuditLog{Action: "sale.recorded", Entity: "ledger", EntityID: "1"}.Validate())
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3}, p)
}

func TestActorContext(t *testing.T) {
	ctx := ContextWithActor(context.Background(), "owner")
	require.Equal(t, "owner", ActorFromContext(ctx))
	require.Empty(t, ActorFromContext(context.Background()))
}

func TestNilStoresAreNoops(t *testing.T) {
	var store *IdempotencyStore
	require.NoError(t, store.Cleanup(context.Background(), 0))
	require.NoError(t, store.Delete(context.Background(), "k"))
	require.Error(t, store.CheckAndInsert(context.Background(), "k", "m"))

	var logger *AuditLogger
	require.Error(t, logger.Record(context.Background(), AuditLog{}))
}
