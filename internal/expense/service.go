package expense

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/shared"
)

// RepositoryPort abstracts expense persistence.
type RepositoryPort interface {
	Create(ctx context.Context, e Expense) error
	Get(ctx context.Context, shopID, id string) (Expense, error)
	List(ctx context.Context, filter Filter) ([]Expense, int, error)
	Update(ctx context.Context, e Expense) error
	Delete(ctx context.Context, shopID, id string) error
	// ListRange returns every expense of the shop dated within [from, to].
	ListRange(ctx context.Context, shopID string, from, to time.Time) ([]Expense, error)
}

// Service records shop expenses.
type Service struct {
	repo   RepositoryPort
	audit  ledger.AuditPort
	cache  ledger.CachePort
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service. audit and cache may be nil.
func NewService(repo RepositoryPort, audit ledger.AuditPort, cache ledger.CachePort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		cache:  cache,
		logger: logger.With(slog.String("module", "expense")),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Create records an expense dated now unless a date is supplied.
func (s *Service) Create(ctx context.Context, input CreateInput) (Expense, error) {
	if err := input.Validate(); err != nil {
		return Expense{}, err
	}
	now := s.clock()
	e := Expense{
		ID:          uuid.NewString(),
		ShopID:      input.ShopID,
		Title:       input.Title,
		Amount:      input.Amount,
		Category:    input.Category,
		Note:        input.Note,
		ExpenseDate: input.ExpenseDate.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.ExpenseDate.IsZero() {
		e.ExpenseDate = now
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return Expense{}, shared.WrapStore("expense: create", err)
	}
	s.changed(ctx, "EXPENSE_CREATE", e, input.ActorID)
	return e, nil
}

// Get loads an expense of the shop.
func (s *Service) Get(ctx context.Context, shopID, id string) (Expense, error) {
	e, err := s.repo.Get(ctx, shopID, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Expense{}, ErrExpenseNotFound
		}
		return Expense{}, shared.WrapStore("expense: get", err)
	}
	return e, nil
}

// List returns a filtered page of expenses, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Expense, shared.Pagination, error) {
	filter = filter.Normalize()
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, shared.WrapStore("expense: list", err)
	}
	return items, shared.NewPagination(filter.Page, filter.Limit, total), nil
}

// Update applies field changes.
func (s *Service) Update(ctx context.Context, shopID, id string, input UpdateInput) (Expense, error) {
	e, err := s.Get(ctx, shopID, id)
	if err != nil {
		return Expense{}, err
	}
	if err := input.Apply(&e); err != nil {
		return Expense{}, err
	}
	e.UpdatedAt = s.clock()
	if err := s.repo.Update(ctx, e); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Expense{}, ErrExpenseNotFound
		}
		return Expense{}, shared.WrapStore("expense: update", err)
	}
	s.changed(ctx, "EXPENSE_UPDATE", e, input.ActorID)
	return e, nil
}

// Delete removes an expense.
func (s *Service) Delete(ctx context.Context, shopID, id, actorID string) error {
	e, err := s.Get(ctx, shopID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, shopID, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrExpenseNotFound
		}
		return shared.WrapStore("expense: delete", err)
	}
	s.changed(ctx, "EXPENSE_DELETE", e, actorID)
	return nil
}

// Summary groups the expenses dated within [from, to] by category.
func (s *Service) Summary(ctx context.Context, shopID string, from, to time.Time) (Summary, error) {
	if from.After(to) {
		return Summary{}, shared.NewValidationError("from", "from must not be after to")
	}
	items, err := s.repo.ListRange(ctx, shopID, from, to)
	if err != nil {
		return Summary{}, shared.WrapStore("expense: summary", err)
	}
	return Summarize(items), nil
}

func (s *Service) changed(ctx context.Context, action string, e Expense, actorID string) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("bump report cache", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "expense",
			EntityID: e.ID,
			Meta:     map[string]any{"shop_id": e.ShopID, "amount": e.Amount, "category": e.Category},
			At:       s.clock(),
		})
		if err != nil {
			s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
		}
	}
}
