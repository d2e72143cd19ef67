package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/shared"
)

// RepositoryPort abstracts product persistence.
type RepositoryPort interface {
	Create(ctx context.Context, p ledger.Product) error
	Get(ctx context.Context, shopID, id string) (ledger.Product, error)
	// FindByName matches case-insensitively within the shop.
	FindByName(ctx context.Context, shopID, name string) (ledger.Product, error)
	List(ctx context.Context, filter Filter) ([]ledger.Product, int, error)
	Update(ctx context.Context, p ledger.Product) error
	// LowStock returns active products at or below threshold, lowest stock first.
	LowStock(ctx context.Context, shopID string) ([]ledger.Product, error)
	// ShopIDs lists every shop owning at least one active product.
	ShopIDs(ctx context.Context) ([]string, error)
}

// Service maintains the product catalog that feeds the ledger.
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
		logger: logger.With(slog.String("module", "catalog")),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Create adds a product with zero stock and cost.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Product, error) {
	if err := input.Validate(); err != nil {
		return ledger.Product{}, err
	}
	if err := s.ensureNameFree(ctx, input.ShopID, input.Name, ""); err != nil {
		return ledger.Product{}, err
	}
	threshold := float64(DefaultLowStockThreshold)
	if input.LowStockThreshold != nil {
		threshold = *input.LowStockThreshold
	}
	now := s.clock()
	p := ledger.Product{
		ID:                uuid.NewString(),
		ShopID:            input.ShopID,
		Name:              input.Name,
		Description:       input.Description,
		CategoryID:        input.CategoryID,
		Unit:              input.Unit,
		SellingPrice:      input.SellingPrice,
		LowStockThreshold: threshold,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			return ledger.Product{}, ErrDuplicateName
		}
		return ledger.Product{}, shared.WrapStore("catalog: create product", err)
	}
	s.changed(ctx, "PRODUCT_CREATE", p, input.ActorID)
	return p, nil
}

// Get loads a product of the shop.
func (s *Service) Get(ctx context.Context, shopID, id string) (ledger.Product, error) {
	p, err := s.repo.Get(ctx, shopID, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ledger.Product{}, ErrProductNotFound
		}
		return ledger.Product{}, shared.WrapStore("catalog: get product", err)
	}
	return p, nil
}

// List returns a filtered page of products.
func (s *Service) List(ctx context.Context, filter Filter) ([]ledger.Product, shared.Pagination, error) {
	filter = filter.Normalize()
	products, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, shared.WrapStore("catalog: list products", err)
	}
	return products, shared.NewPagination(filter.Page, filter.Limit, total), nil
}

// LowStock lists active products needing replenishment.
func (s *Service) LowStock(ctx context.Context, shopID string) ([]ledger.Product, error) {
	products, err := s.repo.LowStock(ctx, shopID)
	if err != nil {
		return nil, shared.WrapStore("catalog: low stock", err)
	}
	return products, nil
}

// Shops lists the shops with an active catalog.
func (s *Service) Shops(ctx context.Context) ([]string, error) {
	ids, err := s.repo.ShopIDs(ctx)
	if err != nil {
		return nil, shared.WrapStore("catalog: list shops", err)
	}
	return ids, nil
}

// Update applies descriptive changes. Stock and cost are never edited here.
func (s *Service) Update(ctx context.Context, shopID, id string, input UpdateInput) (ledger.Product, error) {
	if err := input.Validate(); err != nil {
		return ledger.Product{}, err
	}
	p, err := s.Get(ctx, shopID, id)
	if err != nil {
		return ledger.Product{}, err
	}
	if input.Name != nil && *input.Name != p.Name {
		if err := s.ensureNameFree(ctx, shopID, *input.Name, p.ID); err != nil {
			return ledger.Product{}, err
		}
		p.Name = *input.Name
	}
	if input.Description != nil {
		p.Description = *input.Description
	}
	if input.CategoryID != nil {
		p.CategoryID = *input.CategoryID
	}
	if input.Unit != nil {
		p.Unit = *input.Unit
	}
	if input.SellingPrice != nil {
		p.SellingPrice = *input.SellingPrice
	}
	if input.LowStockThreshold != nil {
		p.LowStockThreshold = *input.LowStockThreshold
	}
	if input.Active != nil {
		p.Active = *input.Active
	}
	p.UpdatedAt = s.clock()
	if err := s.save(ctx, p); err != nil {
		return ledger.Product{}, err
	}
	s.changed(ctx, "PRODUCT_UPDATE", p, input.ActorID)
	return p, nil
}

// Disable deactivates a product. Products are never hard-deleted so that
// purchase and sale history keeps resolving.
func (s *Service) Disable(ctx context.Context, shopID, id, actorID string) error {
	p, err := s.Get(ctx, shopID, id)
	if err != nil {
		return err
	}
	if !p.Active {
		return nil
	}
	p.Active = false
	p.UpdatedAt = s.clock()
	if err := s.save(ctx, p); err != nil {
		return err
	}
	s.changed(ctx, "PRODUCT_DISABLE", p, actorID)
	return nil
}

func (s *Service) save(ctx context.Context, p ledger.Product) error {
	if err := s.repo.Update(ctx, p); err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			return ErrProductNotFound
		case errors.Is(err, shared.ErrDuplicate):
			return ErrDuplicateName
		}
		return shared.WrapStore("catalog: update product", err)
	}
	return nil
}

func (s *Service) ensureNameFree(ctx context.Context, shopID, name, selfID string) error {
	existing, err := s.repo.FindByName(ctx, shopID, name)
	switch {
	case err == nil:
		if existing.ID != selfID {
			return ErrDuplicateName
		}
		return nil
	case errors.Is(err, shared.ErrNotFound):
		return nil
	default:
		return shared.WrapStore("catalog: find product by name", err)
	}
}

func (s *Service) changed(ctx context.Context, action string, p ledger.Product, actorID string) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("bump report cache", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "product",
			EntityID: p.ID,
			Meta:     map[string]any{"shop_id": p.ShopID, "name": p.Name, "active": p.Active},
			At:       s.clock(),
		})
		if err != nil {
			s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
		}
	}
	s.logger.Info("product changed", slog.String("action", action), slog.String("shop_id", p.ShopID), slog.String("product_id", p.ID))
}
