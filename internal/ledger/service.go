package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopledger/shopledger/internal/observability"
	"github.com/shopledger/shopledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, int, error)
	GetPurchase(ctx context.Context, shopID, id string) (Purchase, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error)
	GetSale(ctx context.Context, shopID, id string) (Sale, error)
}

// TxRepository exposes the operations available inside one unit of work.
type TxRepository interface {
	// LockProducts loads the shop's products with the given ids and holds them until commit.
	LockProducts(ctx context.Context, shopID string, ids []string, activeOnly bool) ([]Product, error)
	InsertPurchase(ctx context.Context, purchase Purchase) error
	InsertSale(ctx context.Context, sale Sale) error
	// ApplyInbound adds qty to stock and sets the new average cost. prev is the state read by LockProducts.
	ApplyInbound(ctx context.Context, prev Product, qty, newCost float64) error
	// DecrementStock subtracts qty, failing with ErrStockGuard when stock would turn negative.
	DecrementStock(ctx context.Context, shopID, productID string, qty float64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed transaction requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CachePort invalidates derived report data after the ledger changes.
type CachePort interface {
	Bump(ctx context.Context) error
}

// Service coordinates purchase and sale processing.
type Service struct {
	repo            RepositoryPort
	audit           AuditPort
	idempotency     IdempotencyPort
	cache           CachePort
	integration     IntegrationHandler
	metrics         *observability.LedgerMetrics
	logger          *slog.Logger
	txAttempts      int
	invoiceAttempts int
	invoiceNumber   InvoiceGenerator
	clock           func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	TxAttempts      int
	InvoiceAttempts int
	InvoiceNumber   InvoiceGenerator
}

// Deps collects the optional collaborators of Service.
type Deps struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       CachePort
	Integration IntegrationHandler
	Metrics     *observability.LedgerMetrics
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Deps, cfg ServiceConfig) *Service {
	if cfg.TxAttempts <= 0 {
		cfg.TxAttempts = 3
	}
	if cfg.InvoiceAttempts <= 0 {
		cfg.InvoiceAttempts = 5
	}
	if cfg.InvoiceNumber == nil {
		cfg.InvoiceNumber = DefaultInvoiceNumber
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:            repo,
		audit:           deps.Audit,
		idempotency:     deps.Idempotency,
		cache:           deps.Cache,
		integration:     deps.Integration,
		metrics:         deps.Metrics,
		logger:          logger.With(slog.String("module", "ledger")),
		txAttempts:      cfg.TxAttempts,
		invoiceAttempts: cfg.InvoiceAttempts,
		invoiceNumber:   cfg.InvoiceNumber,
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

// ListPurchases returns a page of purchases with the total count.
func (s *Service) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, shared.Pagination, error) {
	filter = filter.Normalize()
	items, total, err := s.repo.ListPurchases(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, shared.WrapStore("ledger: list purchases", err)
	}
	return items, shared.NewPagination(filter.Page, filter.Limit, total), nil
}

// GetPurchase loads a purchase scoped to the shop.
func (s *Service) GetPurchase(ctx context.Context, shopID, id string) (Purchase, error) {
	p, err := s.repo.GetPurchase(ctx, shopID, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Purchase{}, ErrPurchaseNotFound
		}
		return Purchase{}, shared.WrapStore("ledger: get purchase", err)
	}
	return p, nil
}

// ListSales returns a page of sales with the total count.
func (s *Service) ListSales(ctx context.Context, filter ListFilter) ([]Sale, shared.Pagination, error) {
	filter = filter.Normalize()
	items, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, shared.WrapStore("ledger: list sales", err)
	}
	return items, shared.NewPagination(filter.Page, filter.Limit, total), nil
}

// GetSale loads a sale scoped to the shop.
func (s *Service) GetSale(ctx context.Context, shopID, id string) (Sale, error) {
	sale, err := s.repo.GetSale(ctx, shopID, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, shared.WrapStore("ledger: get sale", err)
	}
	return sale, nil
}

// runAtomic executes fn in a unit of work, re-running it on write conflicts and
// invoice number collisions. fn receives the attempt's invoice number.
func (s *Service) runAtomic(ctx context.Context, kind, prefix string, at time.Time, fn func(context.Context, TxRepository, string) error) (string, error) {
	conflicts := 0
	collisions := 0
	for {
		invoice := s.invoiceNumber(prefix, at)
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return fn(ctx, tx, invoice)
		})
		switch {
		case err == nil:
			return invoice, nil
		case errors.Is(err, shared.ErrDuplicate) && collisions+1 < s.invoiceAttempts:
			collisions++
			s.logger.Warn("invoice number collision", slog.String("kind", kind), slog.String("invoice", invoice))
		case errors.Is(err, shared.ErrConcurrentUpdate) && conflicts+1 < s.txAttempts:
			conflicts++
			s.metrics.Retried(kind)
			s.logger.Debug("retrying after write conflict", slog.String("kind", kind), slog.Int("attempt", conflicts))
		default:
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

func (s *Service) claimIdempotency(ctx context.Context, module, shopID, key string) (string, error) {
	if s.idempotency == nil || key == "" {
		return "", nil
	}
	full := fmt.Sprintf("%s:%s:%s", module, shopID, key)
	if err := s.idempotency.CheckAndInsert(ctx, full, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return "", fmt.Errorf("ledger: request %s already processed: %w", key, shared.ErrDuplicate)
		}
		return "", shared.WrapStore("ledger: idempotency", err)
	}
	return full, nil
}

func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if s.idempotency == nil || key == "" {
		return
	}
	// The request may already be cancelled; the key must still be released.
	if err := s.idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) afterCommit(ctx context.Context, action, shopID, entityID, actorID string, meta map[string]any) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("bump report cache", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		meta["shop_id"] = shopID
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "ledger",
			EntityID: entityID,
			Meta:     meta,
			At:       s.clock(),
		})
		if err != nil {
			s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
		}
	}
}

func newID() string {
	return uuid.NewString()
}

// uniqueIDs returns ids without duplicates, preserving first occurrence order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func indexProducts(products []Product) map[string]Product {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}
