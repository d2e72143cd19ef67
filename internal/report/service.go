package report

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/shared"
)

// Source reads the raw records reports are built from. Every read is shop scoped.
type Source interface {
	// SalesBetween returns sales with their items, from and to inclusive.
	SalesBetween(ctx context.Context, shopID string, from, to time.Time) ([]ledger.Sale, error)
	ExpensesBetween(ctx context.Context, shopID string, from, to time.Time) ([]expense.Expense, error)
	// ActiveProducts returns the shop's enabled products.
	ActiveProducts(ctx context.Context, shopID string) ([]ledger.Product, error)
}

// Config tunes report building.
type Config struct {
	Location    *time.Location
	TopProducts int
}

// Service builds financial reports and stock overviews.
type Service struct {
	source   Source
	cache    *Cache
	logger   *slog.Logger
	location *time.Location
	top      int
	group    singleflight.Group
	clock    func() time.Time
}

// NewService constructs the report service. cache may be nil.
func NewService(source Source, cache *Cache, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TopProducts <= 0 {
		cfg.TopProducts = DefaultTopProducts
	}
	return &Service{
		source:   source,
		cache:    cache,
		logger:   logger,
		location: cfg.Location,
		top:      cfg.TopProducts,
		clock:    time.Now,
	}
}

// Location returns the zone report days are cut in.
func (s *Service) Location() *time.Location {
	return s.location
}

// Range resolves a named window against the current time.
func (s *Service) Range(kind RangeKind) (DateRange, error) {
	return NamedRange(kind, s.clock(), s.location)
}

// GetReport builds the financial summary of a shop for a window.
func (s *Service) GetReport(ctx context.Context, shopID string, r DateRange) (Summary, error) {
	if strings.TrimSpace(shopID) == "" {
		return Summary{}, shared.NewValidationError("shop_id", "shop is required")
	}
	if r.From.After(r.To) {
		return Summary{}, ErrInvalidRange
	}
	return cached(ctx, s, func(ctx context.Context) (Summary, error) {
		return s.buildReport(ctx, shopID, r)
	}, "summary", shopID, stamp(r.From), stamp(r.To))
}

// GetStockOverview reports the stock position of a shop's active products.
func (s *Service) GetStockOverview(ctx context.Context, shopID string) (StockOverview, error) {
	if strings.TrimSpace(shopID) == "" {
		return StockOverview{}, shared.NewValidationError("shop_id", "shop is required")
	}
	return cached(ctx, s, func(ctx context.Context) (StockOverview, error) {
		products, err := s.source.ActiveProducts(ctx, shopID)
		if err != nil {
			return StockOverview{}, shared.WrapStore("report: load products", err)
		}
		return Overview(products), nil
	}, "stock", shopID)
}

// TodaySummary totals the shop's sales of the current day.
func (s *Service) TodaySummary(ctx context.Context, shopID string) (SalesSummary, error) {
	r, err := s.Range(RangeToday)
	if err != nil {
		return SalesSummary{}, err
	}
	summary, err := s.GetReport(ctx, shopID, r)
	if err != nil {
		return SalesSummary{}, err
	}
	return summary.Sales, nil
}

// Warm builds and caches the named reports of a shop.
func (s *Service) Warm(ctx context.Context, shopID string, kinds ...RangeKind) error {
	for _, kind := range kinds {
		r, err := s.Range(kind)
		if err != nil {
			return err
		}
		if _, err := s.GetReport(ctx, shopID, r); err != nil {
			return err
		}
	}
	_, err := s.GetStockOverview(ctx, shopID)
	return err
}

func (s *Service) buildReport(ctx context.Context, shopID string, r DateRange) (Summary, error) {
	var (
		sales    []ledger.Sale
		expenses []expense.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.source.SalesBetween(gctx, shopID, r.From, r.To)
		return shared.WrapStore("report: load sales", err)
	})
	g.Go(func() error {
		var err error
		expenses, err = s.source.ExpensesBetween(gctx, shopID, r.From, r.To)
		return shared.WrapStore("report: load expenses", err)
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return Build(r, sales, expenses, s.location, s.top), nil
}

// buildTimeout bounds a shared build once it is detached from its first caller.
const buildTimeout = 30 * time.Second

// cached de-duplicates concurrent builds of the same key and serves them through the cache.
// A failing cache degrades to a direct build.
func cached[T any](ctx context.Context, s *Service, build func(context.Context) (T, error), parts ...string) (T, error) {
	var zero T
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.Warn("report cache version unavailable", slog.Any("error", err))
		key = strings.Join(parts, ":")
	}
	ch := s.group.DoChan(key, func() (any, error) {
		// Other callers may be waiting on this build; it must outlive the first caller.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()
		var (
			value     T
			built     T
			called    bool
			loaderErr error
		)
		err := s.cache.FetchJSON(ctx, key, &value, func(ctx context.Context) (any, error) {
			called = true
			v, err := build(ctx)
			built, loaderErr = v, err
			return v, err
		})
		switch {
		case err == nil:
			return value, nil
		case called && loaderErr != nil:
			return nil, loaderErr
		case called:
			s.logger.Warn("report cache write failed", slog.String("key", key), slog.Any("error", err))
			return built, nil
		default:
			s.logger.Warn("report cache read failed", slog.String("key", key), slog.Any("error", err))
			return build(ctx)
		}
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
