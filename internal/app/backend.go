package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopledger/shopledger/internal/catalog"
	"github.com/shopledger/shopledger/internal/expense"
	"github.com/shopledger/shopledger/internal/ledger"
	"github.com/shopledger/shopledger/internal/mongostore"
	"github.com/shopledger/shopledger/internal/platform/db"
	"github.com/shopledger/shopledger/internal/report"
	"github.com/shopledger/shopledger/internal/shared"
)

// IdempotencyStore records request keys and purges old ones.
type IdempotencyStore interface {
	ledger.IdempotencyPort
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Backend bundles the repositories of the configured store driver.
type Backend struct {
	Driver      string
	Ledger      ledger.RepositoryPort
	Catalog     catalog.RepositoryPort
	Expenses    expense.RepositoryPort
	Reports     report.Source
	Audit       ledger.AuditPort
	Idempotency IdempotencyStore
	Store       Pinger
	close       func(ctx context.Context) error
}

// OpenBackend connects to the store selected by cfg.StoreDriver.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case StoreMongo:
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("app: ensure indexes: %w", err)
		}
		logger.Info("connected store", slog.String("driver", StoreMongo), slog.String("database", cfg.MongoDatabase))
		return &Backend{
			Driver:      StoreMongo,
			Ledger:      store.Ledger(),
			Catalog:     store.Catalog(),
			Expenses:    store.Expenses(),
			Reports:     store.Reports(),
			Audit:       store.Audit(),
			Idempotency: store.Idempotency(),
			Store:       store,
			close:       store.Close,
		}, nil
	case StorePostgres:
		pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		logger.Info("connected store", slog.String("driver", StorePostgres))
		return &Backend{
			Driver:      StorePostgres,
			Ledger:      ledger.NewRepository(pool),
			Catalog:     catalog.NewRepository(pool),
			Expenses:    expense.NewRepository(pool),
			Reports:     report.NewRepository(pool),
			Audit:       shared.NewAuditLogger(pool),
			Idempotency: shared.NewIdempotencyStore(pool),
			Store:       pool,
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}
}

// Close releases the store connection.
func (b *Backend) Close(ctx context.Context) error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close(ctx)
}
