package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

// Open returns the store selected by cfg.Driver. The "none" driver returns
// a nil store and no error.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.ReportStore, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
}
