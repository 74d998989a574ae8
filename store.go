package main

import (
	"context"
	"fmt"

	"ScoreBoard/internal/config"
	"ScoreBoard/internal/persist"
)

// openStore connects the driver selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (persist.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return persist.NewMemoryStore(), nil
	case config.DriverRedis:
		return persist.NewRedisStore(cfg.RedisURL)
	case config.DriverSQLite:
		db, err := persist.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return persist.NewSQLStore(ctx, db, persist.DialectSQLite)
	case config.DriverPostgres:
		db, err := persist.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return persist.NewSQLStore(ctx, db, persist.DialectPostgres)
	case config.DriverHTTP:
		return persist.NewHTTPStore(cfg.StoreURL, cfg.PersistTimeout), nil
	}
	return nil, fmt.Errorf("unsupported STORE_DRIVER: %s", cfg.StoreDriver)
}
