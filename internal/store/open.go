package store

import (
	"context"
	"fmt"

	"github.com/blagoySimandov/transcriptmagic/internal/config"
	"github.com/blagoySimandov/transcriptmagic/internal/db"
)

// Open builds the store selected by cfg.StoreBackend. The Postgres table is
// owned by migrations; SQLite creates it on open.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory, "":
		return NewMemoryStore(), nil

	case config.StoreBackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)

	case config.StoreBackendPostgres:
		return NewSQLStore(db.NewBunPostgresClient(cfg.DatabaseURL)), nil

	case config.StoreBackendSQLite:
		bunDB, err := db.NewBunSQLiteClient(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s := NewSQLStore(bunDB)
		if err := s.InitializeDatabase(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
