package db

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/RichardoC/padi-code/internal/config"
)

// Open builds the store selected by cfg.Database, wrapped in a Redis cache
// when cfg.Cache is enabled.
func Open(cfg *config.Config, logger *zap.Logger) (Store, error) {
	logger = logger.With(zap.String("component", "store"))

	var store Store
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		s, err := NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		store = s
	case config.DriverPostgres:
		s, err := NewPostgresStore(cfg.Database.DSN, logger)
		if err != nil {
			return nil, err
		}
		store = s
	case config.DriverMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	if !cfg.Cache.Enabled {
		return store, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	logger.Info("Redis cache enabled", zap.String("addr", cfg.Cache.Addr), zap.Duration("ttl", cfg.Cache.TTL))
	return NewCachedStore(store, rdb, cfg.Cache.TTL, logger), nil
}
