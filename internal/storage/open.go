package storage

import (
	"context"
	"fmt"

	"TypeChat/internal/config"
)

// Open creates the KV store selected by cfg.Store
func Open(ctx context.Context, cfg config.Config) (KV, error) {
	switch cfg.Store {
	case config.StoreFile:
		return NewFileKV(cfg.SessionsFile)
	case config.StoreSQLite:
		return NewSQLiteKV(ctx, cfg.DBPath)
	case config.StoreRedis:
		return NewRedisKV(ctx, cfg.RedisURL, cfg.RedisKey)
	case config.StoreMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store: %s", cfg.Store)
	}
}
