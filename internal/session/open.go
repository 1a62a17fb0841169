package session

import (
	"context"
	"fmt"
	"time"

	"github.com/al-bashkir/sessiongate/internal/config"
)

// Open builds the store selected by cfg.Store.
func Open(ctx context.Context, cfg *config.SessionConfig) (Store, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second

	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(timeout), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, timeout)
	case "redis":
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, timeout)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
