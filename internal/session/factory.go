package session

import (
	"context"

	"github.com/crucial707/equipment-manager/internal/config"
	"go.uber.org/zap"
)

// FactoryOption configures NewStore.
type FactoryOption func(*factory)

type factory struct {
	log           *zap.Logger
	allowFallback bool
}

// WithLogger sets the logger used to report the chosen store.
func WithLogger(log *zap.Logger) FactoryOption {
	return func(f *factory) { f.log = log }
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// the memory store. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *factory) { f.allowFallback = allow }
}

// NewStore returns the store named by cfg.SessionStore.
func NewStore(ctx context.Context, cfg config.Config, opts ...FactoryOption) (Store, error) {
	f := &factory{log: zap.NewNop(), allowFallback: true}
	for _, opt := range opts {
		opt(f)
	}

	if cfg.SessionStore != "redis" {
		f.log.Info("using in-memory session store")
		return NewMemoryStore(), nil
	}

	store, err := NewRedisStore(ctx, RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err == nil {
		f.log.Info("using Redis session store", zap.String("addr", cfg.RedisAddr))
		return store, nil
	}
	if !f.allowFallback {
		return nil, err
	}
	f.log.Warn("Redis unavailable, falling back to in-memory session store",
		zap.String("addr", cfg.RedisAddr),
		zap.Error(err))
	return NewMemoryStore(), nil
}
