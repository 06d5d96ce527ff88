package cache

import (
	"fmt"

	"github.com/facturio/backend/internal/domain/shared"
	"github.com/facturio/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// IdempotencyStoreFactory picks the idempotency store backing webhook
// deduplication. Production deployments run Redis; local development can
// fall back to the in-memory store.
type IdempotencyStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// IdempotencyStoreFactoryOption configures the factory.
type IdempotencyStoreFactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the factory logger.
func WithLogger(logger *zap.Logger) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) { f.logger = logger }
}

// WithInMemoryFallback controls the fallback when Redis is unreachable.
// Enabled unless overridden.
func WithInMemoryFallback(allow bool) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) { f.allowInMemoryFallback = allow }
}

// NewIdempotencyStoreFactory creates a factory for the given Redis settings.
func NewIdempotencyStoreFactory(cfg config.RedisConfig, opts ...IdempotencyStoreFactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisStore builds the Redis-backed store.
func (f *IdempotencyStoreFactory) CreateRedisStore() (shared.IdempotencyStore, error) {
	store, err := NewRedisIdempotencyStore(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis idempotency store: %w", err)
	}
	return store, nil
}

// CreateInMemoryStore builds the in-memory store. A second API instance
// would not see events this one has processed, so duplicate credit grants
// become possible in multi-instance deployments.
func (f *IdempotencyStoreFactory) CreateInMemoryStore() shared.IdempotencyStore {
	return NewInMemoryIdempotencyStore()
}

// CreateStore tries Redis first and falls back to the in-memory store when
// Redis is unavailable and fallback is allowed.
func (f *IdempotencyStoreFactory) CreateStore() (shared.IdempotencyStore, error) {
	store, err := f.CreateRedisStore()
	if err == nil {
		f.logger.Info("using Redis idempotency store")
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for idempotency but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store. "+
		"This may cause duplicate event processing in distributed deployments.",
		zap.Error(err),
	)
	return f.CreateInMemoryStore(), nil
}
