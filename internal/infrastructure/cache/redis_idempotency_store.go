package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/facturio/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const defaultEventKeyPrefix = "webhook:event:"

// RedisIdempotencyStore keeps the seen-event set in Redis. Stripe can
// redeliver the same webhook event to any API instance, so the set must be
// shared across all of them.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisIdempotencyStore connects to Redis and verifies the connection
// with a 5 second ping before returning the store.
func NewRedisIdempotencyStore(cfg RedisConfig) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisIdempotencyStoreWithClient(client, ""), nil
}

// NewRedisIdempotencyStoreWithClient wraps an existing client, for tests or
// for sharing one client across components. An empty keyPrefix picks the
// default.
func NewRedisIdempotencyStoreWithClient(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = defaultEventKeyPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed records the event, reporting true when it was unseen.
// SETNX with TTL is one atomic operation, so concurrent deliveries of the
// same event cannot both win.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	fresh, err := s.client.SetNX(ctx, s.keyPrefix+eventID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return fresh, nil
}

// IsProcessed reports whether the event key still exists.
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if event is processed: %w", err)
	}
	return exists > 0, nil
}

// Close closes the Redis client.
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

// GetClient exposes the underlying client for health checks and tests.
func (s *RedisIdempotencyStore) GetClient() *redis.Client {
	return s.client
}
