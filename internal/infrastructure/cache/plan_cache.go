package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facturio/backend/internal/domain/credits"
	"go.uber.org/zap"
)

// Constants for in-memory cache configuration
const (
	defaultCleanupInterval = 30 * time.Second
	defaultPlanTTL         = 5 * time.Minute
)

// InMemoryPlanCache caches subscription plans in memory. The plan catalog is
// tiny and changes rarely, but it is read on every webhook and every balance
// provisioning, so a short TTL cache keeps those paths off the database.
type InMemoryPlanCache struct {
	plans   sync.Map // map[string]*cacheEntry[credits.Plan]
	ttl     time.Duration
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped int32

	// Stats for monitoring
	hits   int64
	misses int64
}

// cacheEntry wraps a cached value with expiration time
type cacheEntry[T any] struct {
	value     *T
	expiresAt time.Time
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry[T]) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// InMemoryPlanCacheOption is a functional option for configuring the cache
type InMemoryPlanCacheOption func(*InMemoryPlanCache)

// WithPlanCacheTTL sets the entry TTL
func WithPlanCacheTTL(ttl time.Duration) InMemoryPlanCacheOption {
	return func(c *InMemoryPlanCache) {
		c.ttl = ttl
	}
}

// WithPlanCacheLogger sets the logger for the cache
func WithPlanCacheLogger(logger *zap.Logger) InMemoryPlanCacheOption {
	return func(c *InMemoryPlanCache) {
		c.logger = logger
	}
}

// NewInMemoryPlanCache creates a new in-memory plan cache
func NewInMemoryPlanCache(opts ...InMemoryPlanCacheOption) *InMemoryPlanCache {
	cache := &InMemoryPlanCache{
		ttl:    defaultPlanTTL,
		logger: zap.NewNop(),
		stopCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(cache)
	}

	// Start background cleanup goroutine
	go cache.cleanupExpired()

	return cache
}

// slugCacheKey generates the cache key for a slug lookup
func slugCacheKey(slug string) string {
	return "plan:slug:" + slug
}

// priceCacheKey generates the cache key for a Stripe price ID lookup
func priceCacheKey(priceID string) string {
	return "plan:price:" + priceID
}

// get retrieves a plan under the given cache key
func (c *InMemoryPlanCache) get(key string) *credits.Plan {
	if value, ok := c.plans.Load(key); ok {
		entry := value.(*cacheEntry[credits.Plan])
		if !entry.isExpired() {
			atomic.AddInt64(&c.hits, 1)
			return entry.value
		}
		// Expired, remove from cache
		c.plans.Delete(key)
	}

	atomic.AddInt64(&c.misses, 1)
	return nil
}

// GetBySlug retrieves a cached plan by slug, nil on miss
func (c *InMemoryPlanCache) GetBySlug(ctx context.Context, slug string) *credits.Plan {
	return c.get(slugCacheKey(slug))
}

// GetByStripePriceID retrieves a cached plan by Stripe price ID, nil on miss
func (c *InMemoryPlanCache) GetByStripePriceID(ctx context.Context, priceID string) *credits.Plan {
	return c.get(priceCacheKey(priceID))
}

// Set stores a plan under both its slug and price ID keys
func (c *InMemoryPlanCache) Set(ctx context.Context, plan *credits.Plan) {
	if plan == nil {
		return
	}

	entry := &cacheEntry[credits.Plan]{
		value:     plan,
		expiresAt: time.Now().Add(c.ttl),
	}

	c.plans.Store(slugCacheKey(plan.Slug), entry)
	if plan.StripePriceID != "" {
		c.plans.Store(priceCacheKey(plan.StripePriceID), entry)
	}
	c.logger.Debug("Cached plan",
		zap.String("slug", plan.Slug),
		zap.Duration("ttl", c.ttl))
}

// InvalidateAll removes all cached plans
func (c *InMemoryPlanCache) InvalidateAll(ctx context.Context) {
	c.plans.Range(func(key, _ any) bool {
		c.plans.Delete(key)
		return true
	})
	c.logger.Debug("Invalidated plan cache")
}

// Close releases any resources held by the cache
func (c *InMemoryPlanCache) Close() error {
	// Only close once
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCh)
	}
	return nil
}

// GetStats returns cache statistics
func (c *InMemoryPlanCache) GetStats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Count returns the number of entries in the cache
func (c *InMemoryPlanCache) Count() int {
	count := 0
	c.plans.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// cleanupExpired periodically removes expired entries from the cache
func (c *InMemoryPlanCache) cleanupExpired() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.doCleanup()
		}
	}
}

// doCleanup removes expired entries
func (c *InMemoryPlanCache) doCleanup() {
	var removed int

	c.plans.Range(func(key, value any) bool {
		entry := value.(*cacheEntry[credits.Plan])
		if entry.isExpired() {
			c.plans.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		c.logger.Debug("Cleaned up expired plan cache entries",
			zap.Int("removed", removed))
	}
}
