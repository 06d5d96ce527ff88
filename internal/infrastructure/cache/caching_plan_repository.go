package cache

import (
	"context"

	"github.com/facturio/backend/internal/domain/credits"
)

// CachingPlanRepository decorates a PlanRepository with an in-memory cache.
// Lookups by slug and Stripe price ID are served from cache when fresh;
// Save invalidates the whole cache since the catalog is small.
type CachingPlanRepository struct {
	inner credits.PlanRepository
	cache *InMemoryPlanCache
}

// NewCachingPlanRepository wraps the given repository with the given cache
func NewCachingPlanRepository(inner credits.PlanRepository, planCache *InMemoryPlanCache) *CachingPlanRepository {
	return &CachingPlanRepository{
		inner: inner,
		cache: planCache,
	}
}

// FindBySlug returns the plan with the given slug, consulting the cache first
func (r *CachingPlanRepository) FindBySlug(ctx context.Context, slug string) (*credits.Plan, error) {
	if plan := r.cache.GetBySlug(ctx, slug); plan != nil {
		return plan, nil
	}

	plan, err := r.inner.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, plan)
	return plan, nil
}

// FindByStripePriceID returns the plan bound to the given Stripe price ID,
// consulting the cache first
func (r *CachingPlanRepository) FindByStripePriceID(ctx context.Context, priceID string) (*credits.Plan, error) {
	if plan := r.cache.GetByStripePriceID(ctx, priceID); plan != nil {
		return plan, nil
	}

	plan, err := r.inner.FindByStripePriceID(ctx, priceID)
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, plan)
	return plan, nil
}

// FindAllActive always goes to the underlying repository. The listing is an
// admin/UI path, not a hot path.
func (r *CachingPlanRepository) FindAllActive(ctx context.Context) ([]*credits.Plan, error) {
	return r.inner.FindAllActive(ctx)
}

// Save persists the plan and invalidates the cache
func (r *CachingPlanRepository) Save(ctx context.Context, plan *credits.Plan) error {
	if err := r.inner.Save(ctx, plan); err != nil {
		return err
	}
	r.cache.InvalidateAll(ctx)
	return nil
}

// Ensure CachingPlanRepository implements PlanRepository
var _ credits.PlanRepository = (*CachingPlanRepository)(nil)
