package cache

import (
	"context"
	"sync"
	"time"

	"github.com/facturio/backend/internal/domain/shared"
)

const inmemCleanupInterval = 5 * time.Minute

// InMemoryIdempotencyStore tracks seen event IDs in a mutex-guarded map,
// keyed by event ID with an expiry deadline as the value. Suitable for
// single-instance deployments and tests; a second API instance would not see
// events this one has processed.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	deadlines map[string]time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)

// NewInMemoryIdempotencyStore creates the store and starts its expiry sweep
// goroutine. Call Close to stop it.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		deadlines: make(map[string]time.Time),
		stopChan:  make(chan struct{}),
	}

	store.wg.Add(1)
	go func() {
		defer store.wg.Done()
		ticker := time.NewTicker(inmemCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-store.stopChan:
				return
			case <-ticker.C:
				store.cleanup()
			}
		}
	}()

	return store
}

// MarkProcessed records the event, reporting true when it was unseen.
// An expired deadline counts as unseen and is overwritten.
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, seen := s.deadlines[eventID]; seen && now.Before(deadline) {
		return false, nil
	}
	s.deadlines[eventID] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether the event is recorded and not yet expired.
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deadline, seen := s.deadlines[eventID]
	return seen && time.Now().Before(deadline), nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for eventID, deadline := range s.deadlines {
		if now.After(deadline) {
			delete(s.deadlines, eventID)
		}
	}
}

// Size returns the number of tracked events, expired entries included until
// the next sweep.
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deadlines)
}
