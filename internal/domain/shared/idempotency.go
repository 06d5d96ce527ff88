package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed event IDs so retried deliveries,
// like Stripe webhook redeliveries, do not grant credits twice.
type IdempotencyStore interface {
	// MarkProcessed records eventID with the given TTL. The boolean is true
	// when this call was the first to record it, false on a replay. Only one
	// concurrent caller may observe true for the same eventID.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether eventID is currently recorded.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Close releases the store's resources. Further calls error.
	Close() error
}

// IdempotencyConfig controls replay detection for inbound events.
type IdempotencyConfig struct {
	// TTL is how long a processed event ID is remembered. It must outlast
	// the sender's retry window; Stripe retries for up to three days.
	TTL time.Duration

	// Enabled turns replay detection off entirely when false.
	Enabled bool
}

// DefaultIdempotencyConfig remembers events for 72 hours, covering the
// Stripe retry window.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     72 * time.Hour,
		Enabled: true,
	}
}
