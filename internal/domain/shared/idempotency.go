package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed message IDs so that duplicate deliveries
// (marketplace notifications, retried acknowledgments) are handled once.
type IdempotencyStore interface {
	// MarkProcessed marks an ID as processed with a TTL
	// Returns true if the ID was newly marked, false if it was already processed
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an ID has already been processed
	IsProcessed(ctx context.Context, id string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is the time-to-live for processed IDs
	// Default: 72 hours, longer than the marketplace notification redelivery window
	TTL time.Duration

	// Enabled determines whether idempotency checking is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     72 * time.Hour,
		Enabled: true,
	}
}
