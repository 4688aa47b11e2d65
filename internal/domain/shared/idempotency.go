package shared

import (
	"context"
	"time"
)

// SettlementLock guards a settlement key so that two concurrent passes over
// the same claim never both reach the payment capability.
type SettlementLock interface {
	// Acquire claims key for ttl.
	// Returns true if the key was newly claimed, false if someone else holds it
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release frees key. Releasing a key that is not held is a no-op
	Release(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}

// SettlementLockConfig holds configuration for settlement locking
type SettlementLockConfig struct {
	// TTL bounds how long a crashed holder can block a claim
	// Default: 5 minutes
	TTL time.Duration

	// Enabled determines whether locking is enabled
	// Default: true
	Enabled bool
}

// DefaultSettlementLockConfig returns the default lock configuration
func DefaultSettlementLockConfig() SettlementLockConfig {
	return SettlementLockConfig{
		TTL:     5 * time.Minute,
		Enabled: true,
	}
}

// SettlementKey returns the lock and idempotency key for a claim id.
func SettlementKey(claimID string) string {
	return "settle:" + claimID
}
