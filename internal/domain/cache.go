package domain

import (
	"context"
	"time"
)

// Cache defines the interface for the derived read cache.
// The cache is never authoritative: it only ever holds terminal transaction
// views and velocity counters, and is safe to lose or rebuild at any time.
type Cache interface {
	// GetView retrieves a cached terminal transaction view.
	GetView(ctx context.Context, txID string) (*View, error)

	// SetView caches a terminal transaction view with bounded TTL.
	SetView(ctx context.Context, txID string, view *View, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used for velocity aggregates (transaction count in a window).
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetCounter returns the current counter value and whether a live
	// counter exists for the key. A missing or expired counter is not an
	// error.
	GetCounter(ctx context.Context, key string) (int64, bool, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (default tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
