package domain

import (
	"context"
	"time"
)

// Cache backs the velocity counters and hot lookups. Implementations
// are a local LRU, Redis, or a two-phase combination of both.
type Cache interface {
	// Get returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically bumps a counter that expires after
	// window and returns the new value. Velocity checks rely on the
	// expiry matching their sliding window.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetCounter reads a counter without bumping it; found is false
	// when the counter is absent or expired.
	GetCounter(ctx context.Context, key string) (count int64, found bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string

	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase layers the local LRU in front of Redis.
	EnableTwoPhase bool
}
