package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetCalculation retrieves a cached calculation result.
	// Returns nil, nil if it is not cached.
	GetCalculation(ctx context.Context, id string) (*CalculationResult, error)

	// SetCalculation caches a calculation result.
	SetCalculation(ctx context.Context, result *CalculationResult, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. The counter resets after window. Used for per-client quotas.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" mapstructure:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `json:"localMaxSize" mapstructure:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" mapstructure:"local_ttl"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr"`
	RedisPassword string `json:"-" mapstructure:"redis_password"`
	RedisDB       int    `json:"redisDb" mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" mapstructure:"enable_two_phase"` // If true, check local first, then Redis
}
