package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

const keyPrefix = "riskcalc:"

// incrementScript increments a counter and starts its expiry window on the
// first increment.
var incrementScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache implements Cache using Redis.
// Used as the cluster cache and as L2 in two-phase caching. Calls go through a
// circuit breaker so that an unavailable Redis fails fast.
type RedisCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisCache(client), nil
}

func newRedisCache(client *redis.Client) *RedisCache {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &RedisCache{client: client, breaker: breaker}
}

// do runs fn through the circuit breaker. A cache miss is not a failure.
func (c *RedisCache) do(fn func() (any, error)) (any, error) {
	var miss bool
	out, err := c.breaker.Execute(func() (any, error) {
		v, err := fn()
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil, nil
		}
		return v, err
	})
	if miss {
		return nil, redis.Nil
	}
	return out, err
}

// Get retrieves a value from Redis. Returns nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.do(func() (any, error) {
		return c.client.Get(ctx, c.makeKey(key)).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// Set stores a value in Redis. A non-positive ttl never expires.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	_, err := c.do(func() (any, error) {
		return nil, c.client.Set(ctx, c.makeKey(key), value, ttl).Err()
	})
	return err
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	_, err := c.do(func() (any, error) {
		return nil, c.client.Del(ctx, c.makeKey(key)).Err()
	})
	return err
}

// GetCalculation retrieves a cached calculation result.
func (c *RedisCache) GetCalculation(ctx context.Context, id string) (*domain.CalculationResult, error) {
	return getCalculation(ctx, c, id)
}

// SetCalculation caches a calculation result.
func (c *RedisCache) SetCalculation(ctx context.Context, result *domain.CalculationResult, ttl time.Duration) error {
	return setCalculation(ctx, c, result, ttl)
}

// IncrementCounter atomically increments a counter using Redis INCR with PEXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := c.makeKey("counter:" + key)

	val, err := c.do(func() (any, error) {
		return incrementScript.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
	})
	if err != nil {
		return 0, err
	}
	return val.(int64), nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	_, err := c.do(func() (any, error) {
		return nil, c.client.Ping(ctx).Err()
	})
	return err
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// BreakerState reports the circuit breaker state.
func (c *RedisCache) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *RedisCache) makeKey(key string) string {
	return keyPrefix + key
}
