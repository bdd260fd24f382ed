// Package cache provides caching implementations for riskcalc.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

// LRUCache is a thread-safe LRU cache with per-entry TTLs.
// Used as the standalone cache and as L1 in two-phase caching.
type LRUCache struct {
	maxSize  int
	items    *lru.Cache[string, cacheEntry]
	counters *lru.Cache[string, *counterEntry]

	// counterMu makes read-modify-write of a counter atomic.
	counterMu sync.Mutex
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// expired reports whether the entry has a deadline that has passed.
func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	// lru.New only fails for a non-positive size.
	items, _ := lru.New[string, cacheEntry](maxSize)
	counters, _ := lru.New[string, *counterEntry](maxSize)
	return &LRUCache{
		maxSize:  maxSize,
		items:    items,
		counters: counters,
	}
}

// Get retrieves a value from cache. Returns nil, nil on a miss.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := c.items.Get(key)
	if !ok {
		return nil, nil
	}
	if entry.expired(time.Now()) {
		c.items.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value in cache. A non-positive ttl never expires.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.items.Add(key, entry)
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.items.Remove(key)
	return nil
}

// GetCalculation retrieves a cached calculation result.
func (c *LRUCache) GetCalculation(ctx context.Context, id string) (*domain.CalculationResult, error) {
	return getCalculation(ctx, c, id)
}

// SetCalculation caches a calculation result.
func (c *LRUCache) SetCalculation(ctx context.Context, result *domain.CalculationResult, ttl time.Duration) error {
	return setCalculation(ctx, c, result, ttl)
}

// IncrementCounter atomically increments a counter. The counter restarts at 1
// once window has passed since its first increment.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()

	now := time.Now()
	entry, ok := c.counters.Get(key)
	if !ok || now.After(entry.expiresAt) {
		c.counters.Add(key, &counterEntry{count: 1, expiresAt: now.Add(window)})
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.items.Purge()
	c.counters.Purge()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.items.Len(), c.maxSize
}
