package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/opensource-clinical/riskcalc/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("NoExpiry", func(t *testing.T) {
		_ = cache.Set(ctx, "forever", []byte("kept"), 0)

		val, _ := cache.Get(ctx, "forever")
		if string(val) != "kept" {
			t.Errorf("expected 'kept', got '%s'", string(val))
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, "client:10.0.0.1", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, "client:10.0.0.1", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		other, _ := cache.IncrementCounter(ctx, "client:10.0.0.2", window)
		if other != 1 {
			t.Errorf("expected independent counter, got %d", other)
		}

		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, "client:10.0.0.1", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("CalculationCache", func(t *testing.T) {
		result := &domain.CalculationResult{
			ID:        "calc-001",
			Specialty: "Thoracic",
			Inputs:    map[string]string{"age": "70"},
			Outcomes: []domain.ModelOutcome{
				{Model: "Thoracic 30-day mortality estimate", Probability: 0.12, Sum: -1.99},
			},
		}

		if err := cache.SetCalculation(ctx, result, time.Minute); err != nil {
			t.Fatalf("SetCalculation failed: %v", err)
		}

		retrieved, err := cache.GetCalculation(ctx, "calc-001")
		if err != nil {
			t.Fatalf("GetCalculation failed: %v", err)
		}
		if retrieved == nil {
			t.Fatal("expected cached calculation")
		}
		if retrieved.Specialty != "Thoracic" {
			t.Errorf("expected specialty Thoracic, got %s", retrieved.Specialty)
		}
		if len(retrieved.Outcomes) != 1 || retrieved.Outcomes[0].Probability != 0.12 {
			t.Errorf("unexpected outcomes: %+v", retrieved.Outcomes)
		}

		missing, err := cache.GetCalculation(ctx, "calc-404")
		if err != nil || missing != nil {
			t.Errorf("expected nil, nil for uncached calculation, got %v, %v", missing, err)
		}
	})

	t.Run("CorruptCalculation", func(t *testing.T) {
		_ = cache.Set(ctx, calculationPrefix+"bad", []byte("{"), time.Minute)

		if _, err := cache.GetCalculation(ctx, "bad"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	remote := NewLRUCache(100)
	cache := newTwoPhaseCache(NewLRUCache(10), remote, time.Minute)

	t.Run("WritesBothLevels", func(t *testing.T) {
		_ = cache.Set(ctx, "k", []byte("v"), time.Hour)

		val, _ := remote.Get(ctx, "k")
		if string(val) != "v" {
			t.Errorf("expected L2 to hold 'v', got '%s'", string(val))
		}
		val, _ = cache.local.Get(ctx, "k")
		if string(val) != "v" {
			t.Errorf("expected L1 to hold 'v', got '%s'", string(val))
		}
	})

	t.Run("PopulatesL1OnL2Hit", func(t *testing.T) {
		_ = remote.Set(ctx, "only-remote", []byte("r"), time.Hour)

		val, err := cache.Get(ctx, "only-remote")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "r" {
			t.Errorf("expected 'r', got '%s'", string(val))
		}

		local, _ := cache.local.Get(ctx, "only-remote")
		if local == nil {
			t.Error("expected L1 to be populated")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "gone", []byte("x"), time.Hour)
		_ = cache.Delete(ctx, "gone")

		val, _ := cache.Get(ctx, "gone")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("CountersUseL2", func(t *testing.T) {
		_, _ = cache.IncrementCounter(ctx, "shared", time.Minute)
		n, _ := remote.IncrementCounter(ctx, "shared", time.Minute)
		if n != 2 {
			t.Errorf("expected shared count 2, got %d", n)
		}
	})

	t.Run("LocalTTL", func(t *testing.T) {
		if got := cache.localTTL(time.Hour); got != time.Minute {
			t.Errorf("expected L1 TTL capped at 1m, got %v", got)
		}
		if got := cache.localTTL(time.Second); got != time.Second {
			t.Errorf("expected 1s, got %v", got)
		}
		if got := cache.localTTL(0); got != time.Minute {
			t.Errorf("expected 1m for no expiry, got %v", got)
		}
	})
}

func TestRedisCacheBreaker(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := newRedisCache(client)
	defer cache.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := cache.Get(ctx, "k"); err == nil {
			t.Fatal("expected connection error")
		}
	}

	if cache.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %v", cache.BreakerState())
	}
	if err := cache.Ping(ctx); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if cache.makeKey("calc:1") != "riskcalc:calc:1" {
		t.Errorf("unexpected key %q", cache.makeKey("calc:1"))
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		if _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
