package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pricelens/backend/internal/domain"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache() (*MemoryCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(0)
	c.now = clock.Now
	return c, clock
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		key   string
		value []byte
		ttl   time.Duration
	}{
		{name: "store and retrieve text", key: "comparison:arroz", value: []byte("arroz"), ttl: time.Minute},
		{name: "store and retrieve json", key: "comparison:leche", value: []byte(`{"nombre":"Leche"}`), ttl: time.Minute},
		{name: "store empty value", key: "comparison:vacio", value: []byte{}, ttl: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache()

			if err := c.Set(ctx, tt.key, tt.value, tt.ttl); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, err := c.Get(ctx, tt.key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != string(tt.value) {
				t.Errorf("Get() = %q, want %q", got, tt.value)
			}
		})
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	clock.Advance(time.Second)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Errorf("Get() after expiry error = %v, want ErrCacheMiss", err)
	}
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Error("Exists() = true after expiry")
	}

	c.evictExpired()
	if c.Size() != 0 {
		t.Errorf("Size() = %d after eviction, want 0", c.Size())
	}
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	value := []byte("original")
	_ = c.Set(ctx, "k", value, time.Minute)
	value[0] = 'X'

	got, _ := c.Get(ctx, "k")
	if string(got) != "original" {
		t.Fatalf("stored value changed with caller buffer: %q", got)
	}

	got[0] = 'Y'
	again, _ := c.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("stored value changed with returned buffer: %q", again)
	}
}

func TestMemoryCache_GetMissing(t *testing.T) {
	c, _ := newTestCache()
	if _, err := c.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCache_DeleteAndExists(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	if ok, err := c.Exists(ctx, "k"); err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true", ok, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Error("Exists() = true after Delete")
	}
}

func TestMemoryCache_NonPositiveTTLRemoves(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()

	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	_ = c.Set(ctx, "k", []byte("v2"), 0)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Millisecond)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			_ = c.Set(ctx, key, []byte{byte(i)}, time.Minute)
			_, _ = c.Get(ctx, key)
			_, _ = c.Exists(ctx, key)
		}(i)
	}
	wg.Wait()

	if c.Size() != 26 {
		t.Errorf("Size() = %d, want 26", c.Size())
	}
	c.Close()
}
