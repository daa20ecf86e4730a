package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var s string
	if err := mc.Get(ctx, "k", &s); err != nil {
		t.Fatalf("get: %v", err)
	}
	if s != "v" {
		t.Fatalf("got %q, want v", s)
	}

	var any interface{}
	if err := mc.Get(ctx, "k", &any); err != nil {
		t.Fatalf("get interface: %v", err)
	}
	if any != "v" {
		t.Fatalf("got %v, want v", any)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()

	var s string
	if err := mc.Get(context.Background(), "absent", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", "v", 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)

	var s string
	if err := mc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expired entry must miss, got %v", err)
	}
}

func TestMemoryCacheUnsupportedDest(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", "v", time.Minute)
	var n int
	if err := mc.Get(ctx, "k", &n); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("unsupported dest must not panic, got %v", err)
	}
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", time.Minute)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "b", "2", time.Minute)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "c", "3", time.Minute)

	if ok, _ := mc.Exists(ctx, "a"); ok {
		t.Fatalf("oldest key should have been evicted")
	}
	ok, err := mc.Exists(ctx, "c")
	if err != nil || !ok {
		t.Fatalf("newest key must survive eviction: ok=%v err=%v", ok, err)
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", "v", time.Minute)
	if err := mc.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mc.Exists(ctx, "k"); ok {
		t.Fatalf("deleted key must not exist")
	}
}

func TestGenerateKey(t *testing.T) {
	if got := GenerateKey("prediction", "BTC"); got != "prediction:BTC" {
		t.Fatalf("key = %q", got)
	}
}
