package gating

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set(ctx, "@a:1", StatusMember)
	if s, ok := c.Get(ctx, "@a:1"); !ok || s != StatusMember {
		t.Fatalf("Get = %q, %v; want member, true", s, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "@a:1"); ok {
		t.Error("expected entry to expire")
	}

	c.Set(ctx, "@b:1", StatusAdministrator)
	c.Delete(ctx, "@b:1")
	if _, ok := c.Get(ctx, "@b:1"); ok {
		t.Error("expected entry to be deleted")
	}
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c := NewRedisCache(mr.Addr(), time.Minute, discardLogger())
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, ok := c.Get(ctx, "@a:1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(ctx, "@a:1", StatusCreator)
	if s, ok := c.Get(ctx, "@a:1"); !ok || s != StatusCreator {
		t.Fatalf("Get = %q, %v; want creator, true", s, ok)
	}
	if !mr.Exists(redisPrefix + "@a:1") {
		t.Error("expected key under prefix")
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, "@a:1"); ok {
		t.Error("expected entry to expire")
	}

	c.Set(ctx, "@b:2", StatusMember)
	c.Delete(ctx, "@b:2")
	if _, ok := c.Get(ctx, "@b:2"); ok {
		t.Error("expected entry to be deleted")
	}
}

func TestRedisCacheDownIsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	c := NewRedisCache(mr.Addr(), time.Minute, discardLogger())
	t.Cleanup(func() { _ = c.Close() })
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Set(ctx, "@a:1", StatusMember)
	if _, ok := c.Get(ctx, "@a:1"); ok {
		t.Error("expected miss when redis is unreachable")
	}
}
