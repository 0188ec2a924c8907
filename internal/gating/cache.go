package gating

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache remembers positive membership results for a while.
type Cache interface {
	Get(ctx context.Context, key string) (Status, bool)
	Set(ctx context.Context, key string, s Status)
	Delete(ctx context.Context, key string)
}

type entry struct {
	status Status
	exp    time.Time
}

// MemoryCache is an in-process Cache with a fixed TTL.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]entry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryCache creates a MemoryCache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{data: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Status, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.now().After(e.exp) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return "", false
	}
	return e.status, true
}

func (c *MemoryCache) Set(_ context.Context, key string, s Status) {
	c.mu.Lock()
	c.data[key] = entry{status: s, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

const redisPrefix = "catalog_bot:membership:"

// RedisCache stores membership results in Redis. Redis errors are logged and
// treated as cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache. addr is either host:port or a redis:// URL.
func NewRedisCache(addr string, ttl time.Duration, logger *slog.Logger) *RedisCache {
	opts := &redis.Options{Addr: addr}
	if u, err := redis.ParseURL(addr); err == nil {
		opts = u
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl, logger: logger}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string) (Status, bool) {
	v, err := c.client.Get(ctx, redisPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Warn("redis get", "key", key, "error", err)
		return "", false
	}
	return Status(v), true
}

func (c *RedisCache) Set(ctx context.Context, key string, s Status) {
	if err := c.client.Set(ctx, redisPrefix+key, string(s), c.ttl).Err(); err != nil {
		c.logger.Warn("redis set", "key", key, "error", err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, redisPrefix+key).Err(); err != nil {
		c.logger.Warn("redis del", "key", key, "error", err)
	}
}
