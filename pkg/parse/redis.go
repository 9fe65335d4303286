package parse

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache is a Redis-backed Cache shared by every server pointing at the same Redis.
type RedisCache struct {
	client RedisClient
	prefix string
}

// RedisCacheOption configures RedisCache behavior.
type RedisCacheOption func(*RedisCache)

// WithRedisPrefix sets the key prefix. Default: "collab:parse:".
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache creates a cache on client. The client is not closed by the cache.
func NewRedisCache(client RedisClient, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: "collab:parse:",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(title string) string {
	return c.prefix + title
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, title string) (string, bool, error) {
	html, err := c.client.Get(ctx, c.key(title)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return html, true, nil
}

// Set implements Cache. A non-positive ttl deletes the entry.
func (c *RedisCache) Set(ctx context.Context, title, html string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, title)
	}
	return c.client.Set(ctx, c.key(title), html, ttl).Err()
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, title string) error {
	return c.client.Del(ctx, c.key(title)).Err()
}

// Prefix returns the key prefix.
func (c *RedisCache) Prefix() string {
	return c.prefix
}
