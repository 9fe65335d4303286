package parse

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheClosed is returned by a closed MemoryCache.
var ErrCacheClosed = errors.New("parse: cache closed")

// MemoryCache is an in-process Cache with per-entry expiry.
// For multi-server deployments, use RedisCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedPage
	closed  bool
	done    chan struct{}
}

type cachedPage struct {
	html      string
	expiresAt time.Time
}

// MemoryCacheOption configures MemoryCache behavior.
type MemoryCacheOption func(*memoryCacheConfig)

type memoryCacheConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired entries are removed.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryCacheOption {
	return func(c *memoryCacheConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryCache creates an empty MemoryCache and starts its cleanup loop.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	cfg := &memoryCacheConfig{
		cleanupInterval: 1 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &MemoryCache{
		entries: make(map[string]*cachedPage),
		done:    make(chan struct{}),
	}

	go c.cleanupLoop(cfg.cleanupInterval)
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(ctx context.Context, title string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", false, ErrCacheClosed
	}

	e, ok := c.entries[title]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.html, true, nil
}

// Set implements Cache. A non-positive ttl deletes the entry.
func (c *MemoryCache) Set(ctx context.Context, title, html string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}
	if ttl <= 0 {
		delete(c.entries, title)
		return nil
	}

	c.entries[title] = &cachedPage{
		html:      html,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}
	delete(c.entries, title)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup loop and drops all entries.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	c.entries = nil
	return nil
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	now := time.Now()
	for title, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, title)
		}
	}
}
