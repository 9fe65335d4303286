package parse

import (
	"context"
	"log/slog"
	"time"
)

// Cache stores rendered markup by title.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached markup. ok is false on a miss or expiry.
	Get(ctx context.Context, title string) (html string, ok bool, err error)

	// Set stores markup for ttl.
	Set(ctx context.Context, title, html string, ttl time.Duration) error

	// Delete drops the entry for title. Missing entries are not an error.
	Delete(ctx context.Context, title string) error
}

// CachingParser serves cached markup when allowed and fills the cache on misses.
type CachingParser struct {
	next   Parser
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachingParser wraps next with cache. Entries live for ttl.
func NewCachingParser(next Parser, cache Cache, ttl time.Duration) *CachingParser {
	return &CachingParser{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: slog.Default().With("component", "parse_cache"),
	}
}

// Parse implements Parser. Cache errors are logged and fall through to next.
func (c *CachingParser) Parse(ctx context.Context, useCache bool, title string) (string, error) {
	if useCache {
		html, ok, err := c.cache.Get(ctx, title)
		if err != nil {
			c.logger.Warn("cache get failed", "title", title, "error", err)
		} else if ok {
			c.logger.Debug("cache hit", "title", title)
			return html, nil
		}
	}

	html, err := c.next.Parse(ctx, useCache, title)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, title, html, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "title", title, "error", err)
	}
	return html, nil
}
