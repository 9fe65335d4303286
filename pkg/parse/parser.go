package parse

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the rendering service has no page for a title.
var ErrNotFound = errors.New("parse: page not found")

// Parser returns the full rendered markup for a page title.
type Parser interface {
	// Parse returns the markup for title. When useCache is true a cached
	// rendering may be returned instead of asking the service.
	Parse(ctx context.Context, useCache bool, title string) (string, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, useCache bool, title string) (string, error)

// Parse calls f.
func (f ParserFunc) Parse(ctx context.Context, useCache bool, title string) (string, error) {
	return f(ctx, useCache, title)
}

// Callback runs p in its own goroutine and invokes done exactly once with the result.
func Callback(ctx context.Context, p Parser, useCache bool, title string, done func(html string, err error)) {
	go func() {
		html, err := p.Parse(ctx, useCache, title)
		done(html, err)
	}()
}
