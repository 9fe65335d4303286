// Package publish hands finished pages to the page-save pipeline.
//
// A Publisher receives a Page when a session holding publish rights saves
// its document. The collaboration server does not interpret the result
// beyond success or failure.
package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrEmptyTitle is returned when a Page has no title.
var ErrEmptyTitle = errors.New("publish: empty title")

// Page is a saved document revision.
type Page struct {
	Title    string
	HTML     string
	Revision uint64
	UserID   string
	Summary  string
}

// Publisher stores or forwards saved pages.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, page Page) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, page Page) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, page Page) error {
	return f(ctx, page)
}

// LogPublisher records saves in the log and keeps nothing.
// Used when no storage backend is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("component", "publish")}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, page Page) error {
	if page.Title == "" {
		return ErrEmptyTitle
	}
	p.logger.InfoContext(ctx, "page saved",
		"title", page.Title,
		"revision", page.Revision,
		"user_id", page.UserID,
		"bytes", len(page.HTML),
		"summary", page.Summary,
		"at", time.Now().UTC().Format(time.RFC3339),
	)
	return nil
}
