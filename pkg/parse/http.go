package parse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPParser fetches markup with GET {endpoint}/{escaped title}.
type HTTPParser struct {
	endpoint string
	client   *http.Client
	maxBytes int64
}

// HTTPOption configures an HTTPParser.
type HTTPOption func(*HTTPParser)

// WithHTTPClient sets the HTTP client. Default: a client with a 30 second timeout.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPParser) {
		p.client = c
	}
}

// WithMaxBytes limits the accepted response size. Default: 8MB.
func WithMaxBytes(n int64) HTTPOption {
	return func(p *HTTPParser) {
		p.maxBytes = n
	}
}

// NewHTTPParser creates a parser for the rendering service at endpoint.
func NewHTTPParser(endpoint string, opts ...HTTPOption) *HTTPParser {
	p := &HTTPParser{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: 8 << 20,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse implements Parser. useCache is ignored; caching is layered on by CachingParser.
func (p *HTTPParser) Parse(ctx context.Context, useCache bool, title string) (string, error) {
	u := p.endpoint + "/" + url.PathEscape(title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("parse: build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("parse: fetch %q: %w", title, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %q", ErrNotFound, title)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("parse: fetch %q: unexpected status %d", title, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("parse: read %q: %w", title, err)
	}
	if int64(len(body)) > p.maxBytes {
		return "", fmt.Errorf("parse: %q exceeds %d bytes", title, p.maxBytes)
	}
	return string(body), nil
}
