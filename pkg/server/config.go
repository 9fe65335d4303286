package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/collab/pkg/parse"
	"github.com/vango-dev/collab/pkg/publish"
)

// SessionConfig holds configuration for individual connections.
type SessionConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a message or pong from the client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Must be shorter than ReadTimeout.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// JoinTimeout bounds a join, including route creation.
	// Default: 15 seconds.
	JoinTimeout time.Duration

	// SaveTimeout bounds a single Publisher call.
	// Default: 30 seconds.
	SaveTimeout time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 1MB.
	MaxMessageSize int64

	// SendQueueSize is the outbound queue length per connection.
	// A client whose queue fills up is disconnected.
	// Default: 256.
	SendQueueSize int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		JoinTimeout:       15 * time.Second,
		SaveTimeout:       30 * time.Second,
		MaxMessageSize:    1 << 20, // 1MB
		SendQueueSize:     256,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// fillDefaults replaces zero values with defaults.
func (c *SessionConfig) fillDefaults() {
	d := DefaultSessionConfig()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// SessionConfig is the configuration for individual connections.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// Collaborators

	// Parser renders the initial markup of a document when its route is created.
	// Required.
	Parser parse.Parser

	// Publisher receives saved pages.
	// Default: a publish.LogPublisher.
	Publisher publish.Publisher

	// Registry is the Prometheus registry for server metrics.
	// Default: a new registry, exposed on /metrics.
	Registry *prometheus.Registry

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// CleanupInterval is the interval for sweeping routes left without participants.
	// Default: 30 seconds.
	CleanupInterval time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// Parser must still be set.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         ":8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     SameOriginCheck,
		SessionConfig:   DefaultSessionConfig(),
		ShutdownTimeout: 30 * time.Second,
		CleanupInterval: 30 * time.Second,
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., same-origin request or curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}

// AllowOrigins returns an origin check that accepts same-origin requests and
// any of the listed origins (scheme://host[:port]).
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		if SameOriginCheck(r) {
			return true
		}
		_, ok := allowed[r.Header.Get("Origin")]
		return ok
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithSessionConfig sets the session configuration and returns the config for chaining.
func (c *ServerConfig) WithSessionConfig(sc *SessionConfig) *ServerConfig {
	c.SessionConfig = sc
	return c
}

// WithParser sets the parser and returns the config for chaining.
func (c *ServerConfig) WithParser(p parse.Parser) *ServerConfig {
	c.Parser = p
	return c
}

// WithPublisher sets the publisher and returns the config for chaining.
func (c *ServerConfig) WithPublisher(p publish.Publisher) *ServerConfig {
	c.Publisher = p
	return c
}

// WithRegistry sets the Prometheus registry and returns the config for chaining.
func (c *ServerConfig) WithRegistry(r *prometheus.Registry) *ServerConfig {
	c.Registry = r
	return c
}

// ValidateConfig reports configuration that cannot serve traffic.
func (c *ServerConfig) ValidateConfig() error {
	if c.Parser == nil {
		return ErrNoParser
	}
	sc := c.SessionConfig
	if sc != nil && sc.HeartbeatInterval >= sc.ReadTimeout {
		return fmt.Errorf("server: heartbeat interval %s must be shorter than read timeout %s",
			sc.HeartbeatInterval, sc.ReadTimeout)
	}
	return nil
}
