package config

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/collab/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "collab.json"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultCacheTTL is how long rendered pages stay in the parse cache.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultRedisPrefix namespaces parse cache keys in Redis.
	DefaultRedisPrefix = "collab:parse:"
)

// Config represents the complete collab.json configuration.
type Config struct {
	// Server contains listener and lifecycle settings.
	Server ServerConfig `json:"server"`

	// Session contains per-connection settings.
	Session SessionConfig `json:"session"`

	// Parse configures the document render service.
	Parse ParseConfig `json:"parse"`

	// Redis configures the shared parse cache. Empty Addr selects the in-memory cache.
	Redis RedisConfig `json:"redis"`

	// S3 configures page publishing. Empty Bucket logs saves instead.
	S3 S3Config `json:"s3"`

	// Log configures the process logger.
	Log LogConfig `json:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains listener and lifecycle settings.
type ServerConfig struct {
	Address         string   `json:"address,omitempty"`
	ShutdownTimeout Duration `json:"shutdownTimeout,omitempty"`
	CleanupInterval Duration `json:"cleanupInterval,omitempty"`

	// AllowedOrigins lists WebSocket origins accepted in addition to same-origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// SessionConfig contains per-connection settings.
type SessionConfig struct {
	ReadTimeout       Duration `json:"readTimeout,omitempty"`
	WriteTimeout      Duration `json:"writeTimeout,omitempty"`
	HeartbeatInterval Duration `json:"heartbeatInterval,omitempty"`
	JoinTimeout       Duration `json:"joinTimeout,omitempty"`
	SaveTimeout       Duration `json:"saveTimeout,omitempty"`
	MaxMessageSize    int64    `json:"maxMessageSize,omitempty"`
	SendQueueSize     int      `json:"sendQueueSize,omitempty"`
}

// ParseConfig configures the render service.
type ParseConfig struct {
	// Endpoint is the base URL; pages are fetched from Endpoint/{title}.
	Endpoint string   `json:"endpoint,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
	CacheTTL Duration `json:"cacheTTL,omitempty"`
	MaxBytes int64    `json:"maxBytes,omitempty"`
}

// RedisConfig configures the Redis parse cache.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// S3Config configures the S3 publisher.
type S3Config struct {
	Bucket string `json:"bucket,omitempty"`
	Region string `json:"region,omitempty"`
	Prefix string `json:"prefix,omitempty"`

	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint string `json:"endpoint,omitempty"`

	// UsePathStyle addresses buckets by path instead of virtual host.
	UsePathStyle bool `json:"usePathStyle,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads collab.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E101").
				WithDetail("No " + filepath.Base(path) + " found in " + filepath.Dir(path)).
				WithSuggestion("Pass --config with the path to collab.json, or run without --config to use defaults")
		}
		return nil, errors.New("E102").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E102").
			WithDetail("Failed to parse " + path + ": " + err.Error()).
			WithSuggestion("Check that the file is valid JSON and durations are strings like \"30s\"")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E108").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E108").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	// Server
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(30 * time.Second)
	}
	if c.Server.CleanupInterval == 0 {
		c.Server.CleanupInterval = Duration(30 * time.Second)
	}

	// Session
	s := &c.Session
	if s.ReadTimeout == 0 {
		s.ReadTimeout = Duration(60 * time.Second)
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = Duration(10 * time.Second)
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = Duration(30 * time.Second)
	}
	if s.JoinTimeout == 0 {
		s.JoinTimeout = Duration(15 * time.Second)
	}
	if s.SaveTimeout == 0 {
		s.SaveTimeout = Duration(30 * time.Second)
	}
	if s.MaxMessageSize == 0 {
		s.MaxMessageSize = 1 << 20
	}
	if s.SendQueueSize == 0 {
		s.SendQueueSize = 256
	}

	// Parse
	if c.Parse.Timeout == 0 {
		c.Parse.Timeout = Duration(10 * time.Second)
	}
	if c.Parse.CacheTTL == 0 {
		c.Parse.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.Parse.MaxBytes == 0 {
		c.Parse.MaxBytes = 8 << 20
	}

	// Redis
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return errors.New("E103").
			WithDetail("server.address " + c.Server.Address + ": " + err.Error())
	}

	durations := []struct {
		name string
		d    Duration
	}{
		{"server.shutdownTimeout", c.Server.ShutdownTimeout},
		{"server.cleanupInterval", c.Server.CleanupInterval},
		{"session.readTimeout", c.Session.ReadTimeout},
		{"session.writeTimeout", c.Session.WriteTimeout},
		{"session.heartbeatInterval", c.Session.HeartbeatInterval},
		{"session.joinTimeout", c.Session.JoinTimeout},
		{"session.saveTimeout", c.Session.SaveTimeout},
		{"parse.timeout", c.Parse.Timeout},
		{"parse.cacheTTL", c.Parse.CacheTTL},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return errors.New("E104").WithDetail(d.name + " must be positive, got " + d.d.String())
		}
	}
	if c.Session.HeartbeatInterval >= c.Session.ReadTimeout {
		return errors.New("E104").
			WithDetail("session.heartbeatInterval must be shorter than session.readTimeout").
			WithSuggestion("Pings keep the read deadline alive; use roughly half the read timeout")
	}

	if c.Session.MaxMessageSize <= 0 || c.Session.SendQueueSize <= 0 || c.Parse.MaxBytes <= 0 {
		return errors.New("E107")
	}

	if strings.TrimSpace(c.Parse.Endpoint) == "" {
		return errors.New("E105").
			WithSuggestion("Set parse.endpoint in collab.json or pass --parse-endpoint")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		return errors.New("E106").
			WithDetail("s3.bucket is set to " + c.S3.Bucket + " but s3.region is empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf(errors.CategoryConfig, "log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	return nil
}

// UsesRedis reports whether the parse cache should live in Redis.
func (c *Config) UsesRedis() bool {
	return c.Redis.Addr != ""
}

// UsesS3 reports whether saves are published to S3.
func (c *Config) UsesS3() bool {
	return c.S3.Bucket != ""
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
