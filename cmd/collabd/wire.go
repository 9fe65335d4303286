package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/collab/internal/config"
	"github.com/vango-dev/collab/internal/errors"
	"github.com/vango-dev/collab/pkg/parse"
	"github.com/vango-dev/collab/pkg/publish"
	"github.com/vango-dev/collab/pkg/server"
)

// newLogger builds the process logger and installs it as the slog default.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// buildServer assembles the parse cache, parser, publisher and server from cfg.
// cleanup releases the cache and its Redis client.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Server, func(), error) {
	cache, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		closeCache()
		return nil, nil, err
	}

	sessionCfg := &server.SessionConfig{
		ReadTimeout:       cfg.Session.ReadTimeout.Std(),
		WriteTimeout:      cfg.Session.WriteTimeout.Std(),
		HeartbeatInterval: cfg.Session.HeartbeatInterval.Std(),
		JoinTimeout:       cfg.Session.JoinTimeout.Std(),
		SaveTimeout:       cfg.Session.SaveTimeout.Std(),
		MaxMessageSize:    cfg.Session.MaxMessageSize,
		SendQueueSize:     cfg.Session.SendQueueSize,
	}

	serverCfg := server.DefaultServerConfig().
		WithAddress(cfg.Server.Address).
		WithSessionConfig(sessionCfg).
		WithParser(newParser(cfg, cache)).
		WithPublisher(publisher)
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout.Std()
	serverCfg.CleanupInterval = cfg.Server.CleanupInterval.Std()
	if len(cfg.Server.AllowedOrigins) > 0 {
		serverCfg.CheckOrigin = server.AllowOrigins(cfg.Server.AllowedOrigins...)
	}

	return server.New(serverCfg), closeCache, nil
}

// newCache returns the Redis cache when an address is configured, else an
// in-memory cache.
func newCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (parse.Cache, func(), error) {
	if !cfg.UsesRedis() {
		mem := parse.NewMemoryCache()
		return mem, func() { mem.Close() }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, errors.New("E120").
			WithDetail("redis at " + cfg.Redis.Addr + " did not answer PING").
			WithSuggestion("Check redis.addr, or remove it to use the in-memory cache").
			Wrap(err)
	}

	logger.Info("parse cache using redis", "component", "cache", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	return parse.NewRedisCache(client, parse.WithRedisPrefix(cfg.Redis.Prefix)), func() { client.Close() }, nil
}

// newParser fronts the render service with cache.
func newParser(cfg *config.Config, cache parse.Cache) parse.Parser {
	httpParser := parse.NewHTTPParser(cfg.Parse.Endpoint,
		parse.WithHTTPClient(&http.Client{Timeout: cfg.Parse.Timeout.Std()}),
		parse.WithMaxBytes(cfg.Parse.MaxBytes),
	)
	return parse.NewCachingParser(httpParser, cache, cfg.Parse.CacheTTL.Std())
}

// newPublisher returns the S3 publisher when a bucket is configured, else a
// publisher that only logs saves.
func newPublisher(cfg *config.Config, logger *slog.Logger) (publish.Publisher, error) {
	if !cfg.UsesS3() {
		return publish.NewLogPublisher(logger), nil
	}

	opts := s3.Options{
		Region:       cfg.S3.Region,
		Credentials:  aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
		UsePathStyle: cfg.S3.UsePathStyle,
	}
	if cfg.S3.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3.Endpoint)
	}

	logger.Info("publishing saves to s3", "component", "publish", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	return publish.NewS3Publisher(s3.New(opts), cfg.S3.Bucket, cfg.S3.Prefix), nil
}

// envCredentials reads static AWS credentials from the environment.
func envCredentials(ctx context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, fmt.Errorf("collabd: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "EnvironmentVariables",
	}, nil
}
