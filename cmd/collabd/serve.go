package main

import (
	"github.com/spf13/cobra"

	"github.com/vango-dev/collab/internal/config"
	"github.com/vango-dev/collab/internal/errors"
)

// serveFlags are command-line overrides for collab.json values.
type serveFlags struct {
	configPath    string
	address       string
	parseEndpoint string
	redisAddr     string
	s3Bucket      string
	s3Region      string
	logLevel      string
}

func serveCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration server",
		Long: `Start the HTTP/WebSocket collaboration server.

Configuration is read from collab.json when --config is given; flags
override file values. The server stops gracefully on SIGINT or SIGTERM.

Endpoints:
  /ws         WebSocket editing sessions
  /healthz    liveness probe
  /documents  open documents and participant counts
  /metrics    Prometheus metrics

Examples:
  collabd serve --parse-endpoint=http://parsoid.internal/page/html
  collabd serve --config=/etc/collab/collab.json --address=:9000
  collabd serve --config=collab.json --redis=localhost:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			return runServe(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to collab.json")
	flags.StringVarP(&f.address, "address", "a", "", "Address to listen on (default from collab.json, else :8080)")
	flags.StringVar(&f.parseEndpoint, "parse-endpoint", "", "Base URL of the render service")
	flags.StringVar(&f.redisAddr, "redis", "", "Redis address for the shared parse cache")
	flags.StringVar(&f.s3Bucket, "s3-bucket", "", "S3 bucket saved pages are published to")
	flags.StringVar(&f.s3Region, "s3-region", "", "S3 region")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f serveFlags) (*config.Config, error) {
	cfg := config.New()
	if f.configPath != "" {
		loaded, err := config.LoadFile(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.address != "" {
		cfg.Server.Address = f.address
	}
	if f.parseEndpoint != "" {
		cfg.Parse.Endpoint = f.parseEndpoint
	}
	if f.redisAddr != "" {
		cfg.Redis.Addr = f.redisAddr
	}
	if f.s3Bucket != "" {
		cfg.S3.Bucket = f.s3Bucket
	}
	if f.s3Region != "" {
		cfg.S3.Region = f.s3Region
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

	srv, cleanup, err := buildServer(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	info("collabd %s listening on %s", version, cfg.Server.Address)
	if err := srv.Run(); err != nil {
		return errors.New("E121").Wrap(err)
	}
	return nil
}
