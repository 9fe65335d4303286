package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/collab/pkg/document"
	"github.com/vango-dev/collab/pkg/middleware"
	"github.com/vango-dev/collab/pkg/publish"
	"github.com/vango-dev/collab/pkg/route"
)

// metricsNamespace prefixes every server metric.
const metricsNamespace = "collab"

// Server is the HTTP/WebSocket collaboration server.
type Server struct {
	config   *ServerConfig
	registry *route.Registry
	metrics  *Metrics
	prom     *prometheus.Registry

	upgrader websocket.Upgrader
	router   chi.Router

	httpServer *http.Server

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once

	logger *slog.Logger
}

// New creates a new Server with the given configuration.
// The route cleanup loop starts immediately; Shutdown stops it.
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		// Fill in defaults for any unset fields
		config = config.Clone()
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.ReadBufferSize == 0 {
			config.ReadBufferSize = defaults.ReadBufferSize
		}
		if config.WriteBufferSize == 0 {
			config.WriteBufferSize = defaults.WriteBufferSize
		}
		if config.CheckOrigin == nil {
			config.CheckOrigin = defaults.CheckOrigin
		}
		if config.SessionConfig == nil {
			config.SessionConfig = defaults.SessionConfig
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
		if config.CleanupInterval == 0 {
			config.CleanupInterval = defaults.CleanupInterval
		}
	}
	config.SessionConfig.fillDefaults()

	logger := slog.Default().With("component", "server")
	if config.Publisher == nil {
		config.Publisher = publish.NewLogPublisher(logger)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if err := config.ValidateConfig(); err != nil {
		logger.Error("config validation failed", "error", err)
	}

	s := &Server{
		config:  config,
		metrics: NewMetrics(config.Registry, metricsNamespace),
		prom:    config.Registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		conns:  make(map[*Conn]struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}

	s.registry = route.NewRegistry(s.loadDocument,
		route.WithLoadTimeout(config.SessionConfig.JoinTimeout),
		route.WithLogger(slog.Default()),
		route.WithHooks(
			func(string) { s.metrics.RecordRouteCreated() },
			func(string) { s.metrics.RecordRouteRemoved() },
		),
	)
	s.router = s.routes()

	go s.cleanupLoop()
	return s
}

// loadDocument renders title through the parser and wraps it in a new Document.
func (s *Server) loadDocument(ctx context.Context, title string) (*document.Document, error) {
	if s.config.Parser == nil {
		return nil, ErrNoParser
	}

	ctx, span := tracer().Start(ctx, "collab.route.load", trace.WithAttributes(
		attribute.String("collab.title", title),
	))
	html, err := s.config.Parser.Parse(ctx, true, title)
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("server: parse %q: %w", title, err)
	}
	return document.New(title, html), nil
}

// routes builds the HTTP router.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.AccessLog(s.logger))
	r.Use(middleware.Metrics(s.prom, metricsNamespace))

	r.Get("/ws", s.HandleWebSocket)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Tracing(tracerName))
		r.Get("/healthz", s.handleHealth)
		r.Get("/documents", s.handleDocuments)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HandleWebSocket upgrades the request and serves the connection until it closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, s.config.SessionConfig, s.metrics, s.logger)
	h := NewHandler(conn, s.registry, s.config.Publisher, s.config.SessionConfig, s.metrics, s.logger)

	if !s.track(conn) {
		conn.Close()
		go conn.WriteLoop()
		return
	}
	s.metrics.RecordConnOpen()
	s.logger.Info("client connected", "conn_id", conn.ID(), "remote_addr", r.RemoteAddr)

	go conn.WriteLoop()
	go func() {
		defer s.wg.Done()
		conn.ReadLoop(h)
		s.untrack(conn)
		s.metrics.RecordConnClose()
		s.logger.Info("client disconnected", "conn_id", conn.ID())
	}()
}

// track registers conn for shutdown. It fails once shutdown has begun.
func (s *Server) track(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// documentsResponse is the /documents body.
type documentsResponse struct {
	Documents []route.Stats `json:"documents"`
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(documentsResponse{Documents: s.registry.Stats()}); err != nil {
		s.logger.Error("documents encode failed", "error", err)
	}
}

// cleanupLoop periodically removes routes left without participants.
func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.registry.Prune(); n > 0 {
				s.logger.Info("pruned empty routes", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// Run starts the HTTP server and blocks until it fails or the process
// receives SIGINT or SIGTERM, in which case it shuts down gracefully.
func (s *Server) Run() error {
	if err := s.config.ValidateConfig(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every connection, waits for their leave protocols, then
// stops the HTTP server, all within ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	s.stopOnce.Do(func() { close(s.done) })
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("connections still open at shutdown deadline", "count", s.ConnCount())
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Registry returns the route registry.
func (s *Server) Registry() *route.Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
