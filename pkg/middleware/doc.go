// Package middleware provides net/http middleware for the collaboration server.
//
// This package includes:
//   - AccessLog: structured request logging via httpsnoop
//   - Metrics: Prometheus request counters and latency histograms
//   - Tracing: OpenTelemetry server spans
//   - Recoverer: panic recovery with a logged stack
//
// All middleware have the func(http.Handler) http.Handler shape and plug
// into chi directly:
//
//	r := chi.NewRouter()
//	r.Use(middleware.Recoverer(logger))
//	r.Use(middleware.AccessLog(logger))
//	r.Use(middleware.Metrics(registry, "collab"))
//
// Wrapped response writers keep http.Hijacker, so WebSocket upgrades pass
// through every middleware in this package.
package middleware
