package middleware

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records request counts and durations on reg under namespace.
//
// Metrics collected:
//   - <namespace>_http_requests_total: Counter by route pattern, method and status
//   - <namespace>_http_request_duration_seconds: Histogram by route pattern and method
//
// Route patterns come from chi, so /documents and /documents?x=1 share a series.
// Unmatched requests are labeled "unmatched". Each call registers new
// collectors; call it once per registry.
func Metrics(reg prometheus.Registerer, namespace string) func(http.Handler) http.Handler {
	factory := promauto.With(reg)

	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			pattern := routePattern(r)
			requests.WithLabelValues(pattern, r.Method, strconv.Itoa(m.Code)).Inc()
			duration.WithLabelValues(pattern, r.Method).Observe(m.Duration.Seconds())
		})
	}
}

// routePattern returns the chi route pattern matched for r.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}
