package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Join outcomes recorded by Metrics.
const (
	joinOK      = "ok"
	joinFailed  = "failed"
	joinTimeout = "timeout"
	joinInvalid = "invalid"
)

// Metrics holds the server's Prometheus collectors.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	activeRoutes      prometheus.Gauge
	participants      prometheus.Gauge
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	transactions      *prometheus.CounterVec
	joins             *prometheus.CounterVec
	joinDuration      prometheus.Histogram
	broadcasts        prometheus.Counter
	droppedClients    prometheus.Counter
	panics            prometheus.Counter
	saves             *prometheus.CounterVec
}

// NewMetrics registers the server collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeRoutes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_routes",
			Help:      "Number of documents with a live route",
		}),

		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_participants",
			Help:      "Number of joined participants across all routes",
		}),

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted WebSocket connections",
		}),

		transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions by result (applied or rejected)",
		}, []string{"result"}),

		joins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by outcome",
		}, []string{"outcome"}),

		joinDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "join_duration_seconds",
			Help:      "Time from join request to document transfer",
			Buckets:   prometheus.DefBuckets,
		}),

		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_messages_total",
			Help:      "Messages enqueued to participants by broadcasts",
		}),

		droppedClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_clients_total",
			Help:      "Connections closed because their send queue was full",
		}),

		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Document saves by outcome",
		}, []string{"outcome"}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Connections closed after a handler panic",
		}),
	}
}

// RecordRouteCreated records a new route.
func (m *Metrics) RecordRouteCreated() {
	if m != nil {
		m.activeRoutes.Inc()
	}
}

// RecordRouteRemoved records a removed route.
func (m *Metrics) RecordRouteRemoved() {
	if m != nil {
		m.activeRoutes.Dec()
	}
}

// RecordConnOpen records an accepted connection.
func (m *Metrics) RecordConnOpen() {
	if m != nil {
		m.connectionsTotal.Inc()
		m.activeConnections.Inc()
	}
}

// RecordConnClose records a closed connection.
func (m *Metrics) RecordConnClose() {
	if m != nil {
		m.activeConnections.Dec()
	}
}

// RecordJoin records a join attempt.
func (m *Metrics) RecordJoin(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(outcome).Inc()
	if outcome == joinOK {
		m.participants.Inc()
		m.joinDuration.Observe(d.Seconds())
	}
}

// RecordLeave records a participant leaving its route.
func (m *Metrics) RecordLeave() {
	if m != nil {
		m.participants.Dec()
	}
}

// RecordTransaction records an applied or rejected transaction.
func (m *Metrics) RecordTransaction(applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.transactions.WithLabelValues("applied").Inc()
	} else {
		m.transactions.WithLabelValues("rejected").Inc()
	}
}

// RecordBroadcast records n enqueued broadcast messages.
func (m *Metrics) RecordBroadcast(n int) {
	if m != nil && n > 0 {
		m.broadcasts.Add(float64(n))
	}
}

// RecordDroppedClient records a slow consumer disconnect.
func (m *Metrics) RecordDroppedClient() {
	if m != nil {
		m.droppedClients.Inc()
	}
}

// RecordSave records a save attempt.
func (m *Metrics) RecordSave(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.saves.WithLabelValues("ok").Inc()
	} else {
		m.saves.WithLabelValues("failed").Inc()
	}
}

// RecordPanic records a connection closed by a recovered handler panic.
func (m *Metrics) RecordPanic() {
	if m != nil {
		m.panics.Inc()
	}
}
