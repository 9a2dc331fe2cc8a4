// Package metrics holds the Prometheus collectors exported by the chat
// server. All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	Buckets     []float64
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// Metrics is the set of collectors for one server instance.
type Metrics struct {
	connections    prometheus.Gauge
	relays         prometheus.Gauge
	sessions       *prometheus.CounterVec
	messages       *prometheus.CounterVec
	broadcastDrops prometheus.Counter
	busErrors      *prometheus.CounterVec
	presenceErrors prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer, opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "openchatroom",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "connections",
			Help:        "Number of live room connections on this instance",
			ConstLabels: cfg.ConstLabels,
		}),
		relays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "room_relays",
			Help:        "Number of rooms with an active bus subscription on this instance",
			ConstLabels: cfg.ConstLabels,
		}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "sessions_total",
			Help:        "Room sessions by final outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"outcome"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_total",
			Help:        "Inbound chat messages by outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"outcome"}),
		broadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "broadcast_drops_total",
			Help:        "Deliveries dropped because a connection could not accept them",
			ConstLabels: cfg.ConstLabels,
		}),
		busErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "bus_errors_total",
			Help:        "Broadcast bus failures by operation",
			ConstLabels: cfg.ConstLabels,
		}, []string{"op"}),
		presenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "presence_errors_total",
			Help:        "Presence store failures",
			ConstLabels: cfg.ConstLabels,
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "http_requests_total",
			Help:        "HTTP requests by route pattern and status code",
			ConstLabels: cfg.ConstLabels,
		}, []string{"route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"route"}),
	}
}

// ConnectionOpened records a registered room connection.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

// ConnectionClosed records an unregistered room connection.
func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// RelayStarted records a new room subscription.
func (m *Metrics) RelayStarted() {
	if m != nil {
		m.relays.Inc()
	}
}

// RelayStopped records a released room subscription.
func (m *Metrics) RelayStopped() {
	if m != nil {
		m.relays.Dec()
	}
}

// SessionEnded records how a session finished.
func (m *Metrics) SessionEnded(outcome string) {
	if m != nil {
		m.sessions.WithLabelValues(outcome).Inc()
	}
}

// Message records the outcome of one inbound message.
func (m *Metrics) Message(outcome string) {
	if m != nil {
		m.messages.WithLabelValues(outcome).Inc()
	}
}

// BroadcastDropped records a delivery that could not be queued.
func (m *Metrics) BroadcastDropped() {
	if m != nil {
		m.broadcastDrops.Inc()
	}
}

// BusError records a bus failure for op ("publish" or "subscribe").
func (m *Metrics) BusError(op string) {
	if m != nil {
		m.busErrors.WithLabelValues(op).Inc()
	}
}

// PresenceError records a presence store failure.
func (m *Metrics) PresenceError() {
	if m != nil {
		m.presenceErrors.Inc()
	}
}

// HTTPRequest records one served HTTP request.
func (m *Metrics) HTTPRequest(route string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}
