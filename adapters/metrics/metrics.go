// Package metrics provides Prometheus metrics collection for apimech.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "apimech"

// Body limit sources for BodyTooLarge.
const (
	SourceDeclared = "declared"
	SourceMeasured = "measured"
)

// Collector holds all Prometheus metrics for apimech.
type Collector struct {
	// HTTP request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Body collector metrics
	BodyTooLarge *prometheus.CounterVec

	// Mechanics metrics
	ResponsesTotal *prometheus.CounterVec

	// Socket metrics
	SocketConnections prometheus.Gauge
	MessagesReceived  prometheus.Counter
	MessagesSent      prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		BodyTooLarge: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "body_too_large_total",
				Help:      "Requests whose body exceeded the configured limit",
			},
			[]string{"source"},
		),
		ResponsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Results sent by the handler chain, by mechanics and status class",
			},
			[]string{"mechanics", "status"},
		),
		SocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "socket_connections",
				Help:      "Number of open socket connections",
			},
		),
		MessagesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "socket_messages_received_total",
				Help:      "Total number of socket messages received",
			},
		),
		MessagesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "socket_messages_sent_total",
				Help:      "Total number of socket messages written",
			},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// StatusClass maps a status code to its class label (2xx, 4xx, ...).
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// NormalizePath reduces cardinality by replacing numeric segments.
// e.g., /users/123/orders/456 -> /users/:id/orders/:id
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg != "" && isDigits(seg) {
			segments[i] = ":id"
		}
	}
	path = strings.Join(segments, "/")
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
