// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Vesting metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	LockedUnits       prometheus.Counter
	ReleasedUnits     prometheus.Counter
	ConflictRetries   *prometheus.CounterVec
	EventSinkErrors   *prometheus.CounterVec

	// Feed metrics
	FeedClients         prometheus.Gauge
	FeedMessagesSent    prometheus.Counter
	FeedMessagesDropped prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulUnlock prometheus.Gauge
	UptimeSeconds        prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_vesting"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Vesting metrics
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "operations_total",
			Help:      "Total number of vesting operations by operation and result class",
		}, []string{"operation", "result"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "operation_duration_seconds",
			Help:      "Vesting operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		LockedUnits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "locked_units_total",
			Help:      "Total base units moved into custody",
		}),
		ReleasedUnits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "released_units_total",
			Help:      "Total base units released from custody",
		}),
		ConflictRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "conflict_retries_total",
			Help:      "Transactions retried after a concurrent modification",
		}, []string{"operation"}),
		EventSinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "event_sink_errors_total",
			Help:      "Vesting events that could not be delivered, by sink",
		}, []string{"sink"}),

		// Feed metrics
		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Currently connected websocket clients",
		}),
		FeedMessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_sent_total",
			Help:      "Total events written to websocket clients",
		}),
		FeedMessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_dropped_total",
			Help:      "Events dropped because a client buffer was full",
		}),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Latency metrics
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulUnlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_unlock_timestamp",
			Help:      "Unix timestamp of last successful unlock",
		}),
		UptimeSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler serving gatherer.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordOperation records a vesting operation outcome.
func (m *Metrics) RecordOperation(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordLocked adds amount to the locked units counter.
func (m *Metrics) RecordLocked(amount uint64) {
	if m == nil {
		return
	}
	m.LockedUnits.Add(float64(amount))
}

// RecordReleased adds amount to the released units counter.
func (m *Metrics) RecordReleased(amount uint64, at int64) {
	if m == nil {
		return
	}
	m.ReleasedUnits.Add(float64(amount))
	m.LastSuccessfulUnlock.Set(float64(at))
}

// RecordConflictRetry increments the conflict retry counter.
func (m *Metrics) RecordConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.ConflictRetries.WithLabelValues(operation).Inc()
}

// RecordEventSinkError increments the event sink error counter.
func (m *Metrics) RecordEventSinkError(sink string) {
	if m == nil {
		return
	}
	m.EventSinkErrors.WithLabelValues(sink).Inc()
}

// SetFeedClients sets the connected websocket client gauge.
func (m *Metrics) SetFeedClients(n int) {
	if m == nil {
		return
	}
	m.FeedClients.Set(float64(n))
}

// RecordFeedMessage records a websocket delivery attempt.
func (m *Metrics) RecordFeedMessage(dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.FeedMessagesDropped.Inc()
		return
	}
	m.FeedMessagesSent.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordUptime adds d to the uptime counter.
func (m *Metrics) RecordUptime(d time.Duration) {
	if m == nil {
		return
	}
	m.UptimeSeconds.Add(d.Seconds())
}
