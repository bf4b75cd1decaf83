package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// AdmissionDecisions counts admission outcomes by actor kind and reason
	AdmissionDecisions *prometheus.CounterVec
	// GraceBypasses counts denials converted to allows by the repeat-lookup rule
	GraceBypasses *prometheus.CounterVec
	// UsageCommits counts committed usage events by reason tag
	UsageCommits *prometheus.CounterVec
	// PoolUtilization tracks daily pool usage percentage by account
	PoolUtilization *prometheus.GaugeVec
	// StoreErrors counts storage failures by operation
	StoreErrors *prometheus.CounterVec
	// LookupRequests counts vehicle lookups by outcome and source
	LookupRequests *prometheus.CounterVec
	// AlertsSent counts notifications by channel and severity
	AlertsSent *prometheus.CounterVec
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		AdmissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Total number of admission decisions",
			},
			[]string{"outcome", "reason", "actor_kind"},
		),
		GraceBypasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "grace_bypasses_total",
				Help:      "Total number of denials bypassed by the repeat-lookup window",
			},
			[]string{"reason"},
		),
		UsageCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_commits_total",
				Help:      "Total number of committed usage events",
			},
			[]string{"reason_tag"},
		),
		PoolUtilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_utilization_percent",
				Help:      "Daily pool usage percentage per account",
			},
			[]string{"account_id"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of storage failures",
			},
			[]string{"operation"},
		),
		LookupRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_requests_total",
				Help:      "Total number of vehicle lookups",
			},
			[]string{"outcome", "source"},
		),
		AlertsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_sent_total",
				Help:      "Total number of alert notifications sent",
			},
			[]string{"channel", "severity"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.AdmissionDecisions,
		m.GraceBypasses,
		m.UsageCommits,
		m.PoolUtilization,
		m.StoreErrors,
		m.LookupRequests,
		m.AlertsSent,
		m.ErrorCounter,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordAdmissionDecision records an admission outcome
func (m *Metrics) RecordAdmissionDecision(outcome, reason, actorKind string) {
	if reason == "" {
		reason = "none"
	}
	m.AdmissionDecisions.WithLabelValues(outcome, reason, actorKind).Inc()
}

// RecordGraceBypass records a denial converted to an allow
func (m *Metrics) RecordGraceBypass(reason string) {
	m.GraceBypasses.WithLabelValues(reason).Inc()
}

// RecordUsageCommit records a committed usage event
func (m *Metrics) RecordUsageCommit(reasonTag string) {
	if reasonTag == "" {
		reasonTag = "none"
	}
	m.UsageCommits.WithLabelValues(reasonTag).Inc()
}

// SetPoolUtilization sets the daily pool usage percentage for an account
func (m *Metrics) SetPoolUtilization(accountID string, percent float64) {
	m.PoolUtilization.WithLabelValues(accountID).Set(percent)
}

// RecordStoreError records a storage failure
func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordLookup records a vehicle lookup
func (m *Metrics) RecordLookup(outcome, source string) {
	m.LookupRequests.WithLabelValues(outcome, source).Inc()
}

// RecordAlertSent records a sent alert notification
func (m *Metrics) RecordAlertSent(channel, severity string) {
	m.AlertsSent.WithLabelValues(channel, severity).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
