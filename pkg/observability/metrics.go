package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthOutcomesTotal        *prometheus.CounterVec
	AuthDuration             *prometheus.HistogramVec
	AccountsProvisionedTotal *prometheus.CounterVec
	ProviderErrorsTotal      *prometheus.CounterVec

	// Identity store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Session metrics
	SessionOperationsTotal *prometheus.CounterVec
	SessionsPurgedTotal    prometheus.Counter

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	otel *OTelMetrics
}

// ForwardTo mirrors the authentication counters into OpenTelemetry instruments
func (m *Metrics) ForwardTo(o *OTelMetrics) *Metrics {
	if m != nil {
		m.otel = o
	}
	return m
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_auth_outcomes_total",
				Help: "Authentication attempts by flow, outcome and reason",
			},
			[]string{"flow", "outcome", "reason"},
		),
		AuthDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_auth_duration_seconds",
				Help:    "Time spent deciding an authentication attempt",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"flow"},
		),
		AccountsProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_accounts_provisioned_total",
				Help: "Federated accounts created on first sign-in",
			},
			[]string{"provider", "policy"},
		),
		ProviderErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_provider_errors_total",
				Help: "Identity provider failures reported to the failure endpoint or raised by adapters",
			},
			[]string{"provider"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_store_operations_total",
				Help: "Identity store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_store_operation_duration_seconds",
				Help:    "Identity store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		SessionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_session_operations_total",
				Help: "Session store operations",
			},
			[]string{"operation", "status"},
		),
		SessionsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_sessions_purged_total",
				Help: "Expired sessions removed by the purge job",
			},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_notifications_total",
				Help: "Notifications dispatched after account creation",
			},
			[]string{"event", "status"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthOutcomesTotal,
		m.AuthDuration,
		m.AccountsProvisionedTotal,
		m.ProviderErrorsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.SessionOperationsTotal,
		m.SessionsPurgedTotal,
		m.NotificationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// The Record* helpers are safe on a nil *Metrics so components can run
// without a registry in tests.

// RecordAuthOutcome counts a decided authentication attempt
func (m *Metrics) RecordAuthOutcome(flow, outcome, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AuthOutcomesTotal.WithLabelValues(flow, outcome, reason).Inc()
	m.AuthDuration.WithLabelValues(flow).Observe(duration.Seconds())
	m.otel.RecordAuthOutcome(context.Background(), flow, outcome, reason, duration)
}

// RecordProvisioned counts a newly created federated account
func (m *Metrics) RecordProvisioned(provider, policy string) {
	if m == nil {
		return
	}
	m.AccountsProvisionedTotal.WithLabelValues(provider, policy).Inc()
	m.otel.RecordProvisioned(context.Background(), provider, policy)
}

// RecordProviderError counts an identity provider failure
func (m *Metrics) RecordProviderError(provider string) {
	if m == nil {
		return
	}
	m.ProviderErrorsTotal.WithLabelValues(provider).Inc()
	m.otel.RecordProviderError(context.Background(), provider)
}

// RecordStoreOperation counts an identity store call and its latency
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.otel.RecordStoreOperation(context.Background(), operation, err)
}

// RecordSessionOperation counts a session store call
func (m *Metrics) RecordSessionOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.SessionOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.otel.RecordSessionOperation(context.Background(), operation, err)
}

// RecordSessionsPurged adds n to the purged sessions counter
func (m *Metrics) RecordSessionsPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsPurgedTotal.Add(float64(n))
}

// RecordNotification counts a dispatched notification
func (m *Metrics) RecordNotification(event string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(event, statusLabel(err)).Inc()
	m.otel.RecordNotification(context.Background(), event, err)
}

// UpdateDBStats copies connection pool gauges
func (m *Metrics) UpdateDBStats(active, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RouteFunc maps a request to a low-cardinality route label
type RouteFunc func(r *http.Request) string

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// route may be nil, in which case the raw URL path is used.
func HTTPMetricsMiddleware(metrics *Metrics, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			label := r.URL.Path
			if route != nil {
				label = route(r)
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
