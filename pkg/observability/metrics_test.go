package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthOutcome("credentials", "login", "", time.Millisecond)
		m.RecordProvisioned("google", "open")
		m.RecordProviderError("saml")
		m.RecordStoreOperation("create", time.Millisecond, nil)
		m.RecordSessionOperation("establish", nil)
		m.RecordSessionsPurged(3)
		m.RecordNotification("user_signup", nil)
		m.UpdateDBStats(1, 2)
		m.ForwardTo(nil)
	})
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAuthOutcome("federated", "denied", "registration.denied", 10*time.Millisecond)
	m.RecordAuthOutcome("federated", "denied", "registration.denied", 10*time.Millisecond)
	m.RecordProvisioned("office365", "approval")
	m.RecordProviderError("saml")
	m.RecordStoreOperation("find_by_email", time.Millisecond, errors.New("boom"))
	m.RecordSessionOperation("terminate", nil)
	m.RecordSessionsPurged(0)
	m.RecordSessionsPurged(4)
	m.RecordNotification("user_invited", nil)
	m.UpdateDBStats(3, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthOutcomesTotal.WithLabelValues("federated", "denied", "registration.denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccountsProvisionedTotal.WithLabelValues("office365", "approval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderErrorsTotal.WithLabelValues("saml")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("find_by_email", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionOperationsTotal.WithLabelValues("terminate", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SessionsPurgedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("user_invited", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsActive))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DBConnectionsIdle))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, func(*http.Request) string { return "/auth/{provider}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusFound)
		}),
	)

	for _, path := range []string{"/auth/google", "/auth/github"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/auth/{provider}", "302")))

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "gatehouse_http_requests_total"))
}

func TestHTTPMetricsMiddleware_RawPath(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := HTTPMetricsMiddleware(m, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200")))
}
