package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that metrics can be used without panic and that label
// dimensions match usage in client, service, dashboard and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/dashboard", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/dashboard").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("forecast", "success").Inc()
	WeatherAPIDuration.WithLabelValues("weather", "server_error").Observe(0.1)
	WeatherAPIRetriesTotal.WithLabelValues("forecast").Inc()
	WeatherAPIErrorsTotal.WithLabelValues("timeout").Inc()
	CacheHitsTotal.Inc()
	CacheMissesTotal.Inc()
	CacheErrorsTotal.WithLabelValues("get").Inc()
	FetchesTotal.WithLabelValues("success").Inc()
	DashboardTransitionsTotal.WithLabelValues("splash", "loading").Inc()
	CitySearchesTotal.WithLabelValues("hit").Inc()
	RecordCircuitBreakerTransition("weather_api", "closed", "open", 1)
}

// TestMetricLocationLabel verifies tracked labels pass through and others collapse to "other".
func TestMetricLocationLabel(t *testing.T) {
	SetTrackedLocations([]string{"Berlin, DE", "Lima, PE"})
	defer SetTrackedLocations(nil)

	if got := MetricLocationLabel(" berlin, de "); got != "berlin, de" {
		t.Errorf("MetricLocationLabel(tracked) = %q", got)
	}
	if got := MetricLocationLabel("Oslo, NO"); got != "other" {
		t.Errorf("MetricLocationLabel(untracked) = %q, want other", got)
	}
	RecordSearch("Lima, PE")
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
