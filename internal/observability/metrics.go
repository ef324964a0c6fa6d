package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap call rate by endpoint (weather, forecast). Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency by endpoint. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts by endpoint. High retries = unstable upstream.
	WeatherAPIRetriesTotal *prometheus.CounterVec

	// Upstream failures by category (timeout, rate_limited, invalid_api_key, ...).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Cache outcomes for raw fetch bundles.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheErrorsTotal *prometheus.CounterVec

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Joint current+forecast fetches by result (success, error).
	FetchesTotal *prometheus.CounterVec

	// End-to-end fetch latency including aggregation.
	FetchDurationSeconds prometheus.Histogram

	// Callers that waited on an identical in-flight fetch instead of issuing their own.
	CoalescedFetchesTotal prometheus.Counter

	// Dashboard view state transitions.
	DashboardTransitionsTotal *prometheus.CounterVec

	// Dashboard operations cancelled because a newer one started.
	DashboardSupersededTotal prometheus.Counter

	// Searches per location label (allow-list; others go to "other").
	SearchesByLocationTotal *prometheus.CounterVec

	// City directory lookups by result (hit, empty, error).
	CitySearchesTotal *prometheus.CounterVec

	CircuitBreakerStateGauge       *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
		[]string{"endpoint"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather API failures by error category",
		},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of forecast bundle cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of forecast bundle cache misses",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Number of cache warming runs with at least one failed location",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Duration of cache warming runs",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastFetchesTotal",
			Help: "Joint current+forecast fetches by result",
		},
		[]string{"result"},
	)
	FetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecastFetchDurationSeconds",
			Help:    "Joint fetch latency including aggregation",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
	)
	CoalescedFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedFetchesTotal",
			Help: "Fetches served by waiting on an identical in-flight fetch",
		},
	)
	DashboardTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboardStateTransitionsTotal",
			Help: "Dashboard view state transitions",
		},
		[]string{"from", "to"},
	)
	DashboardSupersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboardSupersededTotal",
			Help: "Dashboard operations cancelled by a newer operation",
		},
	)
	SearchesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchesByLocationTotal",
			Help: "Dashboard searches by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	CitySearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citySearchesTotal",
			Help: "City directory lookups by result",
		},
		[]string{"result"},
	)
	CircuitBreakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		FetchesTotal, FetchDurationSeconds, CoalescedFetchesTotal,
		DashboardTransitionsTotal, DashboardSupersededTotal,
		SearchesByLocationTotal, CitySearchesTotal,
		CircuitBreakerStateGauge, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerStateGauge.WithLabelValues(component).Set(float64(toValue))
}

// SetTrackedLocations sets the allow-list for per-location search metrics.
func SetTrackedLocations(labels []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(labels))
	for _, l := range labels {
		trackedLocations[normalizeLocationForMetrics(l)] = struct{}{}
	}
}

// RecordSearch records a dashboard search for the given location label.
func RecordSearch(label string) {
	SearchesByLocationTotal.WithLabelValues(MetricLocationLabel(label)).Inc()
}

// MetricLocationLabel returns the label value for a location: itself when tracked, else "other".
func MetricLocationLabel(label string) string {
	loc := normalizeLocationForMetrics(label)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
