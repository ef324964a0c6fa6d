package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// RouterConfig controls the middleware stack.
type RouterConfig struct {
	Logger *zap.Logger
	// Limiter guards every API route; nil disables rate limiting.
	Limiter *rate.Limiter
	// RequestTimeout bounds the stateless routes (/forecast, /cities).
	RequestTimeout time.Duration
}

// NewRouter registers every route on a new mux.Router.
// /cities is registered only when the handler has a city directory.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	api.HandleFunc("/dashboard", h.GetDashboard).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/search", h.PostSearch).Methods(http.MethodPost)
	api.HandleFunc("/dashboard/units", h.PutUnits).Methods(http.MethodPut)

	stateless := api.NewRoute().Subrouter()
	stateless.Use(TimeoutMiddleware(cfg.RequestTimeout))
	stateless.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	if h.HasDirectory() {
		stateless.HandleFunc("/cities", h.GetCities).Methods(http.MethodGet)
	}
	return router
}
