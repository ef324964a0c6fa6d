package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/dashboard"
	"github.com/kjstillabower/weather-dashboard/internal/location"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// Bounds for /cities queries. Lengths are in runes; the limits match geo.DefaultLimit and
// geo.MaxLimit without pulling the sqlite driver into this package.
const (
	cityQueryMinLen  = 2
	cityQueryMaxLen  = 100
	defaultCityLimit = 10
	maxCityLimit     = 50
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 16

// ForecastService serves stateless reports. Implemented by service.DashboardService.
type ForecastService interface {
	GetForecast(ctx context.Context, loc models.Location, units models.Units) (models.Report, error)
}

// Dashboard is the stateful view controller. Implemented by dashboard.Controller.
type Dashboard interface {
	View() dashboard.View
	Search(ctx context.Context, loc models.Location) dashboard.View
	SetUnits(ctx context.Context, imperial bool) dashboard.View
	Preferences() *dashboard.Preferences
}

// CityDirectory answers search-widget suggestions. Implemented by geo.Store.
type CityDirectory interface {
	Search(ctx context.Context, query string, limit int) ([]models.Location, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecasts    ForecastService
	dashboard    Dashboard
	client       client.WeatherClient
	directory    CityDirectory
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string

	keyMu        sync.Mutex
	keyCheckedAt time.Time
	keyErr       error
	keyChecking  bool
	now          func() time.Time
}

// NewHandler returns a new Handler. directory may be nil when no city database is configured.
func NewHandler(
	forecasts ForecastService,
	dash Dashboard,
	weatherClient client.WeatherClient,
	directory CityDirectory,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		forecasts:    forecasts,
		dashboard:    dash,
		client:       weatherClient,
		directory:    directory,
		healthConfig: healthConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// HasDirectory reports whether /cities can be served.
func (h *Handler) HasDirectory() bool {
	return h.directory != nil
}

// GetDashboard handles GET /dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dashboard.View())
}

type searchRequest struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PostSearch handles POST /dashboard/search. The response is the view after the fetch settles;
// a failed fetch is an Error view, not an HTTP error.
func (h *Handler) PostSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	loc, err := location.Parse(body.Label, body.Value)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	observability.RecordSearch(loc.Label)
	writeJSON(w, http.StatusOK, h.dashboard.Search(r.Context(), loc))
}

type unitsRequest struct {
	Imperial *bool `json:"imperial"`
}

// PutUnits handles PUT /dashboard/units.
func (h *Handler) PutUnits(w http.ResponseWriter, r *http.Request) {
	var body unitsRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if body.Imperial == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "imperial is required")
		return
	}
	writeJSON(w, http.StatusOK, h.dashboard.SetUnits(r.Context(), *body.Imperial))
}

// GetForecast handles GET /forecast?lat=&lon=&units=&label=.
// Missing units fall back to the dashboard's current preference.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" || q.Get("lon") == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "lat and lon are required")
		return
	}
	lat, lon, err := location.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	units, ok := h.parseUnits(q.Get("units"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial")
		return
	}
	loc, err := location.FromCoordinates(q.Get("label"), lat, lon)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	report, err := h.forecasts.GetForecast(r.Context(), loc, units)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) parseUnits(s string) (models.Units, bool) {
	switch models.Units(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		if h.dashboard != nil {
			return h.dashboard.Preferences().Units(), true
		}
		return models.UnitsMetric, true
	case models.UnitsMetric:
		return models.UnitsMetric, true
	case models.UnitsImperial:
		return models.UnitsImperial, true
	}
	return "", false
}

type citiesResponse struct {
	Query   string            `json:"query"`
	Results []models.Location `json:"results"`
}

// GetCities handles GET /cities?q=&limit=.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, r, http.StatusNotFound, "DIRECTORY_UNAVAILABLE", "city directory is not configured")
		return
	}
	query, err := location.ValidateQuery(r.URL.Query().Get("q"), cityQueryMinLen, cityQueryMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	limit := defaultCityLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxCityLimit)
	}

	results, err := h.directory.Search(r.Context(), query, limit)
	if err != nil {
		observability.CitySearchesTotal.WithLabelValues("error").Inc()
		observability.LoggerFromContext(r.Context(), h.logger).Error("city search failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "DIRECTORY_UNAVAILABLE", "city search failed")
		return
	}
	if len(results) == 0 {
		observability.CitySearchesTotal.WithLabelValues("empty").Inc()
		results = []models.Location{}
	} else {
		observability.CitySearchesTotal.WithLabelValues("hit").Inc()
	}
	writeJSON(w, http.StatusOK, citiesResponse{Query: query, Results: results})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("malformed JSON body")
	}
	return nil
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a fetch failure to a status and stable code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := serviceErrorResponse(err)
	observability.LoggerFromContext(r.Context(), nil).Debug("forecast fetch failed",
		zap.String("code", code),
		zap.Error(err))
	writeError(w, r, status, code, message)
}

func serviceErrorResponse(err error) (int, string, string) {
	switch client.CategorizeError(err) {
	case client.ErrorCategoryLocationNotFound:
		return http.StatusNotFound, "LOCATION_NOT_FOUND", "No weather data for that location"
	case client.ErrorCategoryRateLimited:
		return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED", "Weather provider rate limit reached"
	case client.ErrorCategoryParsing:
		return http.StatusBadGateway, "UPSTREAM_MALFORMED", "Weather provider sent an unexpected response"
	case client.ErrorCategoryInvalidAPIKey:
		return http.StatusBadGateway, "UPSTREAM_AUTH", "Weather provider rejected the API key"
	case client.ErrorCategoryTimeout:
		return http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT", "Weather provider timed out"
	}
	return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
}
