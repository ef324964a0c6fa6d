package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// Endpoint names, used in URLs and as metric labels.
const (
	EndpointCurrent  = "weather"
	EndpointForecast = "forecast"
)

// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// WeatherClient fetches current conditions (call #1) and the multi-day forecast (call #2).
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, loc models.Location, units models.Units) (models.CurrentWeather, error)
	GetForecast(ctx context.Context, loc models.Location, units models.Units) (models.ForecastResponse, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNetwork           = errors.New("network error")

	// ErrCircuitOpen is returned without contacting the provider while the breaker is open.
	ErrCircuitOpen = circuitbreaker.ErrOpen
)

// validationLocation is probed by ValidateAPIKey (London).
var validationLocation = models.Location{Label: "London", Latitude: 51.5085, Longitude: -0.1257}

type OpenWeatherClient struct {
	apiKey         string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	limiter        *rate.Limiter
	breaker        *circuitbreaker.CircuitBreaker
}

func NewOpenWeatherClient(apiKey, baseURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, baseURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewOpenWeatherClientWithRetry(apiKey, baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker guards every upstream attempt with cb. Lookups that fail with
// ErrLocationNotFound or ErrInvalidAPIKey should be excluded via cb's IsFailure.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// SetRateLimiter makes every attempt wait for a token from l. The free tier allows 60 calls/minute.
func (c *OpenWeatherClient) SetRateLimiter(l *rate.Limiter) {
	c.limiter = l
}

type condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type currentResponse struct {
	Weather []condition `json:"weather"`
	Main    struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Pressure  int     `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Visibility int `json:"visibility"`
	Wind       struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Dt  int64 `json:"dt"`
	Sys struct {
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
	} `json:"sys"`
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Weather []condition `json:"weather"`
		Clouds  struct {
			All int `json:"all"`
		} `json:"clouds"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Pop   float64 `json:"pop"`
		DtTxt string  `json:"dt_txt"`
	} `json:"list"`
	City struct {
		Name     string `json:"name"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
}

// GetCurrentWeather issues call #1. The raw body is kept on the result for pass-through fields.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, loc models.Location, units models.Units) (models.CurrentWeather, error) {
	body, err := c.getWithRetry(ctx, EndpointCurrent, loc, units)
	if err != nil {
		return models.CurrentWeather{}, err
	}
	var apiResp currentResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.CurrentWeather{}, fmt.Errorf("%w: parse %s: %v", ErrMalformedResponse, EndpointCurrent, err)
	}
	if apiResp.Dt == 0 && len(apiResp.Weather) == 0 {
		return models.CurrentWeather{}, fmt.Errorf("%w: %s response has no conditions", ErrMalformedResponse, EndpointCurrent)
	}
	return mapCurrent(apiResp, body), nil
}

// GetForecast issues call #2.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, loc models.Location, units models.Units) (models.ForecastResponse, error) {
	body, err := c.getWithRetry(ctx, EndpointForecast, loc, units)
	if err != nil {
		return models.ForecastResponse{}, err
	}
	var apiResp forecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.ForecastResponse{}, fmt.Errorf("%w: parse %s: %v", ErrMalformedResponse, EndpointForecast, err)
	}
	return mapForecast(apiResp), nil
}

func (c *OpenWeatherClient) getWithRetry(ctx context.Context, endpoint string, loc models.Location, units models.Units) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.attempt(ctx, endpoint, loc, units)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return nil, err
		}
	}

	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

// attempt performs one limited, breaker-guarded request.
func (c *OpenWeatherClient) attempt(ctx context.Context, endpoint string, loc models.Location, units models.Units) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if c.breaker == nil {
		return c.callAPI(ctx, endpoint, loc, units)
	}
	var body []byte
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		body, callErr = c.callAPI(ctx, endpoint, loc, units)
		return callErr
	})
	return body, err
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint string, loc models.Location, units models.Units) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, loc, units)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("request timeout: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrNetwork, err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamFailure), errors.Is(err, ErrNetwork):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, endpoint string, loc models.Location, units models.Units) (*http.Request, error) {
	baseURL, err := url.Parse(c.baseURL + "/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if units != models.UnitsImperial {
		units = models.UnitsMetric
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", string(units))
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound, http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", ErrLocationNotFound, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func mapCurrent(r currentResponse, raw []byte) models.CurrentWeather {
	out := models.CurrentWeather{
		City:        r.Name,
		Temperature: r.Main.Temp,
		FeelsLike:   r.Main.FeelsLike,
		TempMin:     r.Main.TempMin,
		TempMax:     r.Main.TempMax,
		Humidity:    r.Main.Humidity,
		Pressure:    r.Main.Pressure,
		WindSpeed:   r.Wind.Speed,
		Clouds:      r.Clouds.All,
		Visibility:  r.Visibility,
		Sunrise:     r.Sys.Sunrise,
		Sunset:      r.Sys.Sunset,
		Timezone:    r.Timezone,
		Dt:          r.Dt,
		Raw:         json.RawMessage(raw),
	}
	if len(r.Weather) > 0 {
		out.Description = r.Weather[0].Description
		if out.Description == "" {
			out.Description = r.Weather[0].Main
		}
		out.Icon = r.Weather[0].Icon
	}
	return out
}

func mapForecast(r forecastResponse) models.ForecastResponse {
	out := models.ForecastResponse{
		City:     r.City.Name,
		Timezone: r.City.Timezone,
		List:     make([]models.ForecastPoint, 0, len(r.List)),
	}
	for _, item := range r.List {
		p := models.ForecastPoint{
			Dt:        item.Dt,
			DateText:  item.DtTxt,
			Temp:      item.Main.Temp,
			FeelsLike: item.Main.FeelsLike,
			TempMin:   item.Main.TempMin,
			TempMax:   item.Main.TempMax,
			Humidity:  item.Main.Humidity,
			WindSpeed: item.Wind.Speed,
			Clouds:    item.Clouds.All,
			Pop:       item.Pop,
		}
		for _, w := range item.Weather {
			p.Weather = append(p.Weather, models.Condition(w))
		}
		out.List = append(out.List, p)
	}
	return out
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes one un-retried current-conditions call against a fixed location.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, EndpointCurrent, validationLocation, models.UnitsMetric)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
