// Package testhelpers holds fakes and fixtures shared by package tests.
package testhelpers

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// Call records one request made against FakeWeatherClient.
type Call struct {
	Endpoint string
	Location models.Location
	Units    models.Units
}

// FakeWeatherClient implements client.WeatherClient in memory. Unset funcs serve fixtures
// built around Now.
type FakeWeatherClient struct {
	Now          time.Time
	CurrentFunc  func(ctx context.Context, loc models.Location, units models.Units) (models.CurrentWeather, error)
	ForecastFunc func(ctx context.Context, loc models.Location, units models.Units) (models.ForecastResponse, error)
	ValidateErr  error

	mu    sync.Mutex
	calls []Call
}

func (f *FakeWeatherClient) record(endpoint string, loc models.Location, units models.Units) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Endpoint: endpoint, Location: loc, Units: units})
}

func (f *FakeWeatherClient) GetCurrentWeather(ctx context.Context, loc models.Location, units models.Units) (models.CurrentWeather, error) {
	f.record("weather", loc, units)
	if f.CurrentFunc != nil {
		return f.CurrentFunc(ctx, loc, units)
	}
	return SampleCurrent(units), nil
}

func (f *FakeWeatherClient) GetForecast(ctx context.Context, loc models.Location, units models.Units) (models.ForecastResponse, error) {
	f.record("forecast", loc, units)
	if f.ForecastFunc != nil {
		return f.ForecastFunc(ctx, loc, units)
	}
	return SampleForecast(f.Now, units), nil
}

func (f *FakeWeatherClient) ValidateAPIKey(ctx context.Context) error {
	return f.ValidateErr
}

// Calls returns a copy of the recorded requests.
func (f *FakeWeatherClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns the number of recorded requests.
func (f *FakeWeatherClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Reset clears recorded requests.
func (f *FakeWeatherClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// BaseTemp is the fixture temperature for units: 10 metric, 50 imperial.
func BaseTemp(units models.Units) float64 {
	if units.Imperial() {
		return 50
	}
	return 10
}

// SampleCurrent returns current conditions whose temperature reflects units.
func SampleCurrent(units models.Units) models.CurrentWeather {
	return models.CurrentWeather{
		City:        "Fixture City",
		Temperature: BaseTemp(units),
		Description: "clear sky",
		Icon:        "01d",
		Humidity:    50,
		Dt:          1704103200,
	}
}

var sampleDescriptions = []string{"light rain", "overcast clouds", "clear sky", "scattered clouds"}

// SampleForecast returns three-hourly samples for four days starting at midnight UTC of now.
// Every day has a "clear sky" sample at 06:00 UTC.
func SampleForecast(now time.Time, units models.Units) models.ForecastResponse {
	if now.IsZero() {
		now = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	resp := models.ForecastResponse{City: "Fixture City"}
	for i := 0; i < 4*8; i++ {
		ts := start.Add(time.Duration(i) * 3 * time.Hour)
		desc := sampleDescriptions[(i%8)%len(sampleDescriptions)]
		resp.List = append(resp.List, models.ForecastPoint{
			Dt:       ts.Unix(),
			DateText: ts.Format("2006-01-02 15:04:05"),
			Temp:     BaseTemp(units) + float64(i%8),
			Humidity: 60,
			Weather:  []models.Condition{{Description: desc, Icon: "01d"}},
		})
	}
	return resp
}
