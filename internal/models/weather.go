package models

import (
	"encoding/json"
	"time"
)

// Condition is one provider weather condition attached to a sample.
type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// ForecastPoint is a single timestamped sample from the multi-day forecast.
type ForecastPoint struct {
	Dt        int64       `json:"dt"`
	DateText  string      `json:"dtTxt"` // "YYYY-MM-DD HH:MM:SS", UTC
	Temp      float64     `json:"temp"`
	FeelsLike float64     `json:"feelsLike"`
	TempMin   float64     `json:"tempMin"`
	TempMax   float64     `json:"tempMax"`
	Humidity  int         `json:"humidity"`
	WindSpeed float64     `json:"windSpeed"`
	Clouds    int         `json:"clouds"`
	Pop       float64     `json:"pop"`
	Weather   []Condition `json:"weather"`
}

// Description returns the first condition's description, or "" when the sample has none.
func (p ForecastPoint) Description() string {
	if len(p.Weather) == 0 {
		return ""
	}
	return p.Weather[0].Description
}

// Icon returns the first condition's provider icon code.
func (p ForecastPoint) Icon() string {
	if len(p.Weather) == 0 {
		return ""
	}
	return p.Weather[0].Icon
}

// Date returns the sample's calendar date as "YYYY-MM-DD".
// Falls back to the UTC date of Dt when the provider omitted dt_txt.
func (p ForecastPoint) Date() string {
	if len(p.DateText) >= 10 {
		return p.DateText[:10]
	}
	return time.Unix(p.Dt, 0).UTC().Format("2006-01-02")
}

// DateIn returns the sample's calendar date in loc. A nil or UTC loc keeps the provider's
// dt_txt date; any other zone derives it from Dt.
func (p ForecastPoint) DateIn(loc *time.Location) string {
	if loc == nil || loc == time.UTC {
		return p.Date()
	}
	return time.Unix(p.Dt, 0).In(loc).Format("2006-01-02")
}

// ForecastResponse is the ordered forecast feed for one query.
type ForecastResponse struct {
	City     string          `json:"city"`
	Timezone int             `json:"timezone"`
	List     []ForecastPoint `json:"list"`
}

// CurrentWeather holds current conditions. Raw keeps the provider body for pass-through fields.
type CurrentWeather struct {
	City        string          `json:"city"`
	Temperature float64         `json:"temperature"`
	FeelsLike   float64         `json:"feelsLike"`
	TempMin     float64         `json:"tempMin"`
	TempMax     float64         `json:"tempMax"`
	Humidity    int             `json:"humidity"`
	Pressure    int             `json:"pressure"`
	WindSpeed   float64         `json:"windSpeed"`
	Clouds      int             `json:"clouds"`
	Visibility  int             `json:"visibility"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	Sunrise     int64           `json:"sunrise"`
	Sunset      int64           `json:"sunset"`
	Timezone    int             `json:"timezone"`
	Dt          int64           `json:"dt"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Bundle is the pair of raw responses produced by one fetch.
type Bundle struct {
	Current   CurrentWeather   `json:"current"`
	Forecast  ForecastResponse `json:"forecast"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// TodayForecastEntry is one of today's remaining forecast slots.
type TodayForecastEntry struct {
	Time        string  `json:"time"`
	Timestamp   int64   `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
}

// WeekForecastEntry represents one future day through a single representative sample,
// plus day-level aggregates.
type WeekForecastEntry struct {
	Date        string  `json:"date"`
	Timestamp   int64   `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	IconName    string  `json:"iconName"`
	TempAvg     float64 `json:"tempAvg"`
	TempMin     float64 `json:"tempMin"`
	TempMax     float64 `json:"tempMax"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	Clouds      int     `json:"clouds"`
	Samples     int     `json:"samples"`
}

// Report is the display-ready view-model for one location.
type Report struct {
	City      string               `json:"city"`
	Units     Units                `json:"units"`
	Current   CurrentWeather       `json:"current"`
	Today     []TodayForecastEntry `json:"today"`
	Week      []WeekForecastEntry  `json:"week"`
	FetchedAt time.Time            `json:"fetchedAt"`
}
