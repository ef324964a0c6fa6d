package models

import (
	"fmt"
	"strconv"
)

// Units selects the measurement system for temperature-bearing requests.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// UnitsFromImperial maps the dashboard's toggle (checked = imperial) to Units.
func UnitsFromImperial(imperial bool) Units {
	if imperial {
		return UnitsImperial
	}
	return UnitsMetric
}

// Imperial reports whether u is the imperial system. Anything else is metric.
func (u Units) Imperial() bool {
	return u == UnitsImperial
}

// Symbol returns the temperature suffix for display.
func (u Units) Symbol() string {
	if u.Imperial() {
		return "°F"
	}
	return "°C"
}

// Location is a search selection: a display label and its "lat lon" value.
type Location struct {
	Label     string  `json:"label"`
	Value     string  `json:"value"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Key returns a stable cache/coalescing key for the coordinates.
func (l Location) Key() string {
	return fmt.Sprintf("%s,%s",
		strconv.FormatFloat(l.Latitude, 'f', 4, 64),
		strconv.FormatFloat(l.Longitude, 'f', 4, 64))
}
