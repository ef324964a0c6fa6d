// Package forecast reshapes a raw multi-timestamp forecast feed into display-ready
// entries: today's remaining slots and one representative entry per future day.
// Everything here is pure; inputs are never modified.
package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// DateLayout is the calendar date format shared with the provider's dt_txt prefix.
const DateLayout = "2006-01-02"

// DefaultSampleIndex is the fallback position used when no sample of a day matches
// any preferred description.
const DefaultSampleIndex = 0

// Today returns the samples dated currentDate whose timestamp is at or after now,
// in input order. A nil or empty response yields an empty slice.
func Today(resp *models.ForecastResponse, currentDate string, now int64) []models.TodayForecastEntry {
	return TodayIn(resp, nil, currentDate, now)
}

// TodayIn is Today with sample dates and time labels taken in loc. currentDate must be
// a date in the same zone.
func TodayIn(resp *models.ForecastResponse, loc *time.Location, currentDate string, now int64) []models.TodayForecastEntry {
	out := []models.TodayForecastEntry{}
	if resp == nil {
		return out
	}
	for _, p := range resp.List {
		if p.DateIn(loc) != currentDate || p.Dt < now {
			continue
		}
		out = append(out, models.TodayForecastEntry{
			Time:        timeLabel(p, loc),
			Timestamp:   p.Dt,
			Temperature: p.Temp,
			Description: p.Description(),
			Icon:        p.Icon(),
		})
	}
	return out
}

// Week returns one entry per future day (dates after today), ascending by date.
// The representative sample of each day is chosen by SelectRepresentative.
func Week(resp *models.ForecastResponse, today string, prefs []string) []models.WeekForecastEntry {
	return WeekN(resp, today, prefs, 0)
}

// WeekN is Week with an explicit day cap. maxDays <= 0 keeps every day the provider returned.
func WeekN(resp *models.ForecastResponse, today string, prefs []string, maxDays int) []models.WeekForecastEntry {
	return WeekIn(resp, nil, today, prefs, maxDays)
}

// WeekIn is WeekN with samples grouped by their date in loc. today must be a date in the
// same zone; it and any earlier date are left out.
func WeekIn(resp *models.ForecastResponse, loc *time.Location, today string, prefs []string, maxDays int) []models.WeekForecastEntry {
	out := []models.WeekForecastEntry{}
	if resp == nil {
		return out
	}
	groups := GroupByDateIn(resp.List, loc)
	dates := make([]string, 0, len(groups))
	for d := range groups {
		// DateLayout sorts lexically.
		if d <= today {
			continue
		}
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		if maxDays > 0 && len(out) >= maxDays {
			break
		}
		samples := groups[d]
		rep := samples[SelectRepresentative(samples, prefs)]
		entry := summarize(samples)
		entry.Date = d
		entry.Timestamp = rep.Dt
		entry.Temperature = rep.Temp
		entry.Description = rep.Description()
		entry.Icon = rep.Icon()
		entry.IconName = IconFor(entry.Description)
		out = append(out, entry)
	}
	return out
}

// GroupByDate buckets samples by calendar date, keeping input order within a bucket.
func GroupByDate(points []models.ForecastPoint) map[string][]models.ForecastPoint {
	return GroupByDateIn(points, nil)
}

// GroupByDateIn is GroupByDate over dates in loc.
func GroupByDateIn(points []models.ForecastPoint, loc *time.Location) map[string][]models.ForecastPoint {
	groups := make(map[string][]models.ForecastPoint)
	for _, p := range points {
		d := p.DateIn(loc)
		groups[d] = append(groups[d], p)
	}
	return groups
}

// SelectRepresentative returns the index of the sample that stands for the day.
// prefs are tried in priority order; for the first preference with any match, the earliest
// matching sample wins. Without a match it returns DefaultSampleIndex clamped to the slice.
// Returns -1 only for an empty slice.
func SelectRepresentative(samples []models.ForecastPoint, prefs []string) int {
	if len(samples) == 0 {
		return -1
	}
	for _, pref := range prefs {
		want := normalizeDescription(pref)
		if want == "" {
			continue
		}
		for i, s := range samples {
			if normalizeDescription(s.Description()) == want {
				return i
			}
		}
	}
	if DefaultSampleIndex >= len(samples) {
		return len(samples) - 1
	}
	return DefaultSampleIndex
}

// CurrentDate formats t's calendar date in loc (UTC when nil).
func CurrentDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

func summarize(samples []models.ForecastPoint) models.WeekForecastEntry {
	var sumTemp, sumWind float64
	var sumHumidity, sumClouds int
	minTemp, maxTemp := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		sumTemp += s.Temp
		sumWind += s.WindSpeed
		sumHumidity += s.Humidity
		sumClouds += s.Clouds
		lo, hi := s.TempMin, s.TempMax
		if lo == 0 && hi == 0 {
			lo, hi = s.Temp, s.Temp
		}
		minTemp = math.Min(minTemp, lo)
		maxTemp = math.Max(maxTemp, hi)
	}
	n := len(samples)
	return models.WeekForecastEntry{
		TempAvg:   round1(sumTemp / float64(n)),
		TempMin:   minTemp,
		TempMax:   maxTemp,
		Humidity:  int(math.Round(float64(sumHumidity) / float64(n))),
		WindSpeed: round1(sumWind / float64(n)),
		Clouds:    int(math.Round(float64(sumClouds) / float64(n))),
		Samples:   n,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// timeLabel returns "HH:MM" from dt_txt, or from Dt in loc when a non-UTC zone is given
// or dt_txt is missing.
func timeLabel(p models.ForecastPoint, loc *time.Location) string {
	if loc == nil || loc == time.UTC {
		if len(p.DateText) >= 16 {
			return p.DateText[11:16]
		}
		loc = time.UTC
	}
	return time.Unix(p.Dt, 0).In(loc).Format("15:04")
}
