package forecast

import "strings"

// DefaultDescriptions is the priority list used to pick a day's representative sample.
// Earlier entries win over later ones regardless of when they occur during the day.
var DefaultDescriptions = []string{
	"clear sky",
	"few clouds",
	"scattered clouds",
	"broken clouds",
	"overcast clouds",
	"light rain",
	"moderate rain",
	"light intensity drizzle",
	"drizzle",
	"shower rain",
	"light intensity shower rain",
	"rain",
	"heavy intensity rain",
	"very heavy rain",
	"extreme rain",
	"freezing rain",
	"light snow",
	"snow",
	"heavy snow",
	"sleet",
	"light shower snow",
	"shower snow",
	"mist",
	"haze",
	"fog",
	"smoke",
	"dust",
	"sand",
	"thunderstorm",
	"thunderstorm with light rain",
	"thunderstorm with rain",
	"thunderstorm with heavy rain",
	"tornado",
	"squalls",
}

// iconNames maps provider descriptions to the dashboard's icon set.
var iconNames = map[string]string{
	"clear sky":                    "clear-sky",
	"few clouds":                   "few-clouds",
	"scattered clouds":             "scattered-clouds",
	"broken clouds":                "broken-clouds",
	"overcast clouds":              "broken-clouds",
	"light rain":                   "rain",
	"moderate rain":                "rain",
	"rain":                         "rain",
	"heavy intensity rain":         "rain",
	"very heavy rain":              "rain",
	"extreme rain":                 "rain",
	"freezing rain":                "snow",
	"light intensity drizzle":      "shower-rain",
	"drizzle":                      "shower-rain",
	"shower rain":                  "shower-rain",
	"light intensity shower rain":  "shower-rain",
	"light snow":                   "snow",
	"snow":                         "snow",
	"heavy snow":                   "snow",
	"sleet":                        "snow",
	"light shower snow":            "snow",
	"shower snow":                  "snow",
	"mist":                         "mist",
	"haze":                         "mist",
	"fog":                          "mist",
	"smoke":                        "mist",
	"dust":                         "mist",
	"sand":                         "mist",
	"thunderstorm":                 "thunderstorm",
	"thunderstorm with light rain": "thunderstorm",
	"thunderstorm with rain":       "thunderstorm",
	"thunderstorm with heavy rain": "thunderstorm",
	"tornado":                      "thunderstorm",
	"squalls":                      "thunderstorm",
}

// IconFor returns the icon name for a description, or "unknown".
func IconFor(description string) string {
	if name, ok := iconNames[normalizeDescription(description)]; ok {
		return name
	}
	return "unknown"
}

func normalizeDescription(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
