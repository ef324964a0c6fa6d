package location

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// ErrValueMalformed is returned when the value is not "latitude longitude".
var ErrValueMalformed = errors.New("location value must be \"latitude longitude\"")

// ErrCoordinatesOutOfRange is returned when latitude or longitude is outside valid bounds.
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// ErrQueryEmpty is returned when a city query is empty or whitespace-only after trim.
var ErrQueryEmpty = errors.New("query is required")

// ErrQueryTooShort is returned when query length is below the minimum.
var ErrQueryTooShort = errors.New("query too short")

// ErrQueryTooLong is returned when query length exceeds the maximum.
var ErrQueryTooLong = errors.New("query too long")

// ErrQueryInvalidChars is returned when a query contains disallowed characters.
var ErrQueryInvalidChars = errors.New("query contains invalid characters")

// Parse builds a Location from the search widget's label/value pair. value holds
// "latitude longitude" separated by whitespace. An empty label falls back to the value.
func Parse(label, value string) (models.Location, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return models.Location{}, ErrValueMalformed
	}
	lat, lon, err := ParseCoordinates(fields[0], fields[1])
	if err != nil {
		return models.Location{}, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = fields[0] + " " + fields[1]
	}
	return models.Location{
		Label:     label,
		Value:     fields[0] + " " + fields[1],
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

// FromCoordinates builds a Location from numeric coordinates, formatting Value the way the
// search widget does.
func FromCoordinates(label string, lat, lon float64) (models.Location, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return models.Location{}, fmt.Errorf("%w: %f %f", ErrCoordinatesOutOfRange, lat, lon)
	}
	value := strconv.FormatFloat(lat, 'f', -1, 64) + " " + strconv.FormatFloat(lon, 'f', -1, 64)
	if strings.TrimSpace(label) == "" {
		label = value
	}
	return models.Location{Label: strings.TrimSpace(label), Value: value, Latitude: lat, Longitude: lon}, nil
}

// ParseCoordinates parses and range-checks latitude and longitude strings.
func ParseCoordinates(latStr, lonStr string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid latitude %q", ErrValueMalformed, latStr)
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("%w: latitude %f", ErrCoordinatesOutOfRange, lat)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid longitude %q", ErrValueMalformed, lonStr)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("%w: longitude %f", ErrCoordinatesOutOfRange, lon)
	}
	return lat, lon, nil
}

// ValidateQuery trims a city search query, enforces length bounds (minLen, maxLen in runes),
// and restricts to letters (Unicode), digits, space, comma, hyphen, apostrophe and period.
func ValidateQuery(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrQueryEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}
