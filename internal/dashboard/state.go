package dashboard

import (
	"fmt"

	"github.com/kjstillabower/weather-dashboard/internal/client"
)

// State is the dashboard's view state. Exactly one is active at a time.
type State int

const (
	StateSplash State = iota
	StateLoading
	StateLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateSplash:
		return "splash"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// User-facing messages.
const (
	SplashMessage       = "Explore current weather data and 6-day forecast of more than 200,000 cities!"
	LoadingMessage      = "Loading..."
	GenericErrorMessage = "Something went wrong"
)

// ErrorKind tells the renderer why the last fetch failed.
type ErrorKind string

const (
	ErrorNetwork     ErrorKind = "network"
	ErrorTimeout     ErrorKind = "timeout"
	ErrorAuth        ErrorKind = "auth"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorNotFound    ErrorKind = "not_found"
	ErrorMalformed   ErrorKind = "malformed"
	ErrorUnavailable ErrorKind = "unavailable"
	ErrorUnknown     ErrorKind = "unknown"
)

// Classify maps a fetch error to an ErrorKind and its message.
func Classify(err error) (ErrorKind, string) {
	switch client.CategorizeError(err) {
	case client.ErrorCategoryNetwork:
		return ErrorNetwork, "Could not reach the weather service."
	case client.ErrorCategoryTimeout:
		return ErrorTimeout, "The weather service took too long to respond."
	case client.ErrorCategoryInvalidAPIKey:
		return ErrorAuth, "The weather service rejected our credentials."
	case client.ErrorCategoryRateLimited:
		return ErrorRateLimited, "Too many requests. Try again in a minute."
	case client.ErrorCategoryLocationNotFound:
		return ErrorNotFound, "No weather data for that location."
	case client.ErrorCategoryParsing:
		return ErrorMalformed, "The weather service sent an unexpected response."
	case client.ErrorCategoryUpstream5xx, client.ErrorCategoryCircuitOpen:
		return ErrorUnavailable, "The weather service is unavailable right now."
	}
	return ErrorUnknown, GenericErrorMessage
}
