package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
)

// TestCategorizeError verifies that CategorizeError maps sentinel and wrapped errors to
// the correct ErrorCategory.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"wrapped timeout", fmt.Errorf("request timeout: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryCanceled},
		{"circuit open", fmt.Errorf("exhausted retries: %w", circuitbreaker.ErrOpen), ErrorCategoryCircuitOpen},
		{"invalid API key", ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
		{"wrapped invalid API key", fmt.Errorf("auth: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"location not found", ErrLocationNotFound, ErrorCategoryLocationNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", ErrUpstreamFailure, ErrorCategoryUpstream5xx},
		{"malformed", fmt.Errorf("%w: parse forecast", ErrMalformedResponse), ErrorCategoryParsing},
		{"network", fmt.Errorf("%w: connection refused", ErrNetwork), ErrorCategoryNetwork},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUpstreamFault(t *testing.T) {
	faults := []error{ErrNetwork, ErrUpstreamFailure, ErrRateLimited, context.DeadlineExceeded}
	for _, err := range faults {
		if !IsUpstreamFault(err) {
			t.Errorf("IsUpstreamFault(%v) = false, want true", err)
		}
	}
	notFaults := []error{nil, ErrInvalidAPIKey, ErrLocationNotFound, ErrMalformedResponse, context.Canceled}
	for _, err := range notFaults {
		if IsUpstreamFault(err) {
			t.Errorf("IsUpstreamFault(%v) = true, want false", err)
		}
	}
}
