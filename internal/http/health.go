package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// HealthConfig holds the thresholds the health handler evaluates.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// APIKeyCheckInterval reuses the last API key check for this long. 0 checks on every call.
	APIKeyCheckInterval time.Duration
	// CachePing, when set, checks cache reachability. Set when the backend is memcached.
	CachePing func() error
	// DirectoryPing, when set, checks the city database.
	DirectoryPing func(ctx context.Context) error
	Version       string
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	// keyCheckErr is a key check failure other than a rejected key. It marks the weatherApi
	// check but does not change the status; the error rate covers a failing provider.
	keyCheckErr error
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "api_key_invalid" || result.reason == "error_rate_breach" || result.keyCheckErr != nil {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = checkString(h.healthConfig.CachePing())
	}
	if h.healthConfig != nil && h.healthConfig.DirectoryPing != nil {
		checks["cityDirectory"] = checkString(h.healthConfig.DirectoryPing(r.Context()))
	}

	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"phase":     lifecycle.Current().String(),
		"service":   observability.ServiceName,
		"version":   version,
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

func checkString(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > API key invalid > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	switch lifecycle.Current() {
	case lifecycle.PhaseDraining:
		return healthResult{status: "shutting-down", statusCode: http.StatusServiceUnavailable, reason: "signal"}
	case lifecycle.PhaseStarting:
		return healthResult{status: "starting", statusCode: http.StatusServiceUnavailable, reason: "startup"}
	}
	keyErr := h.validateAPIKey(ctx)
	if errors.Is(keyErr, client.ErrInvalidAPIKey) {
		return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "api_key_invalid"}
	}
	result := h.thresholdStatus()
	result.keyCheckErr = keyErr
	return result
}

// thresholdStatus checks the traffic windows: overloaded first, then degraded.
func (h *Handler) thresholdStatus() healthResult {
	if h.healthConfig == nil {
		return healthResult{status: "healthy", statusCode: http.StatusOK}
	}

	// Overloaded: the share of requests rejected by the rate limiter.
	if h.healthConfig.OverloadWindow > 0 && h.healthConfig.OverloadThresholdPct > 0 {
		denied := traffic.DenialCount(h.healthConfig.OverloadWindow)
		total := traffic.RequestCount(h.healthConfig.OverloadWindow)
		if denied > 0 && denied*100 >= h.healthConfig.OverloadThresholdPct*total {
			return healthResult{status: "overloaded", statusCode: http.StatusServiceUnavailable, reason: "overload_threshold"}
		}
	}

	// Degraded: the share of dashboard fetches that failed.
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && errs*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{status: "degraded", statusCode: http.StatusServiceUnavailable, reason: "error_rate_breach"}
		}
	}
	return healthResult{status: "healthy", statusCode: http.StatusOK}
}

// validateAPIKey checks the key against the provider, reusing a recent result when APIKeyCheckInterval is set.
// The check runs outside keyMu. While one is running, callers with an earlier result get that
// result instead of waiting.
func (h *Handler) validateAPIKey(ctx context.Context) error {
	var interval time.Duration
	if h.healthConfig != nil {
		interval = h.healthConfig.APIKeyCheckInterval
	}

	h.keyMu.Lock()
	checked := !h.keyCheckedAt.IsZero()
	if checked && (h.keyChecking || (interval > 0 && h.now().Sub(h.keyCheckedAt) < interval)) {
		err := h.keyErr
		h.keyMu.Unlock()
		return err
	}
	h.keyChecking = true
	h.keyMu.Unlock()

	err := h.client.ValidateAPIKey(ctx)

	h.keyMu.Lock()
	h.keyErr = err
	h.keyCheckedAt = h.now()
	h.keyChecking = false
	h.keyMu.Unlock()

	if err != nil {
		observability.LoggerFromContext(ctx, h.logger).Warn("api key validation failed", zap.Error(err))
	}
	return err
}
