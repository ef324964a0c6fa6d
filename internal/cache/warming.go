package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// ForecastFetcher is implemented by the service layer to fetch a report for a location.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type ForecastFetcher interface {
	GetForecast(ctx context.Context, loc models.Location, units models.Units) (models.Report, error)
}

// CacheWarmer warms the cache by prefetching forecasts for a list of locations.
type CacheWarmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher ForecastFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every location in every unit system concurrently, populating the cache through
// the fetcher. Returns the joined per-location errors.
func (w *CacheWarmer) Warm(ctx context.Context, locations []models.Location, units []models.Units) error {
	if len(units) == 0 {
		units = []models.Units{models.UnitsMetric}
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)), zap.Int("unit_systems", len(units)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(locations)*len(units))
	for _, loc := range locations {
		for _, u := range units {
			wg.Add(1)
			go func(loc models.Location, u models.Units) {
				defer wg.Done()
				if _, err := w.fetcher.GetForecast(ctx, loc, u); err != nil {
					errCh <- fmt.Errorf("warm %s (%s): %w", loc.Label, u, err)
				}
			}(loc, u)
		}
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, locations []models.Location, units []models.Units, interval time.Duration) error {
	if err := w.Warm(ctx, locations, units); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, locations, units); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
