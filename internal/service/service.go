package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/forecast"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
)

// Query selects one report. Fresh skips the cache read and request coalescing; the result is
// still written back.
type Query struct {
	Location models.Location
	Units    models.Units
	Fresh    bool
}

// Options tunes a DashboardService. Zero values fall back to the defaults below.
type Options struct {
	TTL             time.Duration
	CoalesceTimeout time.Duration // 0 disables coalescing
	MaxDays         int
	Descriptions    []string
	TimeZone        *time.Location
	Now             func() time.Time
}

const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxDays = 6
)

// DashboardService fetches current conditions and the forecast together and turns them
// into a display-ready report.
type DashboardService struct {
	client    client.WeatherClient
	cache     cache.Cache
	ttl       time.Duration
	maxDays   int
	prefs     []string
	tz        *time.Location
	now       func() time.Time
	coalescer *requestCoalescer
}

// NewDashboardService creates a DashboardService. cache may be nil to disable caching.
func NewDashboardService(c client.WeatherClient, cc cache.Cache, opts Options) *DashboardService {
	s := &DashboardService{
		client:  c,
		cache:   cc,
		ttl:     opts.TTL,
		maxDays: opts.MaxDays,
		prefs:   opts.Descriptions,
		tz:      opts.TimeZone,
		now:     opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxDays <= 0 {
		s.maxDays = DefaultMaxDays
	}
	if len(s.prefs) == 0 {
		s.prefs = forecast.DefaultDescriptions
	}
	if s.tz == nil {
		s.tz = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CoalesceTimeout > 0 {
		s.coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return s
}

// GetForecast returns the report for loc, served from cache when possible.
func (s *DashboardService) GetForecast(ctx context.Context, loc models.Location, units models.Units) (models.Report, error) {
	return s.Fetch(ctx, Query{Location: loc, Units: units})
}

// Fetch issues both provider calls (or reads the cached pair) and aggregates the result.
// Either call failing fails the whole fetch; no partial report is returned.
func (s *DashboardService) Fetch(ctx context.Context, q Query) (models.Report, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, nil)
	units := models.UnitsFromImperial(q.Units.Imperial())
	key := cache.Key(q.Location, units)

	bundle, cached := s.cached(ctx, key, q.Fresh, logger)
	if !cached {
		logger.Debug("fetching upstream", zap.String("key", key), zap.Bool("fresh", q.Fresh))

		var err error
		bundle, err = s.fetchShared(ctx, key, q.Location, units, q.Fresh)
		if err != nil {
			s.recordFailure(err)
			return models.Report{}, fmt.Errorf("fetch %s: %w", q.Location.Label, err)
		}
		s.store(ctx, key, bundle, logger)
	}

	report := s.buildReport(q.Location, units, bundle)
	observability.FetchesTotal.WithLabelValues("success").Inc()
	observability.FetchDurationSeconds.Observe(time.Since(start).Seconds())
	traffic.RecordSuccess()
	logger.Debug("report served",
		zap.String("key", key),
		zap.Bool("cached", cached),
		zap.Int("today", len(report.Today)),
		zap.Int("week", len(report.Week)),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

func (s *DashboardService) cached(ctx context.Context, key string, fresh bool, logger *zap.Logger) (models.Bundle, bool) {
	if s.cache == nil || fresh {
		return models.Bundle{}, false
	}
	b, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return models.Bundle{}, false
	case !ok:
		observability.CacheMissesTotal.Inc()
		return models.Bundle{}, false
	}
	observability.CacheHitsTotal.Inc()
	return b, true
}

func (s *DashboardService) store(ctx context.Context, key string, b models.Bundle, logger *zap.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// fetchShared joins an identical in-flight fetch when coalescing is on. Fresh queries always
// issue their own pair of calls.
func (s *DashboardService) fetchShared(ctx context.Context, key string, loc models.Location, units models.Units, fresh bool) (models.Bundle, error) {
	fetch := func(ctx context.Context) (models.Bundle, error) {
		return s.fetchBoth(ctx, loc, units)
	}
	if s.coalescer == nil || fresh {
		return fetch(ctx)
	}
	b, shared, err := s.coalescer.Do(ctx, key, fetch)
	if shared {
		observability.CoalescedFetchesTotal.Inc()
	}
	return b, err
}

// fetchBoth runs call #1 and call #2 concurrently. The first failure cancels its sibling.
func (s *DashboardService) fetchBoth(ctx context.Context, loc models.Location, units models.Units) (models.Bundle, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg                sync.WaitGroup
		current           models.CurrentWeather
		fc                models.ForecastResponse
		currErr, forecErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if current, currErr = s.client.GetCurrentWeather(ctx, loc, units); currErr != nil {
			currErr = fmt.Errorf("current weather: %w", currErr)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if fc, forecErr = s.client.GetForecast(ctx, loc, units); forecErr != nil {
			forecErr = fmt.Errorf("forecast: %w", forecErr)
			cancel()
		}
	}()
	wg.Wait()

	if err := rootCause(currErr, forecErr); err != nil {
		return models.Bundle{}, err
	}
	return models.Bundle{Current: current, Forecast: fc, FetchedAt: s.now()}, nil
}

// rootCause prefers the error that is not a cancellation, since the other call was most likely
// cancelled because of it.
func rootCause(errs ...error) error {
	var fallback error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, context.Canceled) {
			return err
		}
		if fallback == nil {
			fallback = err
		}
	}
	return fallback
}

func (s *DashboardService) buildReport(loc models.Location, units models.Units, b models.Bundle) models.Report {
	now := s.now().In(s.tz)
	today := forecast.CurrentDate(now, s.tz)

	city := loc.Label
	if city == "" {
		city = b.Current.City
	}
	if city == "" {
		city = b.Forecast.City
	}

	return models.Report{
		City:      city,
		Units:     units,
		Current:   b.Current,
		Today:     forecast.TodayIn(&b.Forecast, s.tz, today, now.Unix()),
		Week:      forecast.WeekIn(&b.Forecast, s.tz, today, s.prefs, s.maxDays),
		FetchedAt: b.FetchedAt,
	}
}

func (s *DashboardService) recordFailure(err error) {
	if errors.Is(err, context.Canceled) {
		observability.FetchesTotal.WithLabelValues("canceled").Inc()
		return
	}
	observability.FetchesTotal.WithLabelValues("error").Inc()
	traffic.RecordError()
}
