// Command dashboard serves the weather dashboard backend: the view state machine, stateless
// forecasts, city suggestions, health and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/config"
	"github.com/kjstillabower/weather-dashboard/internal/dashboard"
	"github.com/kjstillabower/weather-dashboard/internal/geo"
	httphandler "github.com/kjstillabower/weather-dashboard/internal/http"
	"github.com/kjstillabower/weather-dashboard/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard/internal/location"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	breakerComponent  = "weather_api"
	inFlightPoll      = 50 * time.Millisecond
	startupCheckLimit = 10 * time.Second
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.FlushTelemetry(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := newWeatherClient(cfg, logger)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	bundleCache, memcached, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	svc := service.NewDashboardService(weatherClient, bundleCache, serviceOptions(cfg))
	prefs := dashboard.NewPreferences(models.Units(cfg.DashboardDefaultUnits))
	controller := dashboard.NewController(svc, prefs, logger, cfg.DashboardFetchTimeout)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		APIKeyCheckInterval:  time.Minute,
		Version:              version,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}

	var directory httphandler.CityDirectory
	store, err := openDirectory(cfg.GeoDBPath, logger)
	if err != nil {
		logger.Fatal("city directory", zap.Error(err))
	}
	if store != nil {
		directory = store
		healthConfig.DirectoryPing = store.Ping
	}

	tracked := trackedLocations(cfg.TrackedLocations)
	labels := make([]string, 0, len(tracked))
	for _, loc := range tracked {
		labels = append(labels, loc.Label)
	}
	observability.SetTrackedLocations(labels)
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if bundleCache != nil && len(tracked) > 0 {
		warmer := cache.NewCacheWarmer(svc, logger)
		units := warmUnits()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, tracked, units, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			go func() {
				if err := warmer.Warm(ctx, tracked, units); err != nil {
					logger.Warn("cache warming failed", zap.Error(err))
				}
			}()
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(svc, controller, weatherClient, directory, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	// Dashboard requests wait for their fetch, which may run up to the dashboard timeout.
	writeTimeout := max(cfg.RequestTimeout, cfg.DashboardFetchTimeout) + 5*time.Second
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ln.Addr().String()), zap.String("version", version))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	checkCtx, checkCancel := context.WithTimeout(ctx, startupCheckLimit)
	if err := weatherClient.ValidateAPIKey(checkCtx); err != nil {
		// Serving continues; /health reports the key until it recovers.
		logger.Warn("api key validation failed at startup",
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
	}
	checkCancel()
	lifecycle.MarkReady()
	logger.Info("ready")

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if n := httphandler.InFlightCount(); n > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", n))
		if err := httphandler.WaitForInFlight(shutdownCtx, inFlightPoll); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("city directory close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newWeatherClient builds the provider client with its retry policy, outbound token bucket
// and circuit breaker.
func newWeatherClient(cfg *config.Config, logger *zap.Logger) (*client.OpenWeatherClient, error) {
	c, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, err
	}
	if cfg.UpstreamRPS > 0 {
		c.SetRateLimiter(rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst))
	}
	if cfg.BreakerFailureThreshold > 0 {
		c.SetCircuitBreaker(newBreaker(cfg, logger))
		observability.CircuitBreakerStateGauge.WithLabelValues(breakerComponent).Set(0)
	}
	return c, nil
}

func newBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        breakerComponent,
		IsFailure:        client.IsUpstreamFault,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// newCache returns the configured bundle cache. The memcached handle is returned separately
// for health pings and shutdown; both are nil for backend "none".
func newCache(cfg *config.Config) (cache.Cache, *cache.MemcachedCache, error) {
	switch cfg.CacheBackend {
	case "none":
		return nil, nil, nil
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		return mc, mc, nil
	}
	return cache.NewInMemoryCache(), nil, nil
}

func serviceOptions(cfg *config.Config) service.Options {
	opts := service.Options{
		TTL:          cfg.CacheTTL,
		MaxDays:      cfg.DashboardMaxDays,
		Descriptions: cfg.DashboardDescriptions,
		TimeZone:     cfg.DashboardTimeZone,
	}
	if cfg.CoalesceEnabled {
		opts.CoalesceTimeout = cfg.CoalesceTimeout
	}
	return opts
}

// openDirectory opens the city database when one has been imported. A missing file disables
// /cities rather than creating an empty database.
func openDirectory(path string, logger *zap.Logger) (*geo.Store, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info("city directory not found; /cities disabled (run import-geo)", zap.String("path", path))
		return nil, nil
	}
	store, err := geo.Open(path)
	if err != nil {
		return nil, err
	}
	if n, err := store.Count(context.Background()); err == nil {
		logger.Info("city directory loaded", zap.String("path", path), zap.Int("cities", n))
	}
	return store, nil
}

// warmUnits lists the unit systems warmed for every tracked location. Both are warmed so a
// unit toggle on /forecast is served from cache as well.
func warmUnits() []models.Units {
	return []models.Units{models.UnitsMetric, models.UnitsImperial}
}

func trackedLocations(in []config.TrackedLocation) []models.Location {
	out := make([]models.Location, 0, len(in))
	for _, t := range in {
		loc, err := location.FromCoordinates(t.Label, t.Latitude, t.Longitude)
		if err != nil {
			continue
		}
		out = append(out, loc)
	}
	return out
}
