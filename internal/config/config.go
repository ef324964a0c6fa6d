package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultWeatherAPIURL is the OpenWeatherMap 2.5 root; endpoint paths are appended by the client.
const DefaultWeatherAPIURL = "https://api.openweathermap.org/data/2.5"

// TrackedLocation is a location warmed in the cache and given its own metric label.
type TrackedLocation struct {
	Label     string  `yaml:"label"`
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lon"`
}

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory", "memcached" or "none"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	// Outbound token bucket shared by every provider call.
	UpstreamRPS   float64
	UpstreamBurst int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	ShutdownTimeout time.Duration

	DashboardMaxDays      int
	DashboardTimeZone     *time.Location
	DashboardDefaultUnits string
	DashboardFetchTimeout time.Duration
	DashboardDescriptions []string

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	GeoDBPath string

	TrackedLocations []TrackedLocation
	WarmInterval     time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		WarmInterval     string            `yaml:"warm_interval"`
		TrackedLocations []TrackedLocation `yaml:"tracked_locations"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int     `yaml:"retry_max_attempts"`
		RetryBaseDelay   string  `yaml:"retry_base_delay"`
		RetryMaxDelay    string  `yaml:"retry_max_delay"`
		RateLimitRPS     int     `yaml:"rate_limit_rps"`
		RateLimitBurst   int     `yaml:"rate_limit_burst"`
		UpstreamRPS      float64 `yaml:"upstream_rps"`
		UpstreamBurst    int     `yaml:"upstream_burst"`
		CircuitBreaker   struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Dashboard struct {
		MaxDays      int      `yaml:"max_days"`
		TimeZone     string   `yaml:"timezone"`
		DefaultUnits string   `yaml:"default_units"`
		FetchTimeout string   `yaml:"fetch_timeout"`
		Descriptions []string `yaml:"descriptions"`
	} `yaml:"dashboard"`

	Health struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Geo struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"geo"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// ErrMissingAPIKey is returned when no provider key is configured anywhere.
var ErrMissingAPIKey = errors.New("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")

// Load reads configuration relative to the working directory. See LoadFrom.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads root/.env (without overriding the real environment), then
// root/config/{ENV_NAME}.yaml (default dev) and root/config/secrets.yaml.
// The API key comes from WEATHER_API_KEY or the secrets file.
func LoadFrom(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(root, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("WEATHER_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		key, err := readSecretsKey(filepath.Join(root, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, ErrMissingAPIKey
	}

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = DefaultWeatherAPIURL
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheBackend = firstNonEmpty(
		strings.ToLower(strings.TrimSpace(os.Getenv("CACHE_BACKEND"))),
		strings.ToLower(strings.TrimSpace(fc.Cache.Backend)),
		"in_memory")
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Cache.Memcached.Addrs),
		"localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.TrackedLocations = fc.Cache.TrackedLocations
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 20)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 40)
	cfg.UpstreamRPS = fc.Reliability.UpstreamRPS
	if cfg.UpstreamRPS <= 0 {
		// Free tier: 60 calls per minute.
		cfg.UpstreamRPS = 1
	}
	cfg.UpstreamBurst = positiveOr(fc.Reliability.UpstreamBurst, 10)
	cfg.BreakerFailureThreshold = positiveOr(fc.Reliability.CircuitBreaker.FailureThreshold, 5)
	cfg.BreakerSuccessThreshold = positiveOr(fc.Reliability.CircuitBreaker.SuccessThreshold, 2)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)
	cfg.CoalesceEnabled = true
	if fc.Reliability.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.Coalesce.Timeout, 10*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DashboardMaxDays = positiveOr(fc.Dashboard.MaxDays, 6)
	tzName := firstNonEmpty(strings.TrimSpace(fc.Dashboard.TimeZone), "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("dashboard.timezone %q: %w", tzName, err)
	}
	cfg.DashboardTimeZone = tz
	cfg.DashboardDefaultUnits = firstNonEmpty(strings.ToLower(strings.TrimSpace(fc.Dashboard.DefaultUnits)), "metric")
	cfg.DashboardFetchTimeout = parseDuration(fc.Dashboard.FetchTimeout, 20*time.Second)
	cfg.DashboardDescriptions = fc.Dashboard.Descriptions

	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Health.OverloadThresholdPct, 50)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 20)

	cfg.GeoDBPath = firstNonEmpty(strings.TrimSpace(os.Getenv("GEO_DB_PATH")), strings.TrimSpace(fc.Geo.DBPath))

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecretsKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// validate performs post-load validation. RequestTimeout is raised above WeatherAPITimeout
// when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "none":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or none, got %q", cfg.CacheBackend)
	}
	switch cfg.DashboardDefaultUnits {
	case "metric", "imperial":
	default:
		return fmt.Errorf("dashboard.default_units must be metric or imperial, got %q", cfg.DashboardDefaultUnits)
	}
	if cfg.OverloadThresholdPct > 100 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health thresholds must be percentages (1-100)")
	}
	for i, loc := range cfg.TrackedLocations {
		if loc.Label == "" || loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			return fmt.Errorf("cache.tracked_locations[%d] needs a label and valid lat/lon", i)
		}
	}
	return nil
}
