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

	"github.com/kjstillabower/rainz/internal/models"
)

// Offline cache backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendMemcached = "memcached"
)

// Entitlement sources.
const (
	EntitlementStatic   = "static"
	EntitlementSupabase = "supabase"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	RequestTimeout time.Duration
	FetchTimeout   time.Duration

	// Provider transport.
	ProviderTimeout         time.Duration
	RetryAttempts           int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	BreakerHalfOpenProbes   int

	OpenMeteoEnabled  bool
	OpenMeteoURL      string
	OpenWeatherMapKey string
	OpenWeatherMapURL string
	TomorrowKey       string
	TomorrowURL       string
	WeatherAPIKey     string
	WeatherAPIURL     string

	GeminiAPIKey  string
	GeminiURL     string
	GeminiModel   string
	GeminiTimeout time.Duration

	OfflineBackend        string
	OfflineValidity       time.Duration
	SQLitePath            string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	WriteQueueSize        int
	WriteWorkers          int
	CleanupInterval       time.Duration
	WarmInterval          time.Duration
	WarmLocations         []models.Location

	EntitlementSource string
	EntitledViewers   []string
	EntitlementTTL    time.Duration
	SupabaseURL       string
	SupabaseKey       string

	SessionIdle           time.Duration
	LocationNameMaxLength int

	RateLimitRPS   int
	RateLimitBurst int

	HealthWindow     time.Duration
	DegradedErrorPct int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
	ShutdownWriterDrainTimeout    time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout      string `yaml:"timeout"`
		FetchTimeout string `yaml:"fetch_timeout"`
	} `yaml:"request"`

	Providers struct {
		Timeout                 string `yaml:"timeout"`
		RetryMaxAttempts        *int   `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerCooldown         string `yaml:"breaker_cooldown"`
		BreakerHalfOpenProbes   int    `yaml:"breaker_half_open_probes"`

		OpenMeteo struct {
			Enabled *bool  `yaml:"enabled"`
			URL     string `yaml:"url"`
		} `yaml:"open_meteo"`
		OpenWeatherMap struct {
			URL string `yaml:"url"`
		} `yaml:"openweathermap"`
		Tomorrow struct {
			URL string `yaml:"url"`
		} `yaml:"tomorrow"`
		WeatherAPI struct {
			URL string `yaml:"url"`
		} `yaml:"weatherapi"`
	} `yaml:"providers"`

	LLM struct {
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"llm"`

	OfflineCache struct {
		Backend    string `yaml:"backend"`
		Validity   string `yaml:"validity"`
		SQLitePath string `yaml:"sqlite_path"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		WriteQueueSize  int    `yaml:"write_queue_size"`
		WriteWorkers    int    `yaml:"write_workers"`
		CleanupInterval string `yaml:"cleanup_interval"`
		WarmInterval    string `yaml:"warm_interval"`
		WarmLocations   []struct {
			Name string  `yaml:"name"`
			Lat  float64 `yaml:"lat"`
			Lon  float64 `yaml:"lon"`
		} `yaml:"warm_locations"`
	} `yaml:"offline_cache"`

	Entitlement struct {
		Source  string   `yaml:"source"`
		Viewers []string `yaml:"viewers"`
		TTL     string   `yaml:"ttl"`
		URL     string   `yaml:"supabase_url"`
	} `yaml:"entitlement"`

	Session struct {
		Idle string `yaml:"idle"`
	} `yaml:"session"`

	Validation struct {
		LocationNameMaxLength int `yaml:"location_name_max_length"`
	} `yaml:"validation"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Health struct {
		Window           string `yaml:"window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
		WriterDrainTimeout    string `yaml:"writer_drain_timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	OpenWeatherMapKey string `yaml:"openweathermap_api_key"`
	TomorrowKey       string `yaml:"tomorrow_api_key"`
	WeatherAPIKey     string `yaml:"weatherapi_api_key"`
	GeminiAPIKey      string `yaml:"gemini_api_key"`
	SupabaseKey       string `yaml:"supabase_key"`
}

// Load reads .env (if present), config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// Keys come from the environment first, then the secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
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

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 12*time.Second)
	cfg.FetchTimeout = parseDuration(fc.Request.FetchTimeout, 10*time.Second)

	cfg.ProviderTimeout = parseDuration(fc.Providers.Timeout, 5*time.Second)
	cfg.RetryAttempts = 2
	if fc.Providers.RetryMaxAttempts != nil && *fc.Providers.RetryMaxAttempts >= 0 {
		cfg.RetryAttempts = *fc.Providers.RetryMaxAttempts
	}
	cfg.RetryBaseDelay = parseDuration(fc.Providers.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Providers.RetryMaxDelay, 2*time.Second)
	cfg.BreakerFailureThreshold = positiveOr(fc.Providers.BreakerFailureThreshold, 5)
	cfg.BreakerCooldown = parseDuration(fc.Providers.BreakerCooldown, 30*time.Second)
	cfg.BreakerHalfOpenProbes = positiveOr(fc.Providers.BreakerHalfOpenProbes, 1)

	cfg.OpenMeteoEnabled = true
	if fc.Providers.OpenMeteo.Enabled != nil {
		cfg.OpenMeteoEnabled = *fc.Providers.OpenMeteo.Enabled
	}
	cfg.OpenMeteoURL = strings.TrimSpace(fc.Providers.OpenMeteo.URL)
	cfg.OpenWeatherMapKey = firstNonEmpty(os.Getenv("OPENWEATHERMAP_API_KEY"), sec.OpenWeatherMapKey)
	cfg.OpenWeatherMapURL = strings.TrimSpace(fc.Providers.OpenWeatherMap.URL)
	cfg.TomorrowKey = firstNonEmpty(os.Getenv("TOMORROW_API_KEY"), sec.TomorrowKey)
	cfg.TomorrowURL = strings.TrimSpace(fc.Providers.Tomorrow.URL)
	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHERAPI_API_KEY"), sec.WeatherAPIKey)
	cfg.WeatherAPIURL = strings.TrimSpace(fc.Providers.WeatherAPI.URL)

	cfg.GeminiAPIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), sec.GeminiAPIKey)
	cfg.GeminiURL = strings.TrimSpace(fc.LLM.URL)
	cfg.GeminiModel = strings.TrimSpace(fc.LLM.Model)
	cfg.GeminiTimeout = parseDuration(fc.LLM.Timeout, 8*time.Second)

	cfg.OfflineBackend = strings.ToLower(firstNonEmpty(os.Getenv("OFFLINE_CACHE_BACKEND"), fc.OfflineCache.Backend, BackendMemory))
	cfg.OfflineValidity = parseDuration(fc.OfflineCache.Validity, 6*time.Hour)
	cfg.SQLitePath = firstNonEmpty(os.Getenv("SQLITE_PATH"), fc.OfflineCache.SQLitePath, "data/offline-cache.db")
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.OfflineCache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.OfflineCache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.OfflineCache.Memcached.MaxIdleConns, 2)
	cfg.WriteQueueSize = positiveOr(fc.OfflineCache.WriteQueueSize, 64)
	cfg.WriteWorkers = positiveOr(fc.OfflineCache.WriteWorkers, 2)
	cfg.CleanupInterval = parseDuration(fc.OfflineCache.CleanupInterval, 30*time.Minute)
	cfg.WarmInterval = parseDurationOrZero(fc.OfflineCache.WarmInterval, 0)
	for _, l := range fc.OfflineCache.WarmLocations {
		cfg.WarmLocations = append(cfg.WarmLocations, models.Location{Name: strings.TrimSpace(l.Name), Latitude: l.Lat, Longitude: l.Lon})
	}

	cfg.EntitlementSource = strings.ToLower(firstNonEmpty(os.Getenv("ENTITLEMENT_SOURCE"), fc.Entitlement.Source, EntitlementStatic))
	cfg.EntitledViewers = fc.Entitlement.Viewers
	cfg.EntitlementTTL = parseDuration(fc.Entitlement.TTL, 60*time.Second)
	cfg.SupabaseURL = firstNonEmpty(os.Getenv("SUPABASE_URL"), fc.Entitlement.URL)
	cfg.SupabaseKey = firstNonEmpty(os.Getenv("SUPABASE_KEY"), sec.SupabaseKey)

	cfg.SessionIdle = parseDuration(fc.Session.Idle, 30*time.Minute)
	cfg.LocationNameMaxLength = positiveOr(fc.Validation.LocationNameMaxLength, 100)

	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 50)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)
	cfg.ShutdownWriterDrainTimeout = parseDuration(fc.Shutdown.WriterDrainTimeout, 5*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
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
// Returns zero or negative durations as-is (caller should handle fallback).
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

// validate performs post-load checks. FetchTimeout must leave room for one provider call and
// RequestTimeout must exceed FetchTimeout; both are raised automatically when too small.
func validate(cfg *Config) error {
	if !cfg.OpenMeteoEnabled && cfg.OpenWeatherMapKey == "" && cfg.TomorrowKey == "" && cfg.WeatherAPIKey == "" {
		return fmt.Errorf("no weather provider configured: enable open_meteo or set OPENWEATHERMAP_API_KEY, TOMORROW_API_KEY or WEATHERAPI_API_KEY")
	}
	if cfg.FetchTimeout < cfg.ProviderTimeout {
		cfg.FetchTimeout = cfg.ProviderTimeout
	}
	if cfg.RequestTimeout <= cfg.FetchTimeout {
		cfg.RequestTimeout = cfg.FetchTimeout + 2*time.Second
	}
	switch cfg.OfflineBackend {
	case BackendMemory, BackendSQLite, BackendMemcached:
	default:
		return fmt.Errorf("offline_cache.backend must be memory, sqlite or memcached, got %q", cfg.OfflineBackend)
	}
	switch cfg.EntitlementSource {
	case EntitlementStatic:
	case EntitlementSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return fmt.Errorf("entitlement source supabase requires SUPABASE_URL and SUPABASE_KEY")
		}
	default:
		return fmt.Errorf("entitlement.source must be static or supabase, got %q", cfg.EntitlementSource)
	}
	for _, l := range cfg.WarmLocations {
		if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
			return fmt.Errorf("offline_cache.warm_locations: %q has out-of-range coordinates", l.Name)
		}
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	return nil
}
