//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/rainz/internal/client"
	"github.com/kjstillabower/rainz/internal/observability"
	"github.com/kjstillabower/rainz/internal/offline"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	Providers     client.Config
	CacheBackend  string // "memory", "sqlite" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads provider keys from the environment. Open-Meteo needs no key so
// tests always have at least one live provider; set RAINZ_SKIP_LIVE to skip entirely.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("RAINZ_SKIP_LIVE") != "" {
		t.Skip("RAINZ_SKIP_LIVE set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		Providers: client.Config{
			Transport:         client.DefaultSettings(),
			OpenMeteoEnabled:  true,
			OpenWeatherMapKey: os.Getenv("OPENWEATHERMAP_API_KEY"),
			TomorrowKey:       os.Getenv("TOMORROW_API_KEY"),
			WeatherAPIKey:     os.Getenv("WEATHERAPI_API_KEY"),
		},
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationProviders builds the live providers for cfg.
func SetupIntegrationProviders(t *testing.T, cfg IntegrationTestConfig) []client.Provider {
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return client.Registry(cfg.Providers, logger)
}

// SetupIntegrationCache returns an offline cache on the configured backend, falling back to
// memory when memcached is unreachable. The cache is closed on test cleanup.
func SetupIntegrationCache(t *testing.T, cfg IntegrationTestConfig) *offline.Cache {
	var store offline.Store
	switch cfg.CacheBackend {
	case "memcached":
		mc := offline.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2, offline.DefaultValidity)
		if err := mc.Ping(t.Context()); err != nil {
			t.Logf("Memcached not available (%v), using in-memory store", err)
			store = offline.NewMemoryStore()
		} else {
			store = mc
		}
	case "sqlite":
		store = offline.NewSQLiteStore(t.TempDir() + "/offline.db")
	default:
		store = offline.NewMemoryStore()
	}
	c := offline.New(store, nil, 0, nil)
	t.Cleanup(func() { c.Close() })
	return c
}
