//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/rainfall-advisory-service/internal/cache"
	"github.com/kjstillabower/rainfall-advisory-service/internal/client"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictlog"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictor"
	"github.com/kjstillabower/rainfall-advisory-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openweathermap.org/data/2.5/weather"
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// IntegrationStack is the live pipeline under test.
type IntegrationStack struct {
	Advisory   *service.AdvisoryService
	Conditions *service.ConditionsService
	Cache      cache.Cache
	Store      *predictlog.FileStore
}

// SetupIntegrationService wires the real weather client, the configured cache, a
// prediction log in a temp dir and a fixed linear model. Cleanup is registered on t.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) IntegrationStack {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	weatherClient := SetupIntegrationClient(t, cfg)

	var cacheSvc cache.Cache = cache.NewInMemoryCache()
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}

	model, err := predictor.NewLinearModel(-118.4, map[string]float64{
		"temperature": 0.21, "wind": 0.05, "pressure": 0.1, "humidity": 0.34, "cloud": 0.27,
	}, nil)
	if err != nil {
		t.Fatalf("NewLinearModel() error = %v", err)
	}

	conditions := service.NewConditionsService(weatherClient, cacheSvc, 5*time.Minute, 5*time.Second, logger)
	store := predictlog.NewFileStore(filepath.Join(t.TempDir(), "prediction_log.csv"), logger)
	advisory := service.NewAdvisoryService(service.Options{
		Predictor:  model,
		Store:      store,
		Conditions: conditions,
		Clock:      clockwork.NewRealClock(),
		Logger:     logger,
	})

	return IntegrationStack{Advisory: advisory, Conditions: conditions, Cache: cacheSvc, Store: store}
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}
