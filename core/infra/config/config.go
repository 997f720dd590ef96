package config

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultRedisURL    = "redis://localhost:6379"
	defaultNATSURL     = "nats://localhost:4222"
	defaultHTTPAddr    = ":8081"
	defaultMetricsAddr = ":9090"
	defaultCatalogPath = "config/stack.yaml"
	// stale results are memoized this long after write before a recompute.
	defaultStaleCacheTTL = 300 * time.Second

	envRedisURL          = "REDIS_URL"
	envNATSURL           = "NATS_URL"
	envHTTPAddr          = "HTTP_ADDR"
	envMetricsAddr       = "METRICS_ADDR"
	envCatalogPath       = "CATALOG_PATH"
	envStaleCacheEnabled = "STALE_CACHE_ENABLED"
	envStaleCacheTTL     = "STALE_CACHE_TTL"
)

// Config holds runtime configuration for the fleetconf daemon.
type Config struct {
	RedisURL          string
	NatsURL           string
	HTTPAddr          string
	MetricsAddr       string
	CatalogPath       string
	StaleCacheEnabled bool
	StaleCacheTTL     time.Duration
}

// Load returns configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		RedisURL:          envOr(envRedisURL, defaultRedisURL),
		NatsURL:           envOr(envNATSURL, defaultNATSURL),
		HTTPAddr:          envOr(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:       envOr(envMetricsAddr, defaultMetricsAddr),
		CatalogPath:       envOr(envCatalogPath, defaultCatalogPath),
		StaleCacheEnabled: cacheEnabledFromEnv(),
		StaleCacheTTL:     cacheTTLFromEnv(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cacheEnabledFromEnv defaults to enabled; only an explicit falsy value
// disables the stale result cache.
func cacheEnabledFromEnv() bool {
	switch os.Getenv(envStaleCacheEnabled) {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// cacheTTLFromEnv accepts either a ParseDuration value (e.g. 5m) or a plain
// number of seconds.
func cacheTTLFromEnv() time.Duration {
	raw := os.Getenv(envStaleCacheTTL)
	if raw == "" {
		return defaultStaleCacheTTL
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultStaleCacheTTL
}
