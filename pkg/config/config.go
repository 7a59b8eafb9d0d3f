// Package config loads fraudsignal settings from the environment, an
// optional .env file and an optional TOML file named by FRAUDSIGNAL_CONFIG.
// TOML values override the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Collector
	EndpointURL     string
	IPLookupURL     string
	IPLookupTimeout time.Duration
	SubmitTimeout   time.Duration
	SigningSecret   string // empty disables signing

	// IP cache; a RedisAddr selects Redis over the in-process cache.
	// IPCacheKey defaults to one key per hostname.
	IPCacheTTL    time.Duration
	IPCacheKey    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Stub scoring endpoint
	StubAddr     string
	RequireHMAC  bool
	TrustProxy   bool
	MaxBodyBytes int64 // bytes for /api/check payload

	Outputs []string // enabled sinks: log, kafka, postgres

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string // empty disables tracing
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// getDuration accepts Go durations ("3s") or bare milliseconds ("3000").
func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	return splitList(v)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// FromEnv reads the environment only.
func FromEnv() Config {
	return Config{
		EndpointURL:     getOr("ENDPOINT_URL", "http://localhost:8000/api/check"),
		IPLookupURL:     getOr("IP_LOOKUP_URL", "https://ipapi.co/json/"),
		IPLookupTimeout: getDuration("IP_LOOKUP_TIMEOUT", 3*time.Second),
		SubmitTimeout:   getDuration("SUBMIT_TIMEOUT", 10*time.Second),
		SigningSecret:   getOr("SIGNING_SECRET", ""),

		IPCacheTTL:    getDuration("IP_CACHE_TTL", 5*time.Minute),
		IPCacheKey:    getOr("IP_CACHE_KEY", ""),
		RedisAddr:     getOr("REDIS_ADDR", ""),
		RedisPassword: getOr("REDIS_PASSWORD", ""),
		RedisDB:       int(getInt64("REDIS_DB", 0)),

		StubAddr:     getOr("STUB_ADDR", ":8000"),
		RequireHMAC:  getBool("REQUIRE_HMAC", false),
		TrustProxy:   getBool("TRUST_PROXY", false),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default

		Outputs: getStringSlice("OUTPUTS", "log"), // default to log only

		LogLevel:     getOr("LOG_LEVEL", "info"),
		LogFormat:    getOr("LOG_FORMAT", "text"),
		OTLPEndpoint: getOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Load reads .env (if present), the environment, then the TOML file named
// by FRAUDSIGNAL_CONFIG (if set).
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := FromEnv()
	if path := os.Getenv("FRAUDSIGNAL_CONFIG"); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := fc.Apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.EndpointURL == "" {
		return fmt.Errorf("ENDPOINT_URL must not be empty")
	}
	if c.IPLookupTimeout <= 0 || c.SubmitTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.RequireHMAC && c.SigningSecret == "" {
		return fmt.Errorf("REQUIRE_HMAC needs SIGNING_SECRET")
	}
	for _, o := range c.Outputs {
		switch o {
		case "log", "kafka", "postgres", "pg":
		default:
			return fmt.Errorf("unknown output %q", o)
		}
	}
	return nil
}
