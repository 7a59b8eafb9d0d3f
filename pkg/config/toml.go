package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file. Only keys present in
// the file override the environment.
type FileConfig struct {
	Collector CollectorFile `toml:"collector"`
	Cache     CacheFile     `toml:"cache"`
	Stub      StubFile      `toml:"stub"`
	Outputs   *[]string     `toml:"outputs"`
	Log       LogFile       `toml:"log"`
}

type CollectorFile struct {
	EndpointURL     *string `toml:"endpoint-url"`
	IPLookupURL     *string `toml:"ip-lookup-url"`
	IPLookupTimeout *string `toml:"ip-lookup-timeout"`
	SubmitTimeout   *string `toml:"submit-timeout"`
	SigningSecret   *string `toml:"signing-secret"`
}

type CacheFile struct {
	TTL       *string `toml:"ttl"`
	Key       *string `toml:"key"`
	RedisAddr *string `toml:"redis-addr"`
	RedisDB   *int    `toml:"redis-db"`
}

type StubFile struct {
	Addr         *string `toml:"addr"`
	RequireHMAC  *bool   `toml:"require-hmac"`
	TrustProxy   *bool   `toml:"trust-proxy"`
	MaxBodyBytes *int64  `toml:"max-body-bytes"`
}

type LogFile struct {
	Level        *string `toml:"level"`
	Format       *string `toml:"format"`
	OTLPEndpoint *string `toml:"otlp-endpoint"`
}

// LoadFile reads a TOML config from path. Missing file is not an error.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return fc, nil
}

// Apply overlays the keys present in fc onto cfg.
func (fc FileConfig) Apply(cfg *Config) error {
	setString(&cfg.EndpointURL, fc.Collector.EndpointURL)
	setString(&cfg.IPLookupURL, fc.Collector.IPLookupURL)
	setString(&cfg.SigningSecret, fc.Collector.SigningSecret)
	if err := setDuration(&cfg.IPLookupTimeout, fc.Collector.IPLookupTimeout, "collector.ip-lookup-timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.SubmitTimeout, fc.Collector.SubmitTimeout, "collector.submit-timeout"); err != nil {
		return err
	}

	if err := setDuration(&cfg.IPCacheTTL, fc.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	setString(&cfg.IPCacheKey, fc.Cache.Key)
	setString(&cfg.RedisAddr, fc.Cache.RedisAddr)
	if fc.Cache.RedisDB != nil {
		cfg.RedisDB = *fc.Cache.RedisDB
	}

	setString(&cfg.StubAddr, fc.Stub.Addr)
	if fc.Stub.RequireHMAC != nil {
		cfg.RequireHMAC = *fc.Stub.RequireHMAC
	}
	if fc.Stub.TrustProxy != nil {
		cfg.TrustProxy = *fc.Stub.TrustProxy
	}
	if fc.Stub.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *fc.Stub.MaxBodyBytes
	}

	if fc.Outputs != nil {
		cfg.Outputs = append([]string(nil), (*fc.Outputs)...)
	}

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	setString(&cfg.OTLPEndpoint, fc.Log.OTLPEndpoint)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
