package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestGetOr(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		defValue string
		want     string
	}{
		{name: "returns env value when set", envValue: "from_env", defValue: "default", want: "from_env"},
		{name: "returns default when env empty", envValue: "", defValue: "default", want: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FS_TEST_GETOR", tt.envValue)
			if got := getOr("FS_TEST_GETOR", tt.defValue); got != tt.want {
				t.Errorf("getOr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetBool(t *testing.T) {
	tests := []struct {
		envValue string
		def      bool
		want     bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"no", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("FS_TEST_BOOL", tt.envValue)
			if got := getBool("FS_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetInt64(t *testing.T) {
	tests := []struct {
		envValue string
		want     int64
	}{
		{"2097152", 2097152},
		{"-5", -5},
		{"not_a_number", 42},
		{"", 42},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("FS_TEST_INT", tt.envValue)
			if got := getInt64("FS_TEST_INT", 42); got != tt.want {
				t.Errorf("getInt64(%q) = %d, want %d", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetDuration(t *testing.T) {
	tests := []struct {
		envValue string
		want     time.Duration
	}{
		{"3s", 3 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"1500", 1500 * time.Millisecond},
		{"soon", time.Minute},
		{"", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("FS_TEST_DUR", tt.envValue)
			if got := getDuration("FS_TEST_DUR", time.Minute); got != tt.want {
				t.Errorf("getDuration(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      string
		want     []string
	}{
		{"single", "log", "", []string{"log"}},
		{"trims and skips empties", " kafka , ,postgres ", "", []string{"kafka", "postgres"}},
		{"falls back to default", "", "log,kafka", []string{"log", "kafka"}},
		{"empty everywhere", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FS_TEST_SLICE", tt.envValue)
			got := getStringSlice("FS_TEST_SLICE", tt.def)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("getStringSlice() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

var configKeys = []string{
	"ENDPOINT_URL", "IP_LOOKUP_URL", "IP_LOOKUP_TIMEOUT", "SUBMIT_TIMEOUT",
	"SIGNING_SECRET", "IP_CACHE_TTL", "IP_CACHE_KEY", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"STUB_ADDR", "REQUIRE_HMAC", "TRUST_PROXY", "MAX_BODY_BYTES", "OUTPUTS",
	"LOG_LEVEL", "LOG_FORMAT", "OTEL_EXPORTER_OTLP_ENDPOINT", "FRAUDSIGNAL_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.EndpointURL != "http://localhost:8000/api/check" {
			t.Errorf("EndpointURL = %q", cfg.EndpointURL)
		}
		if cfg.IPLookupTimeout != 3*time.Second {
			t.Errorf("IPLookupTimeout = %v, want 3s", cfg.IPLookupTimeout)
		}
		if cfg.SubmitTimeout != 10*time.Second {
			t.Errorf("SubmitTimeout = %v, want 10s", cfg.SubmitTimeout)
		}
		if cfg.MaxBodyBytes != 1<<20 {
			t.Errorf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
		}
		if !reflect.DeepEqual(cfg.Outputs, []string{"log"}) {
			t.Errorf("Outputs = %v, want [log]", cfg.Outputs)
		}
		if cfg.RequireHMAC || cfg.TrustProxy {
			t.Error("RequireHMAC and TrustProxy should default to false")
		}
	})

	t.Run("environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ENDPOINT_URL", "https://risk.example/api/check")
		t.Setenv("SUBMIT_TIMEOUT", "2s")
		t.Setenv("SIGNING_SECRET", "s3cret")
		t.Setenv("REQUIRE_HMAC", "true")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_DB", "3")
		t.Setenv("IP_CACHE_KEY", "fraudsignal:public_ip:eu-west")
		t.Setenv("OUTPUTS", "kafka,postgres")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.EndpointURL != "https://risk.example/api/check" || cfg.SubmitTimeout != 2*time.Second {
			t.Errorf("unexpected collector settings: %+v", cfg)
		}
		if !cfg.RequireHMAC || cfg.SigningSecret != "s3cret" {
			t.Errorf("unexpected signing settings: %+v", cfg)
		}
		if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 3 || cfg.IPCacheKey != "fraudsignal:public_ip:eu-west" {
			t.Errorf("unexpected redis settings: %+v", cfg)
		}
		if !reflect.DeepEqual(cfg.Outputs, []string{"kafka", "postgres"}) {
			t.Errorf("Outputs = %v", cfg.Outputs)
		}
	})

	t.Run("toml overrides environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STUB_ADDR", ":9000")
		t.Setenv("LOG_LEVEL", "warn")

		path := filepath.Join(t.TempDir(), "fraudsignal.toml")
		body := `outputs = ["log", "pg"]

[collector]
ip-lookup-timeout = "500ms"

[stub]
addr = ":7000"
trust-proxy = true
`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("FRAUDSIGNAL_CONFIG", path)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.StubAddr != ":7000" || !cfg.TrustProxy {
			t.Errorf("stub settings not overridden: %+v", cfg)
		}
		if cfg.IPLookupTimeout != 500*time.Millisecond {
			t.Errorf("IPLookupTimeout = %v", cfg.IPLookupTimeout)
		}
		if cfg.LogLevel != "warn" {
			t.Errorf("LogLevel = %q, absent TOML key must keep env value", cfg.LogLevel)
		}
		if !reflect.DeepEqual(cfg.Outputs, []string{"log", "pg"}) {
			t.Errorf("Outputs = %v", cfg.Outputs)
		}
	})

	t.Run("missing toml file is ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FRAUDSIGNAL_CONFIG", filepath.Join(t.TempDir(), "absent.toml"))
		if _, err := Load(); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	})

	t.Run("bad toml duration", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "bad.toml")
		if err := os.WriteFile(path, []byte("[cache]\nttl = \"forever\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("FRAUDSIGNAL_CONFIG", path)
		if _, err := Load(); err == nil {
			t.Fatal("expected error for invalid duration")
		}
	})

	t.Run("validation", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("REQUIRE_HMAC", "1")
		if _, err := Load(); err == nil {
			t.Error("REQUIRE_HMAC without SIGNING_SECRET should fail")
		}

		clearEnv(t)
		t.Setenv("OUTPUTS", "log,smtp")
		if _, err := Load(); err == nil {
			t.Error("unknown output should fail")
		}
	})
}
