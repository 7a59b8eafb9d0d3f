package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/shortontech/fraudsignal/internal/enrich"
	httpx "github.com/shortontech/fraudsignal/internal/http"
	"github.com/shortontech/fraudsignal/internal/logging"
	"github.com/shortontech/fraudsignal/internal/metrics"
	"github.com/shortontech/fraudsignal/internal/sink"
	"github.com/shortontech/fraudsignal/internal/traces"
	"github.com/shortontech/fraudsignal/pkg/config"
)

// app holds what every subcommand wires from configuration.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sinks      *sink.Fanout
	stopTraces func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// stdout carries command output.
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	m := metrics.Default()

	stop, err := traces.Init(ctx, cfg.OTLPEndpoint, version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	fanout, err := initializeSinks(ctx, cfg.Outputs, m, logger)
	if err != nil {
		_ = stop(ctx)
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, metrics: m, sinks: fanout, stopTraces: stop}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.sinks.Close(); err != nil {
		a.logger.Warn("sink close failed", "error", err)
	}
	if err := a.stopTraces(ctx); err != nil {
		a.logger.Warn("trace shutdown failed", "error", err)
	}
}

// initializeSinks builds and starts the configured outputs.
func initializeSinks(ctx context.Context, outputs []string, m *metrics.Metrics, logger *slog.Logger) (*sink.Fanout, error) {
	sinks, err := sink.New(outputs)
	if err != nil {
		return nil, err
	}
	fanout := sink.NewFanout(m, logger, sinks...)
	if err := fanout.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start sinks: %w", err)
	}
	logger.Info("sinks started", "outputs", fanout.Names())
	return fanout, nil
}

// newResolver builds the IP resolver, backed by Redis when REDIS_ADDR is
// set and by an in-process cache otherwise.
func newResolver(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) *enrich.Resolver {
	r := enrich.NewResolver()
	r.LookupURL = cfg.IPLookupURL
	r.Timeout = cfg.IPLookupTimeout
	r.TTL = cfg.IPCacheTTL
	if cfg.IPCacheKey != "" {
		r.CacheKey = cfg.IPCacheKey
	}
	r.Metrics = m
	r.Logger = logger
	if cfg.IPCacheTTL > 0 {
		if cfg.RedisAddr != "" {
			r.Cache = enrich.NewRedisCache(enrich.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
		} else {
			r.Cache = enrich.NewMemoryCache()
		}
	}
	return r
}

// initializeHMACAuth returns nil when no secret is configured.
func initializeHMACAuth(cfg config.Config, logger *slog.Logger) *httpx.HMACAuth {
	if cfg.SigningSecret == "" {
		return nil
	}
	return httpx.NewHMACAuth(cfg.SigningSecret, cfg.RequireHMAC, logger)
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: http.DefaultTransport}
}
