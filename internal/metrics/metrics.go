package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for fraudsignal. Every method
// is safe on a nil *Metrics so instrumentation stays optional.
type Metrics struct {
	// Counters
	ChecksDispatched   *prometheus.CounterVec
	EnrichmentFailures *prometheus.CounterVec
	OutcomesEmitted    *prometheus.CounterVec
	SinkErrors         *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec

	// Gauges
	ActiveCollectors prometheus.Gauge

	// Histograms
	DispatchLatency *prometheus.HistogramVec
	HTTPDuration    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	ClientCA   string
	RequireTLS bool
}

// LoadConfig loads metrics configuration from environment variables
func LoadConfig() Config {
	return Config{
		Enabled:    getBool("METRICS_ENABLED", false),
		Addr:       getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:    getOr("METRICS_TLS_CERT", ""),
		TLSKey:     getOr("METRICS_TLS_KEY", ""),
		ClientCA:   getOr("METRICS_CLIENT_CA", ""),
		RequireTLS: getBool("METRICS_REQUIRE_TLS", false),
	}
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// uses a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		ChecksDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudsignal_checks_dispatched_total",
				Help: "Fraud checks dispatched, by outcome (ok, bad_json, request_failed)",
			},
			[]string{"outcome"},
		),

		EnrichmentFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudsignal_enrichment_failures_total",
				Help: "Client attribute lookups that degraded to null",
			},
			[]string{"attribute"},
		),

		OutcomesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudsignal_outcomes_emitted_total",
				Help: "Check outcomes written, by sink",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudsignal_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudsignal_http_requests_total",
				Help: "Stub endpoint HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		ActiveCollectors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fraudsignal_active_collectors",
				Help: "Collectors currently attached",
			},
		),

		DispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudsignal_dispatch_duration_seconds",
				Help:    "Time from submit to result, including IP resolution",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"outcome"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudsignal_http_duration_seconds",
				Help:    "Stub endpoint HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"endpoint", "method"},
		),

		gatherer: reg,
	}

	reg.MustRegister(
		m.ChecksDispatched,
		m.EnrichmentFailures,
		m.OutcomesEmitted,
		m.SinkErrors,
		m.HTTPRequests,
		m.ActiveCollectors,
		m.DispatchLatency,
		m.HTTPDuration,
	)

	return m
}

// Handler serves the registry the metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
	logger *slog.Logger
}

// NewServer creates a new metrics server exposing m.
func NewServer(config Config, m *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				logger.Warn("metrics: failed to load client CA", "error", err)
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				logger.Info("metrics: mTLS enabled", "client_ca", config.ClientCA)
			}
		}
		srv.TLSConfig = tlsConfig
	}

	return &Server{server: srv, config: config, logger: logger}
}

// Start starts the metrics server in a separate goroutine
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Debug("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			s.logger.Info("metrics: HTTPS server listening", "addr", s.config.Addr)
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			s.logger.Info("metrics: HTTP server listening", "addr", s.config.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics: server error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}
	return pool, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics. Its registry also carries the
// Go runtime and process collectors.
func Default() *Metrics {
	defaultOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		defaultMetrics = NewMetrics(reg)
	})
	return defaultMetrics
}

// Convenience methods for common operations

func (m *Metrics) ObserveDispatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChecksDispatched.WithLabelValues(outcome).Inc()
	m.DispatchLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncrementEnrichmentFailure(attribute string) {
	if m == nil {
		return
	}
	m.EnrichmentFailures.WithLabelValues(attribute).Inc()
}

func (m *Metrics) IncrementOutcomesEmitted(sink string) {
	if m == nil {
		return
	}
	m.OutcomesEmitted.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (m *Metrics) CollectorAttached() {
	if m == nil {
		return
	}
	m.ActiveCollectors.Inc()
}

func (m *Metrics) CollectorDetached() {
	if m == nil {
		return
	}
	m.ActiveCollectors.Dec()
}
