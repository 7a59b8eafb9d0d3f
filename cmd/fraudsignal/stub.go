package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortontech/fraudsignal/internal/check"
	httpx "github.com/shortontech/fraudsignal/internal/http"
	"github.com/shortontech/fraudsignal/internal/metrics"
	"github.com/shortontech/fraudsignal/internal/sink"
)

const shutdownTimeout = 10 * time.Second

var (
	stubAddr           string
	stubScore          int
	stubFlags          []string
	stubRecommendation string
	stubStatus         int
	stubRawBody        string
)

func newStubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run a local scoring endpoint that answers with a fixed verdict",
		Args:  cobra.NoArgs,
		RunE:  runStubCmd,
	}
	cmd.Flags().StringVar(&stubAddr, "addr", "", "listen address (overrides STUB_ADDR)")
	cmd.Flags().IntVar(&stubScore, "score", 0, "risk_score to answer with (0-100)")
	cmd.Flags().StringSliceVar(&stubFlags, "flag", nil, "fraud flag to answer with (repeatable)")
	cmd.Flags().StringVar(&stubRecommendation, "recommendation", "", "recommendation (derived from score when empty)")
	cmd.Flags().IntVar(&stubStatus, "status", http.StatusOK, "HTTP status to answer with")
	cmd.Flags().StringVar(&stubRawBody, "raw-body", "", "answer with this body verbatim instead of a verdict")
	return cmd
}

func runStubCmd(cmd *cobra.Command, _ []string) error {
	if stubScore < 0 || stubScore > 100 {
		return fmt.Errorf("--score must be between 0 and 100, got %d", stubScore)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	addr := a.cfg.StubAddr
	if stubAddr != "" {
		addr = stubAddr
	}

	env := httpx.Env{
		Verdict: check.Verdict{
			RiskScore:      stubScore,
			FraudFlags:     stubFlags,
			Recommendation: stubRecommendation,
		},
		Status:       stubStatus,
		MaxBodyBytes: a.cfg.MaxBodyBytes,
		TrustProxy:   a.cfg.TrustProxy,
		Emit:         a.sinks.Emit,
		HMACAuth:     initializeHMACAuth(a.cfg, a.logger),
		Store:        httpx.NewStore(),
		Metrics:      a.metrics,
		Logger:       a.logger,
	}
	if stubRawBody != "" {
		env.RawBody = []byte(stubRawBody)
	}

	metricsServer := metrics.NewServer(metrics.LoadConfig(), a.metrics, a.logger)
	if err := metricsServer.Start(ctx); err != nil {
		a.close(context.Background())
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	srv, errc := startHTTPServer(addr, httpx.NewRouter(env), a.logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var serveErr error
	select {
	case <-stop:
		a.logger.Info("shutting down")
	case <-ctx.Done():
	case serveErr = <-errc:
		a.logger.Error("server error", "error", serveErr)
	}

	waitForShutdown(srv, metricsServer, a.sinks, a.logger)
	if err := a.stopTraces(context.Background()); err != nil {
		a.logger.Warn("trace shutdown failed", "error", err)
	}
	return serveErr
}

// startHTTPServer serves h on addr. Listen errors other than a clean
// shutdown arrive on the returned channel.
func startHTTPServer(addr string, h http.Handler, logger *slog.Logger) (*http.Server, <-chan error) {
	srv := httpx.NewServer(addr, h)
	errc := make(chan error, 1)
	go func() {
		logger.Info("stub listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	return srv, errc
}

// waitForShutdown stops the servers, then flushes and closes the sinks.
func waitForShutdown(srv *http.Server, metricsServer *metrics.Server, sinks *sink.Fanout, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Warn("metrics shutdown failed", "error", err)
	}
	if err := sinks.Close(); err != nil {
		logger.Warn("sink close failed", "error", err)
	}
}
