package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shortontech/fraudsignal/internal/assets"
	"github.com/shortontech/fraudsignal/internal/replay"
)

var (
	replayDemo     bool
	replayEndpoint string
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [trace.json]",
		Short: "Replay a recorded checkout against a scoring endpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReplayCmd,
	}
	cmd.Flags().BoolVar(&replayDemo, "demo", false, "replay the embedded demo trace")
	cmd.Flags().StringVar(&replayEndpoint, "endpoint", "", "scoring endpoint (overrides ENDPOINT_URL)")
	return cmd
}

func runReplayCmd(cmd *cobra.Command, args []string) error {
	src, err := openTrace(args, replayDemo)
	if err != nil {
		return err
	}
	defer src.Close()

	trace, err := replay.Parse(src)
	if err != nil {
		return fmt.Errorf("failed to parse trace: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	endpoint := a.cfg.EndpointURL
	if replayEndpoint != "" {
		endpoint = replayEndpoint
	}

	report, err := replay.Run(ctx, trace, replay.Options{
		EndpointURL:   endpoint,
		Resolver:      newResolver(a.cfg, a.metrics, a.logger),
		Client:        newHTTPClient(),
		SubmitTimeout: a.cfg.SubmitTimeout,
		SigningSecret: a.cfg.SigningSecret,
		Emit:          a.sinks.Emit,
		Metrics:       a.metrics,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}
	a.logger.Info("replay finished", "endpoint", endpoint, "result", report.Result.Kind())

	return writeReport(cmd.OutOrStdout(), report)
}

func openTrace(args []string, demo bool) (io.ReadCloser, error) {
	switch {
	case demo && len(args) > 0:
		return nil, errors.New("pass either a trace file or --demo, not both")
	case demo:
		return io.NopCloser(bytes.NewReader(assets.DemoTrace)), nil
	case len(args) == 0:
		return nil, errors.New("a trace file or --demo is required")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	return f, nil
}

func writeReport(w io.Writer, report *replay.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
