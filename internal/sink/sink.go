// Package sink archives check outcomes. Every check the collector or the
// stub endpoint handles becomes one check.Outcome, fanned out to the
// configured outputs (log, kafka, postgres).
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/metrics"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(o check.Outcome) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// New builds the sinks named in outputs. Each reads its own settings from
// the environment.
func New(outputs []string) ([]Sink, error) {
	var sinks []Sink
	seen := make(map[string]bool)
	for _, name := range outputs {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink())
		case "kafka":
			sinks = append(sinks, NewKafkaSinkFromEnv())
		case "postgres", "pg":
			sinks = append(sinks, NewPGSinkFromEnv())
		default:
			return nil, fmt.Errorf("unknown output %q", name)
		}
	}
	return sinks, nil
}

// Fanout delivers each outcome to every sink. A failing sink is counted
// and logged; it never blocks the others.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewFanout(m *metrics.Metrics, logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range sinks {
		if mu, ok := s.(interface{ useMetrics(*metrics.Metrics) }); ok {
			mu.useMetrics(m)
		}
	}
	return &Fanout{sinks: sinks, metrics: m, logger: logger}
}

// Start starts every sink. If one fails, those already started are closed.
func (f *Fanout) Start(ctx context.Context) error {
	for i, s := range f.sinks {
		if err := s.Start(ctx); err != nil {
			for _, started := range f.sinks[:i] {
				_ = started.Close()
			}
			return fmt.Errorf("start %s sink: %w", s.Name(), err)
		}
		f.logger.Info("sink started", "sink", s.Name())
	}
	return nil
}

// Emit has the shape of collector.Config.Emit.
func (f *Fanout) Emit(o check.Outcome) {
	for _, s := range f.sinks {
		if err := s.Enqueue(o); err != nil {
			f.metrics.IncrementSinkErrors(s.Name(), "enqueue")
			f.logger.Warn("sink enqueue failed", "sink", s.Name(), "check_id", o.CheckID, "error", err)
			continue
		}
		f.metrics.IncrementOutcomesEmitted(s.Name())
	}
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			f.metrics.IncrementSinkErrors(s.Name(), "close")
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}
