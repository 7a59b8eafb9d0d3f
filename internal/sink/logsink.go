package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shortontech/fraudsignal/internal/check"
)

// LogSink appends outcomes as NDJSON to LOG_PATH ("stdout" for stdout).
type LogSink struct {
	dst string

	mu sync.Mutex
	f  *os.File
	w  io.Writer
}

func NewLogSink() *LogSink { return &LogSink{dst: getEnvOr("LOG_PATH", "ndjson.log")} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dst == "stdout" {
		s.w = os.Stdout
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.dst, err)
	}
	s.f = f
	s.w = f
	return nil
}

func (s *LogSink) Enqueue(o check.Outcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to serialize outcome: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("log sink not started")
	}
	_, err = s.w.Write(b)
	return err
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = nil
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
