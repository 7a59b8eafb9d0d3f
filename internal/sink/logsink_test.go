package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shortontech/fraudsignal/internal/check"
)

func testOutcome(id string) check.Outcome {
	email := "buyer@example.com"
	return check.Outcome{
		CheckID:      id,
		Source:       "collector",
		Endpoint:     "http://localhost:8000/api/check",
		Request:      check.Request{Email: email, Language: "en-US"},
		Verdict:      json.RawMessage(`{"risk_score":12,"fraud_flags":[]}`),
		StatusCode:   200,
		DispatchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		DurationMs:   42,
	}
}

func TestNewLogSink(t *testing.T) {
	t.Run("uses default path when env not set", func(t *testing.T) {
		t.Setenv("LOG_PATH", "")
		sink := NewLogSink()
		if sink.dst != "ndjson.log" {
			t.Errorf("dst = %q, want ndjson.log", sink.dst)
		}
	})

	t.Run("uses env variable when set", func(t *testing.T) {
		t.Setenv("LOG_PATH", "/tmp/custom.log")
		sink := NewLogSink()
		if sink.dst != "/tmp/custom.log" {
			t.Errorf("dst = %q, want /tmp/custom.log", sink.dst)
		}
	})
}

func TestLogSinkStart(t *testing.T) {
	t.Run("creates file at destination path", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "checks.log")
		t.Setenv("LOG_PATH", logPath)

		sink := NewLogSink()
		if err := sink.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		defer sink.Close()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("stdout mode opens no file", func(t *testing.T) {
		t.Setenv("LOG_PATH", "stdout")
		sink := NewLogSink()
		if err := sink.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed for stdout: %v", err)
		}
		if sink.f != nil {
			t.Error("file pointer should be nil for stdout mode")
		}
	})

	t.Run("fails for unwritable path", func(t *testing.T) {
		t.Setenv("LOG_PATH", filepath.Join(t.TempDir(), "missing", "dir", "checks.log"))
		if err := NewLogSink().Start(context.Background()); err == nil {
			t.Error("Start() should fail when the directory does not exist")
		}
	})
}

func TestLogSinkEnqueue(t *testing.T) {
	t.Run("writes one JSON line per outcome", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "checks.log")
		t.Setenv("LOG_PATH", logPath)

		sink := NewLogSink()
		if err := sink.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		for _, id := range []string{"a", "b", "c"} {
			if err := sink.Enqueue(testOutcome(id)); err != nil {
				t.Fatalf("Enqueue() failed: %v", err)
			}
		}
		sink.Close()

		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		scanner := bufio.NewScanner(bytes.NewReader(content))
		var ids []string
		for scanner.Scan() {
			var decoded check.Outcome
			if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
				t.Fatalf("line is not valid JSON: %v", err)
			}
			ids = append(ids, decoded.CheckID)
		}
		if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
			t.Errorf("check ids = %v, want [a b c]", ids)
		}
	})

	t.Run("errors before start", func(t *testing.T) {
		if err := NewLogSink().Enqueue(testOutcome("x")); err == nil {
			t.Error("Enqueue() on unstarted sink should fail")
		}
	})

	t.Run("handles concurrent writes safely", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "concurrent.log")
		t.Setenv("LOG_PATH", logPath)

		sink := NewLogSink()
		if err := sink.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = sink.Enqueue(testOutcome("concurrent"))
			}()
		}
		wg.Wait()
		sink.Close()

		content, _ := os.ReadFile(logPath)
		if n := bytes.Count(content, []byte("\n")); n != 10 {
			t.Errorf("expected 10 lines, got %d", n)
		}
	})
}

func TestLogSinkClose(t *testing.T) {
	t.Run("write after close fails without panic", func(t *testing.T) {
		t.Setenv("LOG_PATH", filepath.Join(t.TempDir(), "closeable.log"))
		sink := NewLogSink()
		if err := sink.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
		if err := sink.Enqueue(testOutcome("after-close")); err == nil {
			t.Error("Enqueue() after Close() should fail")
		}
	})

	t.Run("handles close without start", func(t *testing.T) {
		if err := NewLogSink().Close(); err != nil {
			t.Errorf("Close() on unstarted sink should not error: %v", err)
		}
	})
}

func TestLogSinkAppendMode(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "append.log")
	t.Setenv("LOG_PATH", logPath)

	for _, id := range []string{"first", "second"} {
		sink := NewLogSink()
		if err := sink.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}
		_ = sink.Enqueue(testOutcome(id))
		sink.Close()
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !bytes.Contains(content, []byte(`"first"`)) || !bytes.Contains(content, []byte(`"second"`)) {
		t.Errorf("expected both outcomes in %s", content)
	}
}
