package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/metrics"
)

// PGConfig holds configuration for the Postgres sink
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool

	// MaxPending caps buffered outcomes while Postgres is unreachable;
	// the oldest are dropped past it. Zero means 20 batches.
	MaxPending int
	// FlushTimeout bounds one flush. Zero means 5s.
	FlushTimeout time.Duration
}

const (
	defaultPGBatchSize    = 500
	defaultPGFlushMS      = 500
	defaultPGFlushTimeout = 5 * time.Second
)

var pgColumns = []string{"check_id", "dispatched_at", "source", "status_code", "error", "payload"}

// PGSink batches outcomes into a JSONB table, flushing when the batch is
// full or every FlushMS, whichever comes first.
type PGSink struct {
	config  PGConfig
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	batch []check.Outcome
	// size-triggered flushes wait until then after a failure; the ticker
	// keeps retrying
	retryAfter time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPGSinkFromEnv creates a PGSink from environment variables
func NewPGSinkFromEnv() *PGSink {
	return &PGSink{
		config: PGConfig{
			DSN:          getEnvOr("PG_DSN", "postgres://localhost/fraudsignal?sslmode=disable"),
			Table:        getEnvOr("PG_TABLE", "fraud_checks"),
			BatchSize:    getIntEnv("PG_BATCH_SIZE", defaultPGBatchSize),
			FlushMS:      getIntEnv("PG_FLUSH_MS", defaultPGFlushMS),
			UseCopy:      getBoolEnv("PG_COPY", true),
			MaxPending:   getIntEnv("PG_MAX_PENDING", 0),
			FlushTimeout: time.Duration(getIntEnv("PG_FLUSH_TIMEOUT_MS", int(defaultPGFlushTimeout/time.Millisecond))) * time.Millisecond,
		},
		logger: slog.Default(),
	}
}

func NewPGSink(dsn string) *PGSink {
	return &PGSink{
		config: PGConfig{
			DSN:       dsn,
			Table:     "fraud_checks",
			BatchSize: 500,
			FlushMS:   500,
			UseCopy:   true,
		},
		logger: slog.Default(),
	}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) useMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *PGSink) batchSize() int {
	if s.config.BatchSize > 0 {
		return s.config.BatchSize
	}
	return defaultPGBatchSize
}

func (s *PGSink) maxPending() int {
	if s.config.MaxPending > 0 {
		return s.config.MaxPending
	}
	return 20 * s.batchSize()
}

func (s *PGSink) flushInterval() time.Duration {
	if s.config.FlushMS > 0 {
		return time.Duration(s.config.FlushMS) * time.Millisecond
	}
	return defaultPGFlushMS * time.Millisecond
}

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// validateTableName guards the identifier interpolated into DDL and
// INSERT statements.
func validateTableName(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}
	if s.config.BatchSize <= 0 {
		s.config.BatchSize = defaultPGBatchSize
	}
	if s.config.FlushMS <= 0 {
		s.config.FlushMS = defaultPGFlushMS
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("connect postgres: %w", err)
	}
	s.db = db

	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.flushRoutine(runCtx)
	return nil
}

func (s *PGSink) ensureSchema(ctx context.Context) error {
	t := s.config.Table
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	check_id TEXT NOT NULL,
	dispatched_at TIMESTAMPTZ NOT NULL,
	source TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL
)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (dispatched_at)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_gin ON %s USING GIN (payload)`, t, t),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Enqueue buffers o and flushes once the batch is full. On a failed flush
// the batch is kept for the next attempt, up to MaxPending outcomes; past
// that the oldest are dropped and counted.
func (s *PGSink) Enqueue(o check.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, o)
	if over := len(s.batch) - s.maxPending(); over > 0 {
		n := copy(s.batch, s.batch[over:])
		clear(s.batch[n:])
		s.batch = s.batch[:n]
		for i := 0; i < over; i++ {
			s.metrics.IncrementSinkErrors(s.Name(), "dropped")
		}
		s.logger.Warn("postgres backlog full, dropped oldest outcomes", "dropped", over, "pending", n)
	}
	if len(s.batch) < s.batchSize() || time.Now().Before(s.retryAfter) {
		return nil
	}
	return s.flushLocked(context.Background())
}

func (s *PGSink) flushBatch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *PGSink) flushLocked(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	if s.db == nil {
		return fmt.Errorf("postgres sink not started")
	}
	timeout := s.config.FlushTimeout
	if timeout <= 0 {
		timeout = defaultPGFlushTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	if s.config.UseCopy {
		err = s.flushWithCopy(ctx, s.batch)
	} else {
		err = s.flushWithInsert(ctx, s.batch)
	}
	if err != nil {
		s.retryAfter = time.Now().Add(s.flushInterval())
		return err
	}
	s.batch = s.batch[:0]
	s.retryAfter = time.Time{}
	return nil
}

func row(o check.Outcome) ([]any, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize outcome: %w", err)
	}
	return []any{o.CheckID, o.DispatchedAt, o.Source, o.StatusCode, o.Error, string(payload)}, nil
}

func (s *PGSink) flushWithInsert(ctx context.Context, batch []check.Outcome) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.config.Table, strings.Join(pgColumns, ", "))

	args := make([]any, 0, len(batch)*len(pgColumns))
	for i, o := range batch {
		r, err := row(o)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range r {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, r...)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (s *PGSink) flushWithCopy(ctx context.Context, batch []check.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin copy: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.config.Table, pgColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, o := range batch {
		r, err := row(o)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("copy flush: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("copy close: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit copy: %w", err)
	}
	return nil
}

func (s *PGSink) flushRoutine(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.flushBatch(context.Background()); err != nil {
				s.logger.Warn("postgres final flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.flushBatch(ctx); err != nil {
				s.logger.Warn("postgres flush failed", "error", err)
			}
		}
	}
}

// Close stops the flush routine, writes what is left and closes the pool.
func (s *PGSink) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	if s.db == nil {
		return nil
	}
	err := s.flushBatch(context.Background())
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	s.db = nil
	return err
}
