// Package httpx is a local stand-in for the scoring service. It accepts
// fraud checks the way the real service does, records them, fans them out
// to sinks and answers with a configured verdict. It does not score.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/collector"
	"github.com/shortontech/fraudsignal/internal/metrics"
)

const (
	defaultMaxBodyBytes = 1 << 20
	listLimit           = 200
)

type Env struct {
	// Verdict is the answer template; its check_id is always replaced by
	// the stored record's ID.
	Verdict check.Verdict
	// RawBody, when set, is written verbatim instead of a verdict.
	RawBody []byte
	// Status defaults to 200.
	Status int

	MaxBodyBytes int64
	TrustProxy   bool

	Emit     func(check.Outcome) // injected sink fan-out
	HMACAuth *HMACAuth
	Store    *Store
	Ready    func(ctx context.Context) error

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	now func() time.Time
}

func (e Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Env) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ready != nil {
		if err := e.Ready(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func detail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// Check handles POST /api/check.
func (e Env) Check(w http.ResponseWriter, r *http.Request) {
	started := e.clock()
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		detail(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	limit := e.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			detail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		detail(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !e.HMACAuth.VerifyHMAC(r, body) {
		detail(w, http.StatusUnauthorized, "invalid or missing signature")
		return
	}

	var req check.Request
	if err := json.Unmarshal(body, &req); err != nil {
		detail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		detail(w, http.StatusUnprocessableEntity, "email is required")
		return
	}
	if req.IP == nil {
		ip := clientIP(r, e.TrustProxy)
		req.IP = &ip
	}

	verdict := e.Verdict
	if verdict.FraudFlags == nil {
		verdict.FraudFlags = []string{}
	}
	if verdict.Recommendation == "" {
		verdict.Recommendation = check.Recommendation(verdict.RiskScore)
	}
	rec := e.Store.Add(req, verdict.RiskScore, verdict.FraudFlags, started)
	id := rec.ID
	verdict.CheckID = &id

	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	raw := e.RawBody
	if raw == nil {
		raw, _ = json.Marshal(verdict)
	}

	checkID := r.Header.Get(collector.HeaderCheckID)
	if checkID == "" {
		checkID = strconv.FormatInt(id, 10)
	}
	if e.Emit != nil {
		out := check.Outcome{
			CheckID:      checkID,
			Source:       "stub",
			Endpoint:     r.URL.Path,
			Request:      req,
			StatusCode:   status,
			DispatchedAt: started.UTC(),
			DurationMs:   e.clock().Sub(started).Milliseconds(),
		}
		if json.Valid(raw) {
			out.Verdict = raw
		} else {
			out.Error = collector.KindBadJSON
		}
		e.Emit(out)
	}

	e.logger().Info("check answered", "check_id", checkID, "record_id", id, "risk_score", verdict.RiskScore, "status", status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// ListChecks handles GET /api/checks.
func (e Env) ListChecks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.Store.List(listLimit))
}

// GetCheck handles GET /api/checks/{id}.
func (e Env) GetCheck(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		detail(w, http.StatusBadRequest, "invalid check id")
		return
	}
	rec, ok := e.Store.Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Summary handles GET /api/metrics.
func (e Env) Summary(w http.ResponseWriter, r *http.Request) {
	records := e.Store.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":      check.Summarize(records),
		"distribution": check.Distribution(records),
	})
}
