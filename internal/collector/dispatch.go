package collector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/enrich"
	"github.com/shortontech/fraudsignal/internal/metrics"
	"github.com/shortontech/fraudsignal/internal/traces"
)

// DefaultEndpointURL is where checks go when no endpoint is configured.
const DefaultEndpointURL = "http://localhost:8000/api/check"

// Headers set on every fraud-check POST besides Content-Type.
const (
	HeaderCheckID   = "X-Check-ID"
	HeaderSignature = "X-FraudSignal-HMAC"
)

const (
	defaultSubmitTimeout = 10 * time.Second
	maxResponseBody      = 1 << 20
)

// Transport outcomes. Result.Err wraps one of these.
var (
	ErrBadJSON       = errors.New("response body is not valid JSON")
	ErrRequestFailed = errors.New("fraud-check request failed")
)

// Outcome kinds as reported to sinks, metrics and the legacy error marker.
const (
	KindOK            = "ok"
	KindBadJSON       = "bad_json"
	KindRequestFailed = "request_failed"
)

// Result is what one fraud-check submission produced: either a verdict
// (the response body, verbatim) or an error wrapping ErrBadJSON or
// ErrRequestFailed.
type Result struct {
	CheckID    string
	Verdict    json.RawMessage
	StatusCode int
	Err        error
}

// OK reports whether a verdict was received.
func (r Result) OK() bool { return r.Err == nil }

// Kind returns KindOK, KindBadJSON or KindRequestFailed.
func (r Result) Kind() string {
	switch {
	case r.Err == nil:
		return KindOK
	case errors.Is(r.Err, ErrBadJSON):
		return KindBadJSON
	default:
		return KindRequestFailed
	}
}

// Marker returns the verdict on success and {"error":"<kind>"} otherwise,
// the single-channel shape integrators of the browser collector expect.
func (r Result) Marker() json.RawMessage {
	if r.OK() {
		return r.Verdict
	}
	b, _ := json.Marshal(map[string]string{"error": r.Kind()})
	return b
}

// Dispatcher sends fraud checks to the scoring service. It never returns
// an error: every failure is folded into the Result.
type Dispatcher struct {
	EndpointURL   string
	Client        *http.Client
	Timeout       time.Duration
	Resolver      *enrich.Resolver
	SigningSecret string

	// Emit receives every outcome, e.g. a sink fan-out.
	Emit func(check.Outcome)

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	now func() time.Time
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

// Submit resolves the public IP (when req has none and a resolver is set)
// and then dispatches. A failed lookup leaves IP nil and still sends.
func (d *Dispatcher) Submit(ctx context.Context, req check.Request) Result {
	res, out := d.submit(ctx, req)
	d.emit(out)
	return res
}

func (d *Dispatcher) submit(ctx context.Context, req check.Request) (Result, check.Outcome) {
	if req.IP == nil && d.Resolver != nil {
		req.IP = d.Resolver.PublicIP(ctx)
	}
	return d.dispatch(ctx, req)
}

// Dispatch POSTs req as JSON and classifies the response. Any status whose
// body parses as JSON is a verdict; the scoring service's own error bodies
// are forwarded like any other answer.
func (d *Dispatcher) Dispatch(ctx context.Context, req check.Request) Result {
	res, out := d.dispatch(ctx, req)
	d.emit(out)
	return res
}

// dispatch does the POST and returns the outcome without emitting it, so a
// caller can hand the result on before any sink runs.
func (d *Dispatcher) dispatch(ctx context.Context, req check.Request) (Result, check.Outcome) {
	started := d.clock()
	res := Result{CheckID: uuid.NewString()}

	endpoint := d.EndpointURL
	if endpoint == "" {
		endpoint = DefaultEndpointURL
	}

	ctx, span := traces.StartSpan(ctx, "fraudcheck.dispatch", traces.CheckID(res.CheckID), traces.Endpoint(endpoint))
	defer span.End()

	res.Verdict, res.StatusCode, res.Err = d.post(ctx, endpoint, res.CheckID, req)

	elapsed := d.clock().Sub(started)
	kind := res.Kind()
	span.SetAttributes(traces.Outcome(kind))
	d.Metrics.ObserveDispatch(kind, elapsed)

	if res.OK() {
		d.logger().Debug("fraud check dispatched", "check_id", res.CheckID, "status", res.StatusCode, "duration", elapsed)
	} else {
		d.logger().Warn("fraud check not delivered", "check_id", res.CheckID, "outcome", kind, "error", res.Err)
	}

	out := check.Outcome{
		CheckID:      res.CheckID,
		Source:       "collector",
		Endpoint:     endpoint,
		Request:      req,
		Verdict:      res.Verdict,
		StatusCode:   res.StatusCode,
		DispatchedAt: started.UTC(),
		DurationMs:   elapsed.Milliseconds(),
	}
	if !res.OK() {
		out.Error = kind
	}
	return res, out
}

func (d *Dispatcher) emit(out check.Outcome) {
	if d.Emit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger().Error("collector: outcome sink panicked", "check_id", out.CheckID, "panic", r)
		}
	}()
	d.Emit(out)
}

func (d *Dispatcher) post(ctx context.Context, endpoint, checkID string, req check.Request) (json.RawMessage, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: encode: %v", ErrRequestFailed, err)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderCheckID, checkID)
	if d.SigningSecret != "" {
		httpReq.Header.Set(HeaderSignature, Sign([]byte(d.SigningSecret), body))
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrRequestFailed, err)
	}
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, resp.StatusCode, fmt.Errorf("%w (status %d)", ErrBadJSON, resp.StatusCode)
	}
	return json.RawMessage(raw), resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
