// Package collector instruments a checkout form with passive behavioral
// telemetry and reports a fraud check to the scoring service on submit.
//
// Attach registers a private set of listeners on one page and returns a
// Handle that owns them; Detach releases exactly that set. The form's own
// submission is never delayed or cancelled: the check is sent on a side
// goroutine and its Result goes to Config.OnResult.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/dom"
	"github.com/shortontech/fraudsignal/internal/enrich"
	"github.com/shortontech/fraudsignal/internal/metrics"
)

// Configuration errors returned by Attach.
var (
	ErrFormRequired = errors.New("collector: form is required")
	ErrFormNotFound = errors.New("collector: form not found")
)

// Config describes what to instrument and where to report.
type Config struct {
	// Window is the page. When nil and Form is an *dom.Element, a host
	// window around the form's document is used.
	Window *dom.Window

	Form       dom.Ref // required
	EmailInput dom.Ref
	CardInput  dom.Ref

	EndpointURL string
	OnResult    func(Result)

	Resolver      *enrich.Resolver
	Client        *http.Client
	SubmitTimeout time.Duration
	SigningSecret string
	Emit          func(check.Outcome)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Handle is one attach-to-detach lifecycle bound to one form.
type Handle struct {
	window *dom.Window
	doc    *dom.Document
	form   *dom.Element
	email  *dom.Element
	card   *dom.Element

	session    *session
	dispatcher *Dispatcher
	onResult   func(Result)
	metrics    *metrics.Metrics
	logger     *slog.Logger

	releases   []func()
	detachOnce sync.Once
	inflight   sync.WaitGroup
}

// Attach instruments the configured form. It fails only on configuration
// errors: a missing form reference (ErrFormRequired) or one that does not
// resolve to a live element (ErrFormNotFound). Missing fields are fine.
func Attach(cfg Config) (*Handle, error) {
	if isNilRef(cfg.Form) {
		return nil, ErrFormRequired
	}

	w := cfg.Window
	if w == nil {
		if el, ok := cfg.Form.(*dom.Element); ok {
			if doc := el.Document(); doc != nil {
				w = dom.HostWindow(doc)
			}
		}
	}
	if w == nil || w.Document == nil {
		return nil, fmt.Errorf("%w: no document for %v", ErrFormNotFound, describeRef(cfg.Form))
	}

	doc := w.Document
	form := cfg.Form.Resolve(doc)
	if form == nil {
		return nil, fmt.Errorf("%w: %v", ErrFormNotFound, describeRef(cfg.Form))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = enrich.NewResolver()
		resolver.Metrics = cfg.Metrics
		resolver.Logger = logger
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	onResult := cfg.OnResult
	if onResult == nil {
		onResult = func(Result) {}
	}

	h := &Handle{
		window:  w,
		doc:     doc,
		form:    form,
		email:   resolveOptional(cfg.EmailInput, doc),
		card:    resolveOptional(cfg.CardInput, doc),
		session: newSession(doc.Now()),
		dispatcher: &Dispatcher{
			EndpointURL:   cfg.EndpointURL,
			Client:        client,
			Timeout:       cfg.SubmitTimeout,
			Resolver:      resolver,
			SigningSecret: cfg.SigningSecret,
			Emit:          cfg.Emit,
			Metrics:       cfg.Metrics,
			Logger:        logger,
		},
		onResult: onResult,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
	h.subscribe()
	h.metrics.CollectorAttached()
	return h, nil
}

func (h *Handle) subscribe() {
	moves := h.doc.AddEventListener(dom.EventPointerMove, h.onPointerMove, dom.ListenerOptions{Passive: true})
	press := h.doc.AddEventListener(dom.EventClick, h.onPress, dom.ListenerOptions{Capture: true, Once: true})
	h.releases = append(h.releases,
		func() { h.doc.RemoveEventListener(moves) },
		func() { h.doc.RemoveEventListener(press) },
	)

	for _, field := range h.fields() {
		l := field.AddEventListener(dom.EventKeyDown, h.onKeyDown, dom.ListenerOptions{Capture: true})
		h.releases = append(h.releases, func() { field.RemoveEventListener(l) })
	}

	submit := h.form.AddEventListener(dom.EventSubmit, h.onSubmit, dom.ListenerOptions{})
	h.releases = append(h.releases, func() { h.form.RemoveEventListener(submit) })
}

// fields returns the present observed fields, once each.
func (h *Handle) fields() []*dom.Element {
	var out []*dom.Element
	if h.email != nil {
		out = append(out, h.email)
	}
	if h.card != nil && h.card != h.email {
		out = append(out, h.card)
	}
	return out
}

func (h *Handle) onPointerMove(*dom.Event) { h.session.pointerMove() }

func (h *Handle) onPress(ev *dom.Event) { h.session.press(ev.TimeStamp) }

func (h *Handle) onKeyDown(ev *dom.Event) { h.session.keyDown(ev.TimeStamp) }

// onSubmit snapshots the session and hands the request to a goroutine. It
// must not call PreventDefault and must not block the host's submit. The
// result reaches OnResult before the outcome goes to Emit, so a slow sink
// never holds back a verdict.
func (h *Handle) onSubmit(ev *dom.Event) {
	snap := h.session.snapshot(ev.TimeStamp)
	req := buildRequest(h.window, h.email, h.card, snap)

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		res, out := h.dispatcher.submit(context.Background(), req)
		h.deliver(res)
		h.dispatcher.emit(out)
	}()
}

func (h *Handle) deliver(res Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("collector: result callback panicked", "check_id", res.CheckID, "panic", r)
		}
	}()
	h.onResult(res)
}

// Detach removes every listener Attach registered. It is safe to call more
// than once and on a nil Handle. Submissions already in flight still
// complete and report.
func (h *Handle) Detach() {
	if h == nil {
		return
	}
	h.detachOnce.Do(func() {
		for _, release := range h.releases {
			release()
		}
		h.releases = nil
		h.metrics.CollectorDetached()
	})
}

// Wait blocks until every submission dispatched so far has reported and
// its outcome has been emitted.
func (h *Handle) Wait() {
	if h == nil {
		return
	}
	h.inflight.Wait()
}

// Snapshot returns the behavioral metrics gathered so far. A nil Handle
// has none.
func (h *Handle) Snapshot() Snapshot {
	if h == nil {
		return Snapshot{}
	}
	return h.session.snapshot(h.doc.Now())
}

func isNilRef(r dom.Ref) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *dom.Element:
		return v == nil
	case dom.Selector:
		return v == ""
	}
	return false
}

func resolveOptional(r dom.Ref, doc *dom.Document) *dom.Element {
	if isNilRef(r) {
		return nil
	}
	return r.Resolve(doc)
}

func describeRef(r dom.Ref) string {
	switch v := r.(type) {
	case dom.Selector:
		return fmt.Sprintf("selector %q", string(v))
	case *dom.Element:
		if v.ID != "" {
			return "element #" + v.ID
		}
		return "element <" + v.Tag + ">"
	}
	return fmt.Sprintf("%T", r)
}
