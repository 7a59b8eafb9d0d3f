// Package replay drives a recorded checkout interaction through a page
// with a collector attached, so a scoring endpoint can be exercised
// offline with realistic behavioral metrics.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shortontech/fraudsignal/internal/check"
	"github.com/shortontech/fraudsignal/internal/collector"
	"github.com/shortontech/fraudsignal/internal/dom"
	"github.com/shortontech/fraudsignal/internal/enrich"
	"github.com/shortontech/fraudsignal/internal/metrics"
)

// Trace validation errors.
var (
	ErrOutOfOrder    = errors.New("replay: events out of chronological order")
	ErrUnknownEvent  = errors.New("replay: unknown event type")
	ErrUnknownTarget = errors.New("replay: unknown event target")
	ErrMultiSubmit   = errors.New("replay: more than one submit event")
)

// Event targets besides the document.
const (
	TargetDocument = "document"
	TargetBody     = "body"
	TargetForm     = "form"
	TargetEmail    = "email"
	TargetCard     = "card"
)

// Trace is a recorded interaction.
type Trace struct {
	Page       Page      `json:"page"`
	Navigator  Navigator `json:"navigator"`
	Screen     *Screen   `json:"screen"`
	PixelRatio float64   `json:"pixel_ratio"`
	Timezone   *string   `json:"timezone"`
	Fields     Fields    `json:"fields"`
	Events     []Event   `json:"events"`
}

// Page names the element IDs of the checkout form.
type Page struct {
	Form  string `json:"form"`
	Email string `json:"email"`
	Card  string `json:"card"`
}

type Navigator struct {
	UserAgent string `json:"user_agent"`
	Platform  string `json:"platform"`
	Language  string `json:"language"`
}

type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fields are the values present before the first event, e.g. autofill.
type Fields struct {
	Email string `json:"email"`
	Card  string `json:"card"`
}

// Event is one recorded interaction, AtMs after page load.
type Event struct {
	AtMs   int64  `json:"at_ms"`
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Key    string `json:"key,omitempty"`
}

// Parse decodes and validates a trace.
func Parse(r io.Reader) (*Trace, error) {
	var t Trace
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("replay: decode trace: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks event types, targets and ordering.
func (t *Trace) Validate() error {
	var last int64
	submits := 0
	for i, ev := range t.Events {
		if ev.AtMs < 0 || ev.AtMs < last {
			return fmt.Errorf("%w: event %d at %dms follows %dms", ErrOutOfOrder, i, ev.AtMs, last)
		}
		last = ev.AtMs

		switch ev.Type {
		case dom.EventPointerMove, dom.EventClick:
		case dom.EventKeyDown:
			if ev.Target != TargetEmail && ev.Target != TargetCard && ev.Target != TargetForm && ev.Target != TargetBody {
				return fmt.Errorf("%w: keydown on %q (event %d)", ErrUnknownTarget, ev.Target, i)
			}
			continue
		case dom.EventSubmit:
			submits++
			if submits > 1 {
				return fmt.Errorf("%w (event %d)", ErrMultiSubmit, i)
			}
			continue
		default:
			return fmt.Errorf("%w: %q (event %d)", ErrUnknownEvent, ev.Type, i)
		}
		switch ev.Target {
		case "", TargetDocument, TargetBody, TargetForm, TargetEmail, TargetCard:
		default:
			return fmt.Errorf("%w: %q (event %d)", ErrUnknownTarget, ev.Target, i)
		}
	}
	return nil
}

// Options configure the collector the trace is replayed against.
type Options struct {
	EndpointURL   string
	Resolver      *enrich.Resolver
	Client        *http.Client
	SubmitTimeout time.Duration
	SigningSecret string
	Emit          func(check.Outcome)
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Report is what one replay produced.
type Report struct {
	Result     collector.Result
	Snapshot   collector.Snapshot
	DefaultRan bool
}

// MarshalJSON renders the report for the CLI.
func (r Report) MarshalJSON() ([]byte, error) {
	var firstMs *int64
	if d := r.Snapshot.FirstInteractionDelay; d != nil {
		ms := d.Milliseconds()
		firstMs = &ms
	}
	return json.Marshal(struct {
		CheckID           string          `json:"check_id"`
		Outcome           string          `json:"outcome"`
		StatusCode        int             `json:"status_code,omitempty"`
		Result            json.RawMessage `json:"result"`
		DefaultRan        bool            `json:"default_ran"`
		SessionDurationMs int64           `json:"session_duration_ms"`
		MouseMovesCount   int64           `json:"mouse_moves_count"`
		FirstClickDelayMs *int64          `json:"first_click_delay_ms"`
		KeyIntervals      []int64         `json:"key_intervals_ms"`
		TypingSpeedMsAvg  *int64          `json:"typing_speed_ms_avg"`
	}{
		CheckID:           r.Result.CheckID,
		Outcome:           r.Result.Kind(),
		StatusCode:        r.Result.StatusCode,
		Result:            r.Result.Marker(),
		DefaultRan:        r.DefaultRan,
		SessionDurationMs: r.Snapshot.SessionDuration.Milliseconds(),
		MouseMovesCount:   r.Snapshot.PointerMoves,
		FirstClickDelayMs: firstMs,
		KeyIntervals:      r.Snapshot.KeyIntervals,
		TypingSpeedMsAvg:  r.Snapshot.AverageTypingMs,
	})
}

// epoch is the page-load instant every trace is replayed from.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type page struct {
	doc    *dom.Document
	body   *dom.Element
	form   *dom.Element
	email  *dom.Element
	card   *dom.Element
	window *dom.Window
}

func buildPage(t *Trace, clock *manualClock) *page {
	ids := t.Page
	if ids.Form == "" {
		ids.Form = "checkout"
	}
	if ids.Email == "" {
		ids.Email = "email"
	}
	if ids.Card == "" {
		ids.Card = "card"
	}

	doc := dom.NewDocument(dom.WithClock(clock.Now))
	p := &page{doc: doc}
	p.body = doc.AppendChild(dom.NewElement("body", "", ""))
	p.form = p.body.AppendChild(dom.NewElement("form", ids.Form, ""))
	p.email = p.form.AppendChild(dom.NewElement("input", ids.Email, "email"))
	p.card = p.form.AppendChild(dom.NewElement("input", ids.Card, "cardnumber"))
	p.email.SetValue(t.Fields.Email)
	p.card.SetValue(t.Fields.Card)

	w := &dom.Window{
		Document: doc,
		Navigator: dom.Navigator{
			UserAgent: t.Navigator.UserAgent,
			Platform:  t.Navigator.Platform,
			Language:  t.Navigator.Language,
		},
		DevicePixelRatio: t.PixelRatio,
	}
	if t.Screen != nil {
		w.Screen = &dom.Screen{Width: t.Screen.Width, Height: t.Screen.Height}
	}
	if t.Timezone != nil {
		tz := *t.Timezone
		w.TimeZone = func() (string, error) { return tz, nil }
	}
	p.window = w
	return p
}

func (p *page) target(name string) *dom.Element {
	switch name {
	case TargetBody:
		return p.body
	case TargetForm:
		return p.form
	case TargetEmail:
		return p.email
	case TargetCard:
		return p.card
	}
	return nil
}

// Run replays t and waits for the check's result. If the trace has no
// submit event the form is submitted at the time of the last event.
func Run(ctx context.Context, t *Trace, opts Options) (*Report, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	clock := &manualClock{now: epoch}
	p := buildPage(t, clock)

	results := make(chan collector.Result, 1)
	h, err := collector.Attach(collector.Config{
		Window:        p.window,
		Form:          p.form,
		EmailInput:    p.email,
		CardInput:     p.card,
		EndpointURL:   opts.EndpointURL,
		OnResult:      func(r collector.Result) { results <- r },
		Resolver:      opts.Resolver,
		Client:        opts.Client,
		SubmitTimeout: opts.SubmitTimeout,
		SigningSecret: opts.SigningSecret,
		Emit:          opts.Emit,
		Metrics:       opts.Metrics,
		Logger:        opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	defer h.Detach()

	report := &Report{}
	submitted := false
	submit := func() {
		report.Snapshot = h.Snapshot()
		report.DefaultRan = p.form.Submit()
		submitted = true
	}

	var lastAt int64
	for _, ev := range t.Events {
		clock.set(epoch.Add(time.Duration(ev.AtMs) * time.Millisecond))
		lastAt = ev.AtMs

		switch ev.Type {
		case dom.EventSubmit:
			submit()
			continue
		case dom.EventKeyDown:
			el := p.target(ev.Target)
			p.doc.Dispatch(el, dom.NewEvent(dom.EventKeyDown))
			if (el == p.email || el == p.card) && utf8.RuneCountInString(ev.Key) == 1 {
				el.SetValue(el.Value() + ev.Key)
			}
			continue
		}
		p.doc.Dispatch(p.target(ev.Target), dom.NewEvent(ev.Type))
	}
	if !submitted {
		clock.set(epoch.Add(time.Duration(lastAt) * time.Millisecond))
		submit()
	}

	select {
	case report.Result = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("replay: waiting for result: %w", ctx.Err())
	}

	// the outcome is emitted after the result; let it reach the sinks
	// before the caller closes them
	emitted := make(chan struct{})
	go func() {
		h.Wait()
		close(emitted)
	}()
	select {
	case <-emitted:
	case <-ctx.Done():
		return nil, fmt.Errorf("replay: waiting for sinks: %w", ctx.Err())
	}
	return report, nil
}
