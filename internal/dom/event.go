package dom

import (
	"log/slog"
	"sync"
	"time"
)

// Event types the collector cares about.
const (
	EventPointerMove = "mousemove"
	EventClick       = "click"
	EventKeyDown     = "keydown"
	EventSubmit      = "submit"
)

// Event is a dispatched DOM event.
type Event struct {
	Type      string
	TimeStamp time.Time
	Key       string

	target    *Element
	passive   bool
	prevented bool
	stopped   bool
	mu        sync.Mutex
}

// NewEvent creates an event of the given type. A zero TimeStamp is
// stamped from the document clock at dispatch.
func NewEvent(typ string) *Event { return &Event{Type: typ} }

// Target returns the element the event was dispatched to, nil for
// document-level dispatches.
func (ev *Event) Target() *Element { return ev.target }

// PreventDefault cancels the default action. Ignored inside passive
// listeners.
func (ev *Event) PreventDefault() {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.passive {
		return
	}
	ev.prevented = true
}

// DefaultPrevented reports whether a listener cancelled the default action.
func (ev *Event) DefaultPrevented() bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.prevented
}

// StopPropagation stops delivery to nodes after the current one.
func (ev *Event) StopPropagation() {
	ev.mu.Lock()
	ev.stopped = true
	ev.mu.Unlock()
}

func (ev *Event) isStopped() bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.stopped
}

func (ev *Event) setPassive(p bool) {
	ev.mu.Lock()
	ev.passive = p
	ev.mu.Unlock()
}

// ListenerOptions mirror addEventListener options.
type ListenerOptions struct {
	Capture bool
	Once    bool
	Passive bool
}

// Listener is the registration token returned by AddEventListener.
type Listener struct {
	typ     string
	fn      func(*Event)
	opts    ListenerOptions
	owner   *target
	removed bool
}

type target struct {
	lmu       sync.Mutex
	listeners []*Listener
}

// AddEventListener registers fn for events of typ and returns a token for
// RemoveEventListener.
func (t *target) AddEventListener(typ string, fn func(*Event), opts ListenerOptions) *Listener {
	l := &Listener{typ: typ, fn: fn, opts: opts, owner: t}
	t.lmu.Lock()
	t.listeners = append(t.listeners, l)
	t.lmu.Unlock()
	return l
}

// RemoveEventListener unregisters l. Removing an unknown, foreign or
// already-removed listener is a no-op.
func (t *target) RemoveEventListener(l *Listener) {
	if l == nil || l.owner != t {
		return
	}
	t.lmu.Lock()
	defer t.lmu.Unlock()
	t.removeLocked(l)
}

func (t *target) removeLocked(l *Listener) bool {
	if l.removed {
		return false
	}
	for i, x := range t.listeners {
		if x == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			break
		}
	}
	l.removed = true
	return true
}

// ListenerCount returns how many listeners of typ are registered.
func (t *target) ListenerCount(typ string) int {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	n := 0
	for _, l := range t.listeners {
		if l.typ == typ {
			n++
		}
	}
	return n
}

type phase int

const (
	phaseCapture phase = iota
	phaseTarget
	phaseBubble
)

func (t *target) fire(ev *Event, p phase) {
	t.lmu.Lock()
	snapshot := make([]*Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		if l.typ != ev.Type {
			continue
		}
		if p == phaseCapture && !l.opts.Capture {
			continue
		}
		if p == phaseBubble && l.opts.Capture {
			continue
		}
		snapshot = append(snapshot, l)
	}
	t.lmu.Unlock()

	for _, l := range snapshot {
		t.lmu.Lock()
		if l.removed {
			t.lmu.Unlock()
			continue
		}
		if l.opts.Once {
			t.removeLocked(l)
		}
		t.lmu.Unlock()
		invoke(l, ev)
	}
}

// invoke runs one listener. A panicking listener is reported and does not
// stop delivery to the others.
func invoke(l *Listener, ev *Event) {
	defer func() {
		ev.setPassive(false)
		if r := recover(); r != nil {
			slog.Warn("dom: listener panicked", "type", ev.Type, "panic", r)
		}
	}()
	ev.setPassive(l.opts.Passive)
	l.fn(ev)
}

// Dispatch delivers ev to el, or to the document itself when el is nil.
// Capture listeners run from the document down, then listeners on the
// target, then bubble listeners back up. It returns false if a listener
// called PreventDefault.
func (d *Document) Dispatch(el *Element, ev *Event) bool {
	if ev.TimeStamp.IsZero() {
		ev.TimeStamp = d.Now()
	}
	ev.target = el

	if el == nil {
		d.target.fire(ev, phaseCapture)
		if !ev.isStopped() {
			d.target.fire(ev, phaseBubble)
		}
		return !ev.DefaultPrevented()
	}
	if el.Document() != d {
		return true
	}

	var ancestors []*target
	for p := el.Parent(); p != nil; p = p.Parent() {
		ancestors = append(ancestors, &p.target)
	}

	path := make([]*target, 0, len(ancestors)+1)
	path = append(path, &d.target)
	for i := len(ancestors) - 1; i >= 0; i-- {
		path = append(path, ancestors[i])
	}

	for _, n := range path {
		if ev.isStopped() {
			return !ev.DefaultPrevented()
		}
		n.fire(ev, phaseCapture)
	}
	if !ev.isStopped() {
		el.target.fire(ev, phaseCapture)
		el.target.fire(ev, phaseBubble)
	}
	for i := len(path) - 1; i >= 0; i-- {
		if ev.isStopped() {
			break
		}
		path[i].fire(ev, phaseBubble)
	}
	return !ev.DefaultPrevented()
}

// SetDefaultAction sets what a successful Submit does after dispatch,
// e.g. navigation.
func (e *Element) SetDefaultAction(fn func()) {
	e.mu.Lock()
	e.defaultAction = fn
	e.mu.Unlock()
}

// Submit dispatches a submit event at a connected form and then runs its
// default action unless a listener prevented it. It reports whether the
// default action ran.
func (e *Element) Submit() bool {
	d := e.Document()
	if d == nil {
		return false
	}
	if !d.Dispatch(e, NewEvent(EventSubmit)) {
		return false
	}
	e.mu.RLock()
	fn := e.defaultAction
	e.mu.RUnlock()
	if fn != nil {
		fn()
	}
	return true
}
