// Package dom is a small in-process page model: a document tree of
// elements, DOM-style event listeners with capture/once/passive options,
// and form submission with a default action. It is the host surface the
// signal collector instruments.
package dom

import (
	"strings"
	"sync"
	"time"
)

// Document is the root of a page. It owns the clock used to stamp events.
type Document struct {
	target

	mu       sync.RWMutex
	children []*Element
	now      func() time.Time
}

// Option configures a Document.
type Option func(*Document)

// WithClock replaces time.Now as the document clock.
func WithClock(now func() time.Time) Option {
	return func(d *Document) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDocument creates an empty document.
func NewDocument(opts ...Option) *Document {
	d := &Document{now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Now returns the document clock's current time.
func (d *Document) Now() time.Time { return d.now() }

// AppendChild attaches el (and its subtree) to the document root.
func (d *Document) AppendChild(el *Element) *Element {
	el.detachFromParent()
	d.mu.Lock()
	d.children = append(d.children, el)
	d.mu.Unlock()
	el.setDocument(d)
	return el
}

// RemoveChild detaches a top-level element. Listeners stay registered on
// the element but it no longer receives dispatches through the document.
func (d *Document) RemoveChild(el *Element) {
	d.mu.Lock()
	for i, c := range d.children {
		if c == el {
			d.children = append(d.children[:i], d.children[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	el.setDocument(nil)
}

// Element is a node in the document tree.
type Element struct {
	target

	Tag  string
	ID   string
	Name string

	mu            sync.RWMutex
	value         string
	parent        *Element
	children      []*Element
	doc           *Document
	defaultAction func()
}

// NewElement creates a detached element.
func NewElement(tag, id, name string) *Element {
	return &Element{Tag: strings.ToLower(tag), ID: id, Name: name}
}

// AppendChild attaches child under e.
func (e *Element) AppendChild(child *Element) *Element {
	child.detachFromParent()
	e.mu.Lock()
	e.children = append(e.children, child)
	doc := e.doc
	e.mu.Unlock()
	child.mu.Lock()
	child.parent = e
	child.mu.Unlock()
	child.setDocument(doc)
	return child
}

func (e *Element) detachFromParent() {
	e.mu.Lock()
	p := e.parent
	e.parent = nil
	e.mu.Unlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	for i, c := range p.children {
		if c == e {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

func (e *Element) setDocument(d *Document) {
	e.mu.Lock()
	e.doc = d
	kids := append([]*Element(nil), e.children...)
	e.mu.Unlock()
	for _, c := range kids {
		c.setDocument(d)
	}
}

// Document returns the document e is connected to, or nil.
func (e *Element) Document() *Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

// Connected reports whether e is attached to a document.
func (e *Element) Connected() bool { return e.Document() != nil }

// Parent returns the parent element, nil for top-level elements.
func (e *Element) Parent() *Element {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parent
}

// Value returns the current form-control value.
func (e *Element) Value() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value
}

// SetValue replaces the form-control value.
func (e *Element) SetValue(v string) {
	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
}

// Resolve implements Ref: an element resolves to itself while it is
// connected to d.
func (e *Element) Resolve(d *Document) *Element {
	if e == nil || d == nil || e.Document() != d {
		return nil
	}
	return e
}

// Ref is anything that can be resolved to a live element of a document:
// an *Element or a Selector.
type Ref interface {
	Resolve(d *Document) *Element
}

// Selector is a CSS-like selector string. Supported forms: "#id", "tag",
// "tag#id", "[name=x]" and "tag[name=x]".
type Selector string

// Resolve implements Ref.
func (s Selector) Resolve(d *Document) *Element {
	if d == nil {
		return nil
	}
	return d.QuerySelector(string(s))
}

// QuerySelector returns the first element in document order matching sel,
// or nil.
func (d *Document) QuerySelector(sel string) *Element {
	m, ok := parseSelector(sel)
	if !ok {
		return nil
	}
	d.mu.RLock()
	roots := append([]*Element(nil), d.children...)
	d.mu.RUnlock()
	for _, r := range roots {
		if el := r.find(m); el != nil {
			return el
		}
	}
	return nil
}

func (e *Element) find(m matcher) *Element {
	if m.match(e) {
		return e
	}
	e.mu.RLock()
	kids := append([]*Element(nil), e.children...)
	e.mu.RUnlock()
	for _, c := range kids {
		if el := c.find(m); el != nil {
			return el
		}
	}
	return nil
}

type matcher struct {
	tag, id, name string
}

func (m matcher) match(e *Element) bool {
	if m.tag != "" && m.tag != e.Tag {
		return false
	}
	if m.id != "" && m.id != e.ID {
		return false
	}
	if m.name != "" && m.name != e.Name {
		return false
	}
	return true
}

func parseSelector(sel string) (matcher, bool) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return matcher{}, false
	}
	var m matcher
	if i := strings.IndexByte(sel, '['); i >= 0 {
		if !strings.HasSuffix(sel, "]") {
			return matcher{}, false
		}
		attr := sel[i+1 : len(sel)-1]
		key, val, ok := strings.Cut(attr, "=")
		if !ok || strings.TrimSpace(key) != "name" {
			return matcher{}, false
		}
		m.name = strings.Trim(strings.TrimSpace(val), `"'`)
		if m.name == "" {
			return matcher{}, false
		}
		sel = sel[:i]
	}
	if i := strings.IndexByte(sel, '#'); i >= 0 {
		m.id = sel[i+1:]
		if m.id == "" {
			return matcher{}, false
		}
		sel = sel[:i]
	}
	m.tag = strings.ToLower(sel)
	if strings.ContainsAny(m.tag, " .>:,") {
		return matcher{}, false
	}
	return m, true
}
