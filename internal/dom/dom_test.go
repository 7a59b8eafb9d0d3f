package dom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutPage() (*Document, *Element, *Element, *Element) {
	doc := NewDocument()
	body := doc.AppendChild(NewElement("body", "", ""))
	form := body.AppendChild(NewElement("form", "checkout", ""))
	email := form.AppendChild(NewElement("input", "email", "email"))
	card := form.AppendChild(NewElement("input", "card", "cardnumber"))
	return doc, form, email, card
}

func TestQuerySelector(t *testing.T) {
	doc, form, email, card := checkoutPage()

	tests := []struct {
		sel  string
		want *Element
	}{
		{"#checkout", form},
		{"form", form},
		{"form#checkout", form},
		{"input", email},
		{"#card", card},
		{"[name=cardnumber]", card},
		{`input[name="email"]`, email},
		{"#missing", nil},
		{"", nil},
		{"form > input", nil},
		{"[id=checkout]", nil},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			assert.Same(t, tt.want, doc.QuerySelector(tt.sel))
		})
	}
}

func TestRefResolve(t *testing.T) {
	doc, form, _, _ := checkoutPage()

	assert.Same(t, form, Selector("#checkout").Resolve(doc))
	assert.Same(t, form, form.Resolve(doc))
	assert.Nil(t, Selector("#checkout").Resolve(nil))

	var nilEl *Element
	assert.Nil(t, nilEl.Resolve(doc))

	other := NewDocument()
	assert.Nil(t, form.Resolve(other))

	detached := NewElement("form", "x", "")
	assert.Nil(t, detached.Resolve(doc))
}

func TestRemovedElementIsDisconnected(t *testing.T) {
	doc := NewDocument()
	form := doc.AppendChild(NewElement("form", "f", ""))
	input := form.AppendChild(NewElement("input", "i", ""))
	require.True(t, input.Connected())

	doc.RemoveChild(form)
	assert.False(t, form.Connected())
	assert.False(t, input.Connected())
	assert.Nil(t, doc.QuerySelector("#i"))
}

func TestDispatchOrder(t *testing.T) {
	doc, form, email, _ := checkoutPage()
	var order []string
	rec := func(name string) func(*Event) { return func(*Event) { order = append(order, name) } }

	doc.AddEventListener(EventKeyDown, rec("doc-bubble"), ListenerOptions{})
	doc.AddEventListener(EventKeyDown, rec("doc-capture"), ListenerOptions{Capture: true})
	form.AddEventListener(EventKeyDown, rec("form-bubble"), ListenerOptions{})
	form.AddEventListener(EventKeyDown, rec("form-capture"), ListenerOptions{Capture: true})
	email.AddEventListener(EventKeyDown, rec("target-bubble"), ListenerOptions{})
	email.AddEventListener(EventKeyDown, rec("target-capture"), ListenerOptions{Capture: true})

	doc.Dispatch(email, NewEvent(EventKeyDown))

	assert.Equal(t, []string{
		"doc-capture", "form-capture",
		"target-capture", "target-bubble",
		"form-bubble", "doc-bubble",
	}, order)
}

func TestStopPropagation(t *testing.T) {
	doc, form, email, _ := checkoutPage()
	reached := false
	form.AddEventListener(EventClick, func(ev *Event) { ev.StopPropagation() }, ListenerOptions{Capture: true})
	email.AddEventListener(EventClick, func(*Event) { reached = true }, ListenerOptions{})

	doc.Dispatch(email, NewEvent(EventClick))
	assert.False(t, reached)
}

func TestOnceListener(t *testing.T) {
	doc := NewDocument()
	calls := 0
	l := doc.AddEventListener(EventClick, func(*Event) { calls++ }, ListenerOptions{Capture: true, Once: true})

	doc.Dispatch(nil, NewEvent(EventClick))
	doc.Dispatch(nil, NewEvent(EventClick))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, doc.ListenerCount(EventClick))

	// removing a listener that already fired is harmless
	doc.RemoveEventListener(l)
	doc.RemoveEventListener(l)
	doc.RemoveEventListener(nil)
}

func TestRemoveForeignListenerIsNoop(t *testing.T) {
	doc, form, _, _ := checkoutPage()
	l := doc.AddEventListener(EventClick, func(*Event) {}, ListenerOptions{})
	form.RemoveEventListener(l)
	assert.Equal(t, 1, doc.ListenerCount(EventClick))
}

func TestListenerMayRemoveItself(t *testing.T) {
	doc := NewDocument()
	calls := 0
	var l *Listener
	l = doc.AddEventListener(EventPointerMove, func(*Event) {
		calls++
		doc.RemoveEventListener(l)
	}, ListenerOptions{})

	doc.Dispatch(nil, NewEvent(EventPointerMove))
	doc.Dispatch(nil, NewEvent(EventPointerMove))
	assert.Equal(t, 1, calls)
}

func TestPassiveListenerCannotPreventDefault(t *testing.T) {
	_, form, _, _ := checkoutPage()
	form.AddEventListener(EventSubmit, func(ev *Event) { ev.PreventDefault() }, ListenerOptions{Passive: true})
	ran := false
	form.SetDefaultAction(func() { ran = true })

	assert.True(t, form.Submit())
	assert.True(t, ran)
}

func TestSubmitDefaultAction(t *testing.T) {
	t.Run("runs when not prevented", func(t *testing.T) {
		_, form, _, _ := checkoutPage()
		ran := false
		form.SetDefaultAction(func() { ran = true })
		assert.True(t, form.Submit())
		assert.True(t, ran)
	})

	t.Run("skipped when prevented", func(t *testing.T) {
		_, form, _, _ := checkoutPage()
		ran := false
		form.SetDefaultAction(func() { ran = true })
		form.AddEventListener(EventSubmit, func(ev *Event) { ev.PreventDefault() }, ListenerOptions{})
		assert.False(t, form.Submit())
		assert.False(t, ran)
	})

	t.Run("detached form does nothing", func(t *testing.T) {
		form := NewElement("form", "f", "")
		assert.False(t, form.Submit())
	})
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	doc := NewDocument()
	second := false
	doc.AddEventListener(EventClick, func(*Event) { panic("boom") }, ListenerOptions{})
	doc.AddEventListener(EventClick, func(*Event) { second = true }, ListenerOptions{})

	doc.Dispatch(nil, NewEvent(EventClick))
	assert.True(t, second)
}

func TestDispatchStampsClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := NewDocument(WithClock(func() time.Time { return at }))

	var got time.Time
	doc.AddEventListener(EventClick, func(ev *Event) { got = ev.TimeStamp }, ListenerOptions{})
	doc.Dispatch(nil, NewEvent(EventClick))
	assert.Equal(t, at, got)

	explicit := NewEvent(EventClick)
	explicit.TimeStamp = at.Add(time.Second)
	doc.Dispatch(nil, explicit)
	assert.Equal(t, at.Add(time.Second), got)
}

func TestHostWindow(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "de_DE.UTF-8")

	w := HostWindow(NewDocument())
	assert.Contains(t, w.Navigator.UserAgent, Product)
	assert.NotEmpty(t, w.Navigator.Platform)
	assert.Equal(t, "de-DE", w.Navigator.Language)
	assert.Nil(t, w.Screen)
	assert.NotNil(t, w.TimeZone)
}

func TestPOSIXToBCP47(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"en_US.UTF-8", "en-US"},
		{"de_DE@euro", "de-DE"},
		{"pt_BR", "pt-BR"},
		{"fr", "fr"},
		{"C.UTF-8", ""},
		{"not a locale!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, posixToBCP47(tt.in), "in %q", tt.in)
	}
}
