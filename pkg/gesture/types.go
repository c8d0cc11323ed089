// Package gesture classifies captured user gestures before they are
// handed to the analytics pipeline. Each gesture waits briefly to see
// whether it triggered a screen change, is renamed or vetoed by tagging
// rules, and may be confirmed by the host application.
package gesture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Kind is the type of a captured gesture
type Kind int

const (
	Unknown Kind = iota
	Tap
	Swipe
	Scroll
	Pinch
	Pan
	Refresh
	Navigate
)

var kindNames = map[Kind]string{
	Unknown:  "unknown",
	Tap:      "tap",
	Swipe:    "swipe",
	Scroll:   "scroll",
	Pinch:    "pinch",
	Pan:      "pan",
	Refresh:  "refresh",
	Navigate: "navigate",
}

// String returns the rule-key name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a name such as "tap" to its Kind
func ParseKind(s string) (Kind, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == needle && k != Unknown {
			return k, nil
		}
	}
	return Unknown, fmt.Errorf("unknown gesture kind %q", s)
}

// IgnoreRule returns the global rule key that vetoes this kind, e.g.
// "ignoreTap". Navigate and Unknown have none.
func (k Kind) IgnoreRule() string {
	switch k {
	case Tap, Swipe, Scroll, Pinch, Pan, Refresh:
		name := k.String()
		return "ignore" + strings.ToUpper(name[:1]) + name[1:]
	default:
		return ""
	}
}

// MarshalJSON encodes the kind as its name
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// View identifies the UI element that received the gesture
type View struct {
	ClassName string `json:"className"`
	Position  int    `json:"position"`
	Text      string `json:"text,omitempty"`
}

// Screen identifies the screen the gesture happened on
type Screen struct {
	ClassName string `json:"className"`
	Title     string `json:"title,omitempty"`
}

// Delegate lets the host application inspect a gesture before it is sent.
// The host may rename it, change its action or suppress it, and must call
// MarkReady when done. Gestures whose host never calls MarkReady are sent
// after the classifier's delegate timeout.
type Delegate interface {
	GestureWasDetected(g *Gesture)
}

// DelegateFunc adapts a function literal to the Delegate interface
type DelegateFunc func(g *Gesture)

// GestureWasDetected calls the underlying function
func (f DelegateFunc) GestureWasDetected(g *Gesture) {
	f(g)
}

// Event is a captured interaction, as reported by the UI layer
type Event struct {
	Kind      Kind
	View      *View
	Screen    *Screen
	Method    string
	Direction string

	// Delegate is nil when the originating screen does not take part in
	// gesture confirmation
	Delegate Delegate
}

// Gesture is the classified record handed to dispatch. Its setters are
// safe to call from the host delegate's goroutine.
type Gesture struct {
	mu         sync.Mutex
	name       string
	action     Kind
	kind       Kind
	view       *View
	screen     *Screen
	suppressed bool

	ready     chan struct{}
	readyOnce sync.Once
}

func newGesture(ev Event) *Gesture {
	return &Gesture{
		name:   ev.Method,
		action: ev.Kind,
		kind:   ev.Kind,
		view:   ev.View,
		screen: ev.Screen,
		ready:  make(chan struct{}),
	}
}

// Name returns the gesture name
func (g *Gesture) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name
}

// SetName renames the gesture
func (g *Gesture) SetName(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
}

// Action returns Navigate or the original kind
func (g *Gesture) Action() Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.action
}

// SetAction overrides the action
func (g *Gesture) SetAction(action Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.action = action
}

// Kind returns the captured kind
func (g *Gesture) Kind() Kind {
	return g.kind
}

// View returns the originating view, or nil
func (g *Gesture) View() *View {
	return g.view
}

// Screen returns the originating screen, or nil
func (g *Gesture) Screen() *Screen {
	return g.screen
}

// Suppress vetoes dispatch. Only meaningful before the gesture is ready.
func (g *Gesture) Suppress() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suppressed = true
}

// Suppressed reports whether the host vetoed the gesture
func (g *Gesture) Suppressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed
}

// MarkReady finalizes the gesture. Extra calls are ignored.
func (g *Gesture) MarkReady() {
	g.readyOnce.Do(func() { close(g.ready) })
}

// Ready is closed once the gesture is final
func (g *Gesture) Ready() <-chan struct{} {
	return g.ready
}

// IsReady reports whether the gesture is final
func (g *Gesture) IsReady() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// RecordType implements dispatch.Record
func (g *Gesture) RecordType() string {
	return "gesture"
}

// MarshalJSON encodes the gesture for logs and the hit pipeline
func (g *Gesture) MarshalJSON() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return json.Marshal(struct {
		Name   string  `json:"name"`
		Action Kind    `json:"action"`
		Type   Kind    `json:"type"`
		View   *View   `json:"view,omitempty"`
		Screen *Screen `json:"screen,omitempty"`
	}{g.name, g.action, g.kind, g.view, g.screen})
}

// LogValue implements slog.LogValuer
func (g *Gesture) LogValue() slog.Value {
	g.mu.Lock()
	defer g.mu.Unlock()
	attrs := []slog.Attr{
		slog.String("name", g.name),
		slog.String("action", g.action.String()),
		slog.String("type", g.kind.String()),
	}
	if g.screen != nil {
		attrs = append(attrs, slog.String("screen", g.screen.ClassName))
	}
	return slog.GroupValue(attrs...)
}
