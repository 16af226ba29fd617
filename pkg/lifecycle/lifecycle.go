// Package lifecycle models the client lifecycle signals a storefront session
// reacts to: history navigation, focus regained and visibility changes.
//
// A Bus delivers events to subscribers. Subscribe returns an unsubscribe
// handle; a Disposer collects handles so a component can release every
// subscription it acquired with a single call.
package lifecycle

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind identifies a lifecycle signal.
type Kind string

const (
	// Navigation is a history back/forward navigation (popstate).
	Navigation Kind = "navigation"

	// Focus is the window regaining focus.
	Focus Kind = "focus"

	// Visibility is a document visibility change, hidden or not.
	Visibility Kind = "visibility"
)

// Kinds lists every signal in subscription order.
var Kinds = []Kind{Navigation, Focus, Visibility}

// ParseKind maps wire names ("popstate", "focus", "visibilitychange") and
// Kind names to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "popstate", "navigation", "pageshow":
		return Navigation, nil
	case "focus":
		return Focus, nil
	case "visibilitychange", "visibility":
		return Visibility, nil
	default:
		return "", fmt.Errorf("unknown lifecycle event %q", s)
	}
}

// Event is one lifecycle signal.
type Event struct {
	Kind Kind
	// Hidden is only meaningful for Visibility events.
	Hidden bool
	At     time.Time
}

// Resumed reports whether the user is (back) looking at the page.
func (e Event) Resumed() bool {
	if e.Kind == Visibility {
		return !e.Hidden
	}
	return e.Kind == Navigation || e.Kind == Focus
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous event bus. Handlers run on the emitting goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]subscription)}
}

// Subscribe registers h for kind and returns its unsubscribe func.
// Unsubscribe is idempotent.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers e to every handler subscribed to e.Kind and returns how many ran.
// A zero At is stamped with the current time.
func (b *Bus) Emit(e Event) int {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Kind]))
	for _, s := range b.subs[e.Kind] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	return len(handlers)
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Disposer collects release funcs and runs each exactly once.
type Disposer struct {
	mu       sync.Mutex
	releases []func()
	disposed bool
}

// Add registers release. If the disposer was already disposed, release runs immediately.
func (d *Disposer) Add(release func()) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		release()
		return
	}
	d.releases = append(d.releases, release)
	d.mu.Unlock()
}

// Dispose runs all registered releases in reverse order. Later calls are no-ops.
func (d *Disposer) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	releases := d.releases
	d.releases = nil
	d.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}
