package playback

import (
	"maps"
	"slices"
	"sync"
)

// GestureKind is a user interaction that satisfies autoplay policy
type GestureKind string

const (
	GestureClick      GestureKind = "click"
	GestureKeyDown    GestureKind = "keydown"
	GestureTouchStart GestureKind = "touchstart"
)

// ResumeGestures are the interactions a blocked playback waits for
var ResumeGestures = []GestureKind{GestureClick, GestureKeyDown, GestureTouchStart}

type gestureListener struct {
	kinds []GestureKind
	fn    func(GestureKind)
}

// GestureBus delivers user interactions to subscribed listeners. Listeners
// run in subscription order, outside the bus lock, so a listener may
// unsubscribe itself.
type GestureBus struct {
	listeners map[uint64]gestureListener
	nextID    uint64
	mu        sync.Mutex
}

// NewGestureBus creates an empty bus
func NewGestureBus() *GestureBus {
	return &GestureBus{listeners: make(map[uint64]gestureListener)}
}

// Subscribe registers fn for the given kinds and returns a function that
// removes it. The returned function is safe to call more than once.
func (b *GestureBus) Subscribe(kinds []GestureKind, fn func(GestureKind)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = gestureListener{kinds: slices.Clone(kinds), fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Dispatch delivers one interaction and returns the number of listeners called
func (b *GestureBus) Dispatch(kind GestureKind) int {
	b.mu.Lock()
	ids := slices.Sorted(maps.Keys(b.listeners))
	var targets []uint64
	for _, id := range ids {
		if slices.Contains(b.listeners[id].kinds, kind) {
			targets = append(targets, id)
		}
	}
	b.mu.Unlock()

	called := 0
	for _, id := range targets {
		// A previous listener may have removed this one
		b.mu.Lock()
		l, ok := b.listeners[id]
		b.mu.Unlock()
		if !ok {
			continue
		}
		l.fn(kind)
		called++
	}
	return called
}

// Listeners returns the number of listeners subscribed to kind
func (b *GestureBus) Listeners(kind GestureKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, l := range b.listeners {
		if slices.Contains(l.kinds, kind) {
			n++
		}
	}
	return n
}
