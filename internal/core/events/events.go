// Package events fans job lifecycle notifications out to the observers that
// subscribed at startup (logging, metrics, live publishers).
package events

import (
	"sync"

	"github.com/vietddude/txclassifier/internal/core/domain"
)

// Observer receives lifecycle events. Observe is called synchronously, in
// emission order, and must not block for long.
type Observer interface {
	Observe(event domain.Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event domain.Event)

func (f ObserverFunc) Observe(event domain.Event) { f(event) }

// Hub is an Observer that forwards every event to its subscribers.
type Hub struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewHub creates a hub with the given initial subscribers.
func NewHub(observers ...Observer) *Hub {
	h := &Hub{}
	for _, o := range observers {
		h.Subscribe(o)
	}
	return h
}

// Subscribe registers an observer. Nil observers are ignored.
func (h *Hub) Subscribe(o Observer) {
	if o == nil {
		return
	}
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Observe forwards the event to every subscriber in registration order.
func (h *Hub) Observe(event domain.Event) {
	h.mu.RLock()
	observers := h.observers
	h.mu.RUnlock()

	for _, o := range observers {
		o.Observe(event)
	}
}

// Nop discards events.
var Nop Observer = ObserverFunc(func(domain.Event) {})
