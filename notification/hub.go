// Package notification distributes values to a de-duplicated set of listeners.
package notification

import (
	"reflect"
	"sync"
)

// Listener receives distributed values.
type Listener[T any] interface {
	Handle(value T)
}

// ListenerFunc adapts a function to a Listener. Use Func to obtain a pointer, since
// listeners are identified by identity and functions are not comparable.
type ListenerFunc[T any] func(value T)

// Handle calls f with value.
func (f *ListenerFunc[T]) Handle(value T) {
	(*f)(value)
}

// Func wraps fn into a new listener with its own identity.
func Func[T any](fn func(T)) *ListenerFunc[T] {
	l := ListenerFunc[T](fn)
	return &l
}

// Hub invokes every subscribed listener with each distributed value.
// Listeners are called in no particular order, each exactly once per value.
// Listeners must be comparable (typically pointers).
type Hub[T any] struct {
	mu        sync.Mutex
	listeners map[Listener[T]]struct{}
}

// NewHub creates a hub without listeners.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{listeners: make(map[Listener[T]]struct{})}
}

// Subscribe adds listener. Subscribing twice has no further effect. Nil listeners and
// listeners that cannot serve as map keys (such as a struct value holding a slice) are
// ignored and reported as false.
func (h *Hub[T]) Subscribe(listener Listener[T]) bool {
	if !identifiable(listener) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[Listener[T]]struct{})
	}
	h.listeners[listener] = struct{}{}
	return true
}

// Unsubscribe removes listener; unknown listeners are ignored.
func (h *Hub[T]) Unsubscribe(listener Listener[T]) {
	if !identifiable(listener) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, listener)
}

// Distribute hands value to all listeners. The listener set cannot change while a
// distribution is in progress, so listeners must not (un)subscribe from Handle.
func (h *Hub[T]) Distribute(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for listener := range h.listeners {
		listener.Handle(value)
	}
}

// Len returns the number of subscribed listeners.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func identifiable[T any](listener Listener[T]) bool {
	return listener != nil && reflect.ValueOf(listener).Comparable()
}
