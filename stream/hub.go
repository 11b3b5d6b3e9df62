// Package stream provides the observable state streams the core exposes to
// the presentation layer. A Hub fans values out to any number of subscribers
// without ever blocking the publisher: a slow subscriber loses its oldest
// buffered value, never stalls a state machine.
package stream

import "sync"

const defaultBuffer = 16

type Hub[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
	last T
	seen bool
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[chan T]struct{})}
}

// Subscribe returns a channel that receives every subsequent publish, primed
// with the most recent value so late subscribers see current state.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, defaultBuffer)
	h.mu.Lock()
	if h.seen {
		ch <- h.last
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers v to all subscribers. Full subscriber buffers drop their
// oldest value to make room.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = v
	h.seen = true
	for ch := range h.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Last returns the most recent published value, if any.
func (h *Hub[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.seen
}

// Close terminates all subscriptions.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
