// Package events provides the in-process fan-out bus the UI layer subscribes
// to. One Bus per entity collection, typed by its event payload.
package events

import "sync"

// Bus fans a value out to all subscribers. Publish never blocks: a
// subscriber that falls behind its buffer misses events rather than stalling
// the publisher.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[chan T]struct{}
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[chan T]struct{})}
}

// Publish fans the value out to all subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// subscriber is behind; drop to avoid blocking the publisher
		}
	}
	b.mu.RUnlock()
}

// Subscribe returns a buffered channel that receives all future events.
// Callers must Unsubscribe when done or the channel leaks.
func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unsubscribing a
// channel twice panics on the double close; subscriptions are owned by
// exactly one caller.
func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
