// Package bus implements the in-process event bus. Publishers fan
// events out to subscribers over bounded buffers; slow subscribers
// lose oldest events and can inspect a drop counter to resynchronize.
package bus

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber buffer capacity.
const DefaultBufferSize = 256

// Bus is a topic-typed publish/subscribe hub. The zero value is not
// usable; create one with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription is one subscriber's bounded event buffer.
type Subscription struct {
	bus    *Bus
	mu     sync.Mutex
	ch     chan Event
	topics map[string]struct{}
	drops  atomic.Uint64
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber. topics filters delivery; empty
// means all topics. buffer <= 0 selects DefaultBufferSize.
func (b *Bus) Subscribe(buffer int, topics ...string) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, buffer),
	}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every matching subscriber. It never blocks:
// when a subscriber's buffer is full the oldest buffered event is
// dropped and the subscriber's drop counter incremented.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		sub.deliver(ev)
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
		delete(b.subs, sub)
	}
}

// Events returns the receive channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber has lost.
func (s *Subscription) Dropped() uint64 {
	return s.drops.Load()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) deliver(ev Event) {
	if s.topics != nil {
		if _, ok := s.topics[ev.EventType()]; !ok {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Buffer full: evict the oldest event, then retry. The mutex
		// keeps eviction and insert atomic per subscriber, preserving
		// per-topic order.
		select {
		case <-s.ch:
			s.drops.Add(1)
		default:
		}
	}
}
