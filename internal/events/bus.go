// Package events provides the session event envelope and an ordered in-process bus.
package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Listener handles one event. A panicking listener is recovered and logged;
// delivery to the remaining listeners continues.
type Listener func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id  uint64
	bus *Bus
}

// Close removes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s)
}

type entry struct {
	id       uint64
	listener Listener
}

// Bus delivers events synchronously and strictly in enqueue order.
//
// Producers that must order events relative to their own state changes call
// Enqueue while holding their lock and Flush after releasing it. Only one
// goroutine drains at a time; events enqueued by a listener during delivery are
// delivered after the current one by the same drainer.
type Bus struct {
	logger *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners []entry
	queue     []Event
	draining  bool
}

// NewBus creates an empty bus. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers listener for every event type.
func (b *Bus) Subscribe(listener Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners = append(b.listeners, entry{id: b.nextID, listener: listener})
	return &Subscription{id: b.nextID, bus: b}
}

// Unsubscribe removes sub; unknown or already-removed handles are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.listeners {
		if e.id == sub.id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Enqueue appends ev to the delivery queue without delivering it.
func (b *Bus) Enqueue(ev Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
}

// Flush delivers queued events in order. If another goroutine is already
// draining, Flush returns immediately and that drainer delivers the events
// before its own Flush returns. Flush never waits on another drainer, so a
// listener may flush from inside delivery.
func (b *Bus) Flush() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]

		snapshot := make([]entry, len(b.listeners))
		copy(snapshot, b.listeners)
		b.mu.Unlock()

		for _, e := range snapshot {
			b.safeInvoke(e.listener, ev)
		}

		b.mu.Lock()
	}

	b.queue = nil
	b.draining = false
	b.mu.Unlock()
}

func (b *Bus) safeInvoke(listener Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event listener panicked", "type", string(ev.Type), "panic", fmt.Sprint(r))
		}
	}()
	listener(ev)
}
