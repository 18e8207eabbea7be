package engine

import (
	"sync"

	"github.com/seantiz/enginehost/internal/model"
)

// subscriberBufferSize is the channel buffer for each transition subscriber.
// Transitions are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// EventBroker fans lifecycle transitions out to subscribers. It is safe for
// concurrent use.
//
// Once closed (at Shutdown) the broker stays closed, so late subscribers
// receive a closed channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	subs   map[int]chan model.Transition
	nextID int
	closed bool
}

// NewEventBroker creates an open broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		subs: make(map[int]chan model.Transition),
	}
}

// Subscribe returns a channel of transitions and an unsubscribe function.
func (b *EventBroker) Subscribe() (<-chan model.Transition, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Transition, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Publish sends t to every subscriber without blocking.
func (b *EventBroker) Publish(t model.Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- t:
		default:
			// Drop for slow subscribers; lifecycle code must not block here.
		}
	}
}

// Close closes all subscriber channels. Later calls are no-ops.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
