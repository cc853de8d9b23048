// Package bus implements the in-process Event Bus (C4): non-blocking
// fan-out of appended events to bounded per-subscriber queues, with a
// Lagged signal when a slow subscriber falls behind instead of blocking the
// publisher or silently losing track of the gap.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/ironstar-dev/ironstar/pkg/eventstore"
)

// Bus fans out events published by the Event-Sourced Aggregate wrapper to
// any number of live subscribers. A single Bus instance is shared process-
// wide; subscribers come and go freely.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscription is a subscriber's handle: a bounded queue of events plus a
// side channel signaling that the queue overflowed. Exactly one goroutine
// should range over Events and, on every receive from Lagged, call
// TakeLag and resync (typically by re-querying
// pkg/eventstore.Store.LoadSinceOffset from the last offset it applied).
type Subscription struct {
	Events <-chan eventstore.Event
	Lagged <-chan struct{}

	events chan eventstore.Event
	lagged chan struct{}
	dropped atomic.Int64
	bus     *Bus

	mu     sync.Mutex
	closed bool
}

// Subscribe returns a Subscription whose queue holds up to capacity events
// before it starts dropping and reporting via Lagged. capacity must be > 0.
func (b *Bus) Subscribe(capacity int) *Subscription {
	if capacity <= 0 {
		capacity = 1
	}
	events := make(chan eventstore.Event, capacity)
	lagged := make(chan struct{}, 1)
	sub := &Subscription{
		Events: events,
		Lagged: lagged,
		events: events,
		lagged: lagged,
		bus:    b,
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// TakeLag returns the number of events dropped since the last call to
// TakeLag and resets the counter to zero.
func (s *Subscription) TakeLag() int {
	return int(s.dropped.Swap(0))
}

// Unsubscribe removes the subscription from the bus and closes its
// channels. Safe to call more than once and safe to call concurrently with
// Publish.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subscribers, s)
	s.bus.mu.Unlock()

	close(s.events)
	close(s.lagged)
}

// Publish delivers ev to every live subscriber, in the order Publish is
// called. Never blocks: a subscriber whose queue is full is skipped for
// this event and its drop counter is bumped instead of stalling every
// other subscriber.
func (b *Bus) Publish(ev eventstore.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.events <- ev:
		default:
			sub.dropped.Add(1)
			select {
			case sub.lagged <- struct{}{}:
			default:
				// A lag notification is already pending; TakeLag will pick
				// up the accumulated count once the subscriber drains it.
			}
		}
	}
}
