// Package materialized implements the Materialized View runtime (C6): it
// wires a view.View to an eventstore.Store and a bus.Bus, maintaining an
// in-memory read model that is always either fully caught up or in the
// process of catching up — readers never observe a partially applied
// event.
package materialized

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
	"github.com/ironstar-dev/ironstar/pkg/view"
)

// Decoder turns a stored event into the view's event type E. ok=false
// means "this event type is not relevant to this view"; skip it without
// error. Returning an error during warm-up aborts the fold and Run returns
// it (a malformed payload for an event type the view does care about is a
// serialization bug, not a business condition). After warm-up, an event
// whose decode fails is not applied and the view moves on to later events.
type Decoder[E any] func(eventType string, payload json.RawMessage) (e E, ok bool, err error)

// SubscriberCapacity is the default bounded-queue size for a materialized
// view's own bus subscription.
const SubscriberCapacity = 256

// View maintains one read model M in memory, kept current by folding the
// full event history at warm-up and then every event published afterward.
type View[M, E any] struct {
	store   eventstore.Store
	bus     *bus.Bus
	algebra view.View[M, E]
	decode  Decoder[E]

	mu         sync.RWMutex
	model      M
	lastOffset int64
}

// New builds a View. Call Run to warm it up and start following the bus.
func New[M, E any](store eventstore.Store, b *bus.Bus, algebra view.View[M, E], decode Decoder[E]) *View[M, E] {
	return &View[M, E]{
		store:   store,
		bus:     b,
		algebra: algebra,
		decode:  decode,
		model:   algebra.InitialReadModel,
	}
}

// Run performs the warm-up lifecycle of spec.md §4.6 and then follows the
// bus until ctx is canceled:
//  1. subscribe to the bus BEFORE querying history, so no event published
//     during warm-up is missed;
//  2. fold the full history from Store.LoadAll;
//  3. drain whatever accumulated on the subscription during step 2,
//     skipping any event whose offset is already folded;
//  4. steady state: apply every subsequent event, resyncing via
//     Store.LoadSinceOffset whenever the subscription reports lag.
//
// Run blocks until warm-up (steps 1-3) completes, then returns nil with
// the steady-state loop running in a background goroutine that exits when
// ctx is canceled. A non-nil error means warm-up itself failed and no
// background loop was started.
func (v *View[M, E]) Run(ctx context.Context) error {
	sub := v.bus.Subscribe(SubscriberCapacity)

	history, err := v.store.LoadAll(ctx)
	if err != nil {
		sub.Unsubscribe()
		return err
	}

	model := v.algebra.InitialReadModel
	var highestSeen int64
	for _, rec := range history {
		e, ok, err := v.decode(rec.EventType, rec.Payload)
		if err != nil {
			sub.Unsubscribe()
			return err
		}
		if ok {
			model = v.algebra.EvolveRead(model, e)
		}
		if rec.Offset > highestSeen {
			highestSeen = rec.Offset
		}
	}

	v.mu.Lock()
	v.model = model
	v.lastOffset = highestSeen
	v.mu.Unlock()

	v.drainBacklog(sub)

	go v.followLive(ctx, sub)
	return nil
}

// drainBacklog applies whatever accumulated on sub's queue during the
// LoadAll call, skipping events already folded into history.
func (v *View[M, E]) drainBacklog(sub *bus.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			v.applyIfNew(ev)
		default:
			return
		}
	}
}

func (v *View[M, E]) followLive(ctx context.Context, sub *bus.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			v.applyIfNew(ev)
		case _, ok := <-sub.Lagged:
			if !ok {
				return
			}
			sub.TakeLag()
			v.resync(ctx)
		}
	}
}

// resync re-queries the store from the last applied offset, used after a
// Lagged signal to recover any events dropped from the subscriber's queue.
func (v *View[M, E]) resync(ctx context.Context) {
	v.mu.RLock()
	from := v.lastOffset
	v.mu.RUnlock()

	missed, err := v.store.LoadSinceOffset(ctx, from, 0)
	if err != nil {
		return
	}
	for _, ev := range missed {
		v.applyIfNew(ev)
	}
}

func (v *View[M, E]) applyIfNew(rec eventstore.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if rec.Offset <= v.lastOffset {
		return
	}
	e, ok, err := v.decode(rec.EventType, rec.Payload)
	if err != nil {
		return
	}
	if ok {
		v.model = v.algebra.EvolveRead(v.model, e)
	}
	v.lastOffset = rec.Offset
}

// Snapshot returns a consistent copy of the current read model. Safe to
// call concurrently with the steady-state loop.
func (v *View[M, E]) Snapshot() M {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.model
}
