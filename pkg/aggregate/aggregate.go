// Package aggregate implements the Event-Sourced Aggregate wrapper (C5): it
// wires an eventstore.Store, a decider.Decider, and a bus.Bus together into
// a single load-decide-append-publish operation with bounded conflict
// retry. decider.Decider itself stays pure: clocks and id generators are
// reached through the EffectContext a caller passes to Handle, and the
// store assigns event ids and timestamps at append.
package aggregate

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/decider"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
	"github.com/ironstar-dev/ironstar/pkg/ironerr"
)

// DefaultMaxConflictRetries matches spec.md §4.5's default retry bound.
const DefaultMaxConflictRetries = 3

// Codec translates between an aggregate's typed event E and the store's
// opaque (event_type, payload) pair. Deciders operate on E; the store only
// ever sees bytes.
type Codec[E any] interface {
	// EventType returns the wire tag for e, used to pick the right decoder
	// on the way back in and as the NewEvent.EventType on the way out.
	EventType(e E) string

	// Encode marshals e to its wire payload.
	Encode(e E) (json.RawMessage, error)

	// Decode unmarshals payload for the given event type back into E.
	Decode(eventType string, payload json.RawMessage) (E, error)
}

// EffectContext supplies the non-determinism decider.Decider.Decide itself
// must not: the current time, a fresh correlation id, and anything else the
// caller's command needs stamped onto the events it produces. This is the
// "hole" filling mechanism of spec.md §4.5: decide returns bare events, and
// Handle decorates them with boundary data before they reach the store.
type EffectContext[C, E any] struct {
	// Enrich runs once per command, immediately before the decided events
	// are encoded for append. It MAY attach ids/timestamps by returning a
	// transformed event list; the default (nil) is the identity function.
	Enrich func(cmd C, events []E) []E

	// CommandID, when set, is recorded as causation metadata on every
	// persisted event for this command.
	CommandID *uuid.UUID

	// Metadata, when set, is attached verbatim to every persisted event.
	Metadata json.RawMessage
}

// Aggregate wires one Decider to the Store and Bus for a single aggregate
// type (e.g. "Todo").
type Aggregate[S, C, E any] struct {
	aggregateType string
	store         eventstore.Store
	bus           *bus.Bus
	decider       decider.Decider[S, C, E]
	codec         Codec[E]
	maxRetries    int
}

// New builds an Aggregate. maxRetries <= 0 uses DefaultMaxConflictRetries.
func New[S, C, E any](aggregateType string, store eventstore.Store, b *bus.Bus, d decider.Decider[S, C, E], codec Codec[E], maxRetries int) *Aggregate[S, C, E] {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxConflictRetries
	}
	return &Aggregate[S, C, E]{
		aggregateType: aggregateType,
		store:         store,
		bus:           b,
		decider:       d,
		codec:         codec,
		maxRetries:    maxRetries,
	}
}

// Handle runs the load-decide-append-publish loop of spec.md §4.5 for one
// command against aggregateID. Returns the persisted events (zero-length
// when the decider accepted the command with no effect).
func (a *Aggregate[S, C, E]) Handle(ctx context.Context, aggregateID string, cmd C, effect EffectContext[C, E]) ([]eventstore.Event, error) {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stored, err := a.store.LoadStream(ctx, a.aggregateType, aggregateID)
		if err != nil {
			return nil, err
		}

		state := a.decider.InitialState
		var chainTip *uuid.UUID
		for _, rec := range stored {
			ev, err := a.codec.Decode(rec.EventType, rec.Payload)
			if err != nil {
				return nil, ironerr.NewSerialization("decode "+rec.EventType, err)
			}
			state = a.decider.Evolve(state, ev)
			id := rec.EventID
			chainTip = &id
		}

		decided, err := a.decider.Decide(state, cmd)
		if err != nil {
			return nil, err
		}
		if len(decided) == 0 {
			return nil, nil
		}

		if effect.Enrich != nil {
			decided = effect.Enrich(cmd, decided)
		}

		newEvents := make([]eventstore.NewEvent, 0, len(decided))
		for _, ev := range decided {
			payload, err := a.codec.Encode(ev)
			if err != nil {
				return nil, ironerr.NewSerialization("encode "+a.codec.EventType(ev), err)
			}
			newEvents = append(newEvents, eventstore.NewEvent{
				EventType:     a.codec.EventType(ev),
				SchemaVersion: 1,
				Payload:       payload,
				CommandID:     effect.CommandID,
				Metadata:      effect.Metadata,
			})
		}

		persisted, err := a.store.Append(ctx, a.aggregateType, aggregateID, chainTip, newEvents)
		if err != nil {
			if _, ok := err.(*ironerr.ConflictError); ok {
				lastErr = err
				continue
			}
			return nil, err
		}

		if ctx.Err() != nil {
			// The change is already durable; publication may be re-derived
			// by any future replay, so it's safe to stop here.
			return persisted, ctx.Err()
		}

		for _, rec := range persisted {
			a.bus.Publish(rec)
		}
		return persisted, nil
	}
	return nil, lastErr
}
