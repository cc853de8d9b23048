package eventstore

import (
	"context"

	"github.com/google/uuid"
)

// Store is the Event Store contract (C1). All four operations may fail
// with a typed error from pkg/ironerr; see the package doc for the
// taxonomy. Implementations must be safe for concurrent use.
type Store interface {
	// Append atomically verifies the optimistic-locking precondition and
	// inserts events in order, chaining each to its predecessor by
	// PreviousID and assigning fresh Offset/EventID values.
	//
	// previousIDExpected is the EventID of the most recently observed event
	// on the aggregate, or nil if the caller believes the aggregate has no
	// events yet. A mismatch returns *ironerr.ConflictError. Appending to a
	// stream whose latest event has Final=true returns
	// *ironerr.FinalizedError. events must be non-empty.
	Append(ctx context.Context, aggregateType, aggregateID string, previousIDExpected *uuid.UUID, events []NewEvent) ([]Event, error)

	// LoadStream returns all events of an aggregate in chain (offset) order.
	// Returns an empty slice if the aggregate has no events.
	LoadStream(ctx context.Context, aggregateType, aggregateID string) ([]Event, error)

	// LoadSinceOffset returns events with Offset > fromOffsetExclusive,
	// ascending by Offset, up to limit rows if limit > 0.
	LoadSinceOffset(ctx context.Context, fromOffsetExclusive int64, limit int) ([]Event, error)

	// LoadAll returns the full history in offset order. Used for cold start
	// of materialized views.
	LoadAll(ctx context.Context) ([]Event, error)
}
