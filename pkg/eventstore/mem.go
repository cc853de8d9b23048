package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironstar-dev/ironstar/pkg/ironerr"
)

// MemStore is an in-memory Store, concurrency-safe, used by unit and
// property tests so they don't need a live Postgres. Not for production:
// history is lost on restart.
type MemStore struct {
	mu      sync.RWMutex
	global  []Event
	streams map[string][]Event
}

// NewMemStore creates an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		streams: make(map[string][]Event),
	}
}

func streamKey(aggregateType, aggregateID string) string {
	return aggregateType + "\x00" + aggregateID
}

// Append mirrors PostgresStore.Append's semantics under a single mutex.
func (s *MemStore) Append(_ context.Context, aggregateType, aggregateID string, previousIDExpected *uuid.UUID, events []NewEvent) ([]Event, error) {
	if len(events) == 0 {
		return nil, ironerr.NewDecisionRejected("append requires a non-empty event list")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(aggregateType, aggregateID)
	stream := s.streams[key]

	var chainTip *uuid.UUID
	if len(stream) > 0 {
		tip := stream[len(stream)-1]
		if tip.Final {
			return nil, &ironerr.FinalizedError{AggregateType: aggregateType, AggregateID: aggregateID}
		}
		if previousIDExpected == nil || tip.EventID != *previousIDExpected {
			return nil, &ironerr.ConflictError{
				AggregateType: aggregateType,
				AggregateID:   aggregateID,
				ExpectedID:    uuidOrNil(previousIDExpected),
				ActualID:      tip.EventID.String(),
			}
		}
		id := tip.EventID
		chainTip = &id
	} else if previousIDExpected != nil {
		return nil, &ironerr.ConflictError{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			ExpectedID:    previousIDExpected.String(),
		}
	}

	now := time.Now().UTC()
	persisted := make([]Event, 0, len(events))
	for _, ev := range events {
		newID := uuid.New()
		rec := Event{
			Offset:        int64(len(s.global)) + 1,
			EventID:       newID,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			PreviousID:    chainTip,
			EventType:     ev.EventType,
			SchemaVersion: ev.SchemaVersion,
			Payload:       ev.Payload,
			CommandID:     ev.CommandID,
			Metadata:      ev.Metadata,
			Final:         ev.Final,
			CreatedAt:     now,
		}
		s.global = append(s.global, rec)
		stream = append(stream, rec)
		chainTip = &newID
		persisted = append(persisted, rec)
	}
	s.streams[key] = stream

	return persisted, nil
}

// LoadStream returns a copy of the aggregate's events in chain order.
func (s *MemStore) LoadStream(_ context.Context, aggregateType, aggregateID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamKey(aggregateType, aggregateID)]
	out := make([]Event, len(stream))
	copy(out, stream)
	return out, nil
}

// LoadSinceOffset returns a copy of events after fromOffsetExclusive.
func (s *MemStore) LoadSinceOffset(_ context.Context, fromOffsetExclusive int64, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.global {
		if e.Offset > fromOffsetExclusive {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// LoadAll returns a copy of the full history in offset order.
func (s *MemStore) LoadAll(ctx context.Context) ([]Event, error) {
	return s.LoadSinceOffset(ctx, 0, 0)
}

var _ Store = (*MemStore)(nil)
