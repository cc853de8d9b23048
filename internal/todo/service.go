package todo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ironstar-dev/ironstar/pkg/aggregate"
	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
)

// Service defines the Todo use cases exposed to transports (HTTP today,
// anything else tomorrow), mirroring the corpus's service-interface-plus-
// handler layering.
type Service interface {
	Create(ctx context.Context, title string) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	agg *aggregate.Aggregate[State, Command, Event]
}

// NewService wires the Todo Decider to the given Store and Bus.
func NewService(store eventstore.Store, b *bus.Bus, maxConflictRetries int) Service {
	return &service{
		agg: aggregate.New(AggregateType, store, b, Decider(), Codec{}, maxConflictRetries),
	}
}

func (s *service) Create(ctx context.Context, title string) (uuid.UUID, error) {
	id := uuid.New()
	effect := aggregate.EffectContext[Command, Event]{
		Enrich: func(_ Command, events []Event) []Event {
			now := time.Now().UTC()
			out := make([]Event, len(events))
			for i, e := range events {
				if created, ok := e.(Created); ok {
					created.ID = id
					created.CreatedAt = now
					out[i] = created
					continue
				}
				out[i] = e
			}
			return out
		},
	}

	_, err := s.agg.Handle(ctx, id.String(), CreateCommand{Title: title}, effect)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *service) Complete(ctx context.Context, id uuid.UUID) error {
	effect := aggregate.EffectContext[Command, Event]{
		Enrich: func(_ Command, events []Event) []Event {
			now := time.Now().UTC()
			out := make([]Event, len(events))
			for i, e := range events {
				if completed, ok := e.(Completed); ok {
					completed.ID = id
					completed.CompletedAt = now
					out[i] = completed
					continue
				}
				out[i] = e
			}
			return out
		},
	}

	_, err := s.agg.Handle(ctx, id.String(), CompleteCommand{}, effect)
	return err
}
