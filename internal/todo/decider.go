package todo

import (
	"fmt"

	"github.com/ironstar-dev/ironstar/pkg/decider"
	"github.com/ironstar-dev/ironstar/pkg/ironerr"
)

// AggregateType is the discriminator stored in eventstore.Event.AggregateType
// for every Todo.
const AggregateType = "Todo"

// Decider builds the pure (decide, evolve, initial_state) triple for Todo.
func Decider() decider.Decider[State, Command, Event] {
	return decider.Decider[State, Command, Event]{
		InitialState: State{},
		Decide:       decide,
		Evolve:       evolve,
	}
}

func decide(state State, cmd Command) ([]Event, error) {
	switch c := cmd.(type) {
	case CreateCommand:
		if state.Exists {
			return nil, ironerr.NewDecisionRejected("todo already exists")
		}
		if c.Title == "" {
			return nil, ironerr.NewDecisionRejected("title must not be empty")
		}
		return []Event{Created{Title: c.Title}}, nil

	case CompleteCommand:
		if !state.Exists {
			return nil, ironerr.NewDecisionRejected("todo does not exist")
		}
		if state.Completed {
			// Idempotent: already done, no effect.
			return nil, nil
		}
		return []Event{Completed{}}, nil

	default:
		return nil, ironerr.NewDecisionRejected(fmt.Sprintf("unknown command %T", cmd))
	}
}

func evolve(state State, event Event) State {
	switch e := event.(type) {
	case Created:
		state.Exists = true
		state.ID = e.ID
		state.Title = e.Title
		state.CreatedAt = e.CreatedAt
	case Completed:
		state.Completed = true
		completedAt := e.CompletedAt
		state.CompletedAt = &completedAt
	}
	return state
}
