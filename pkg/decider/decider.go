// Package decider holds the pure Decider algebra (C2): a command folds
// against reconstructed state to produce events, and events fold against
// state to produce the next state. Nothing in this package touches a clock,
// an id generator, or I/O — see pkg/aggregate for the boundary that wires
// this algebra to the Event Store and supplies the non-determinism the
// commands themselves cannot.
package decider

// Decider is the triple (decide, evolve, initial_state) for one aggregate
// type, parameterized over its state S, command C, and event E.
//
// Laws implementations MUST preserve (spec.md §4.2):
//  1. Decide and Evolve are pure: no I/O, no hidden state, no clocks.
//  2. Evolve is total: it must never panic or fail for any (S, E) pair
//     reachable by folding a real event stream.
//  3. Fold associativity: folding e1..en then en+1..em from the result
//     equals folding e1..em from initial_state in one pass.
//  4. Replay determinism: the same event list always yields the same state.
type Decider[S, C, E any] struct {
	// Decide computes the events a command produces against the current
	// state. A nil/empty slice with a nil error means "accepted, no
	// effect". A non-nil error means the command is rejected and no
	// events are appended; wrap it in *ironerr.DecisionRejectedError if it
	// should be treated as a rejection rather than an infrastructure fault.
	Decide func(state S, command C) ([]E, error)

	// Evolve applies one historical or freshly decided event to state,
	// returning the next state. Must never fail.
	Evolve func(state S, event E) S

	// InitialState is the state of an aggregate that has never had an
	// event applied to it.
	InitialState S
}

// Fold replays events from s0 in order, applying d.Evolve to each. Used
// both to reconstruct state from history and, by fold associativity, to
// extend an already-folded state with newly observed events.
func Fold[S, C, E any](d Decider[S, C, E], s0 S, events []E) S {
	state := s0
	for _, e := range events {
		state = d.Evolve(state, e)
	}
	return state
}

// Reconstruct folds a full event history from d.InitialState. Equivalent to
// Fold(d, d.InitialState, events).
func Reconstruct[S, C, E any](d Decider[S, C, E], events []E) S {
	return Fold(d, d.InitialState, events)
}
