// Package view holds the pure View algebra (C3): a read model folds
// against events, independent of any Decider's own state. Views are
// disposable by design — pkg/materialized rebuilds one from history alone
// whenever it needs to, so nothing here may depend on external state.
package view

// View is the pair (evolve_read, initial_read_model) for one materialized
// read model M over events of type E.
type View[M, E any] struct {
	// EvolveRead folds one event into the read model. Pure, total,
	// deterministic — same constraints as decider.Decider.Evolve.
	EvolveRead func(model M, event E) M

	// InitialReadModel is the value before any event has been folded.
	InitialReadModel M
}

// Fold replays events against m0 in order.
func Fold[M, E any](v View[M, E], m0 M, events []E) M {
	model := m0
	for _, e := range events {
		model = v.EvolveRead(model, e)
	}
	return model
}

// Rebuild folds a full history from v.InitialReadModel. This is what a
// materialized view runs at cold start (spec.md §4.6 "warm-up").
func Rebuild[M, E any](v View[M, E], events []E) M {
	return Fold(v, v.InitialReadModel, events)
}
