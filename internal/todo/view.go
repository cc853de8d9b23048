package todo

import (
	"time"

	"github.com/google/uuid"

	"github.com/ironstar-dev/ironstar/pkg/view"
)

// Summary is one row of the materialized Todo list.
type Summary struct {
	ID          uuid.UUID
	Title       string
	CreatedAt   time.Time
	Completed   bool
	CompletedAt *time.Time
}

// ListModel is the read model C6 maintains: every Todo ever created,
// keyed by id, in creation order.
type ListModel struct {
	Order []uuid.UUID
	Items map[uuid.UUID]Summary
}

// View builds the pure (evolve_read, initial_read_model) pair for the Todo
// list. Unlike the Decider, which is scoped to one aggregate id, this View
// folds events across every Todo aggregate instance.
func View() view.View[ListModel, Event] {
	return view.View[ListModel, Event]{
		InitialReadModel: ListModel{Items: map[uuid.UUID]Summary{}},
		EvolveRead:       evolveRead,
	}
}

func evolveRead(model ListModel, event Event) ListModel {
	items := make(map[uuid.UUID]Summary, len(model.Items)+1)
	for k, v := range model.Items {
		items[k] = v
	}
	order := append([]uuid.UUID(nil), model.Order...)

	switch e := event.(type) {
	case Created:
		items[e.ID] = Summary{ID: e.ID, Title: e.Title, CreatedAt: e.CreatedAt}
		order = append(order, e.ID)
	case Completed:
		if existing, ok := items[e.ID]; ok {
			existing.Completed = true
			completedAt := e.CompletedAt
			existing.CompletedAt = &completedAt
			items[e.ID] = existing
		}
	}

	return ListModel{Order: order, Items: items}
}
