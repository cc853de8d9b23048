package search

import "github.com/ironstar-dev/ironstar/internal/todo"

// DocumentsFromTodos projects the Todo materialized view's read model into
// search Documents. This is the "fed by the Materialized View's snapshot,
// not by event payloads" wiring SPEC_FULL.md describes: it runs against
// todo.ListModel, never against eventstore.Event.
func DocumentsFromTodos(model todo.ListModel) []Document {
	docs := make([]Document, 0, len(model.Order))
	for _, id := range model.Order {
		item, ok := model.Items[id]
		if !ok {
			continue
		}
		body := "open"
		if item.Completed {
			body = "completed"
		}
		docs = append(docs, Document{
			ID:        item.ID.String(),
			Title:     item.Title,
			Body:      body,
			UpdatedAt: item.CreatedAt,
		})
	}
	return docs
}
