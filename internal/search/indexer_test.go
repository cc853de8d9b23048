package search_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ironstar-dev/ironstar/internal/search"
	"github.com/ironstar-dev/ironstar/internal/todo"
)

func TestDocumentsFromTodos_PreservesOrderAndStatus(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	now := time.Now().UTC()

	model := todo.ListModel{
		Order: []uuid.UUID{id1, id2},
		Items: map[uuid.UUID]todo.Summary{
			id1: {ID: id1, Title: "buy milk", CreatedAt: now, Completed: true},
			id2: {ID: id2, Title: "write tests", CreatedAt: now},
		},
	}

	docs := search.DocumentsFromTodos(model)

	assert.Len(t, docs, 2)
	assert.Equal(t, "buy milk", docs[0].Title)
	assert.Equal(t, "completed", docs[0].Body)
	assert.Equal(t, "write tests", docs[1].Title)
	assert.Equal(t, "open", docs[1].Body)
}
