// Package todo is the reference aggregate spec.md's own worked examples
// use: a single "Todo" item that can be created once and completed once.
// It exercises the full core (C1-C7) end to end and exists so anyone
// extending this module has a small, complete example of wiring a new
// aggregate type.
package todo

import (
	"time"

	"github.com/google/uuid"
)

// State is the reconstructed shape of one Todo, folded from its events.
type State struct {
	Exists      bool
	ID          uuid.UUID
	Title       string
	CreatedAt   time.Time
	Completed   bool
	CompletedAt *time.Time
}

// Event is the sum type this aggregate's Decider and View both fold over.
type Event interface {
	isTodoEvent()
}

// Created is raised once, when a Todo is first made. CreatedAt is left
// zero by Decide and filled in by the aggregate's effect context before
// persistence (spec.md §4.5's "hole" filling mechanism).
type Created struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
}

func (Created) isTodoEvent() {}

// Completed is raised once, when a Todo is marked done. CompletedAt is
// filled in the same way as Created.CreatedAt.
type Completed struct {
	ID          uuid.UUID
	CompletedAt time.Time
}

func (Completed) isTodoEvent() {}

// Command is the sum type Decide accepts.
type Command interface {
	isTodoCommand()
}

// CreateCommand asks for a new Todo with the given title.
type CreateCommand struct {
	Title string
}

func (CreateCommand) isTodoCommand() {}

// CompleteCommand asks to mark an existing Todo done.
type CompleteCommand struct{}

func (CompleteCommand) isTodoCommand() {}
