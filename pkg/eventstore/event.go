package eventstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a persisted record in the append-only log. It is the wire shape
// of §3 of the specification: every attribute is durable and immutable once
// written.
type Event struct {
	Offset         int64           `json:"offset" db:"offset"`
	EventID        uuid.UUID       `json:"event_id" db:"event_id"`
	AggregateType  string          `json:"aggregate_type" db:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id" db:"aggregate_id"`
	PreviousID     *uuid.UUID      `json:"previous_id,omitempty" db:"previous_id"`
	EventType      string          `json:"event_type" db:"event_type"`
	SchemaVersion  int             `json:"schema_version" db:"schema_version"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	CommandID      *uuid.UUID      `json:"command_id,omitempty" db:"command_id"`
	Metadata       json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Final          bool            `json:"final" db:"final"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// NewEvent is the caller-supplied description of an event to append: a type
// tag, its payload, and optional causation metadata. The store assigns
// Offset, EventID, PreviousID and CreatedAt at append time.
type NewEvent struct {
	EventType     string
	SchemaVersion int
	Payload       json.RawMessage
	CommandID     *uuid.UUID
	Metadata      json.RawMessage
	Final         bool
}
