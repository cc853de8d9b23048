package todo

import (
	"encoding/json"
	"fmt"
)

const (
	eventTypeCreated   = "TodoCreated"
	eventTypeCompleted = "TodoCompleted"
)

// Codec implements aggregate.Codec[Event] for the Todo event sum type.
type Codec struct{}

// EventType returns the wire tag for an event.
func (Codec) EventType(e Event) string {
	switch e.(type) {
	case Created:
		return eventTypeCreated
	case Completed:
		return eventTypeCompleted
	default:
		return fmt.Sprintf("%T", e)
	}
}

// Encode marshals an event to its wire payload.
func (Codec) Encode(e Event) (json.RawMessage, error) {
	return json.Marshal(e)
}

// Decode unmarshals a wire payload back into the concrete Event type named
// by eventType.
func (Codec) Decode(eventType string, payload json.RawMessage) (Event, error) {
	switch eventType {
	case eventTypeCreated:
		var e Created
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventTypeCompleted:
		var e Completed
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("todo: unknown event type %q", eventType)
	}
}

// DecodeForView adapts Codec.Decode to materialized.Decoder[Event]: every
// event this aggregate emits is relevant to the Todo list view, so ok is
// true whenever a Todo event decodes; any other event type returns
// ok=false with no error.
func DecodeForView(eventType string, payload json.RawMessage) (Event, bool, error) {
	c := Codec{}
	switch eventType {
	case eventTypeCreated, eventTypeCompleted:
		e, err := c.Decode(eventType, payload)
		if err != nil {
			return nil, false, err
		}
		return e, true, nil
	default:
		return nil, false, nil
	}
}
