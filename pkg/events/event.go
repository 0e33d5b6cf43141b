package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type EventType string

const (
	// EventTypeStart is published by the host right before a processor runs.
	EventTypeStart EventType = "start"
	// EventTypeOutput is published for every accepted output stream write.
	EventTypeOutput EventType = "output"
	// EventTypeFinal carries the finalized output of a successful invocation.
	EventTypeFinal EventType = "final"
	// EventTypeError is published when an invocation fails.
	EventTypeError EventType = "error"
)

// Metadata identifies the invocation an event belongs to.
type Metadata struct {
	InvocationID string `json:"invocation_id" yaml:"invocation_id" mapstructure:"invocation_id"`
	Identity     string `json:"identity" yaml:"identity" mapstructure:"identity"`
	SessionID    string `json:"session_id,omitempty" yaml:"session_id,omitempty" mapstructure:"session_id"`
}

type Event struct {
	Type     EventType              `json:"type"`
	Metadata Metadata               `json:"meta"`
	Sequence int                    `json:"sequence,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Time     time.Time              `json:"time"`
}

func NewStartEvent(metadata Metadata) *Event {
	return &Event{Type: EventTypeStart, Metadata: metadata, Time: time.Now()}
}

func NewOutputEvent(metadata Metadata, sequence int, payload map[string]interface{}) *Event {
	return &Event{Type: EventTypeOutput, Metadata: metadata, Sequence: sequence, Payload: payload, Time: time.Now()}
}

func NewFinalEvent(metadata Metadata, payload map[string]interface{}) *Event {
	return &Event{Type: EventTypeFinal, Metadata: metadata, Payload: payload, Time: time.Now()}
}

func NewErrorEvent(metadata Metadata, err error) *Event {
	return &Event{Type: EventTypeError, Metadata: metadata, Error: err.Error(), Time: time.Now()}
}

func NewEventFromJSON(b []byte) (*Event, error) {
	e := &Event{}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	switch e.Type {
	case EventTypeStart, EventTypeOutput, EventTypeFinal, EventTypeError:
	default:
		return nil, errors.Errorf("unknown event type %q", e.Type)
	}
	return e, nil
}
