package chatwire

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// EventFactory returns a fresh event value for a wire type, ready to be
// unmarshalled into.
type EventFactory func() Event

var (
	factoryMu sync.RWMutex
	factories = map[EventType]EventFactory{}
)

// RegisterEventFactory registers a decode factory for a wire type. Duplicate
// registration returns an error; callers in init() typically ignore it.
func RegisterEventFactory(t EventType, f EventFactory) error {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, ok := factories[t]; ok {
		return errors.Errorf("event factory already registered for %q", t)
	}
	factories[t] = f
	return nil
}

type eventEnvelope struct {
	Type EventType `json:"type"`
}

// NewEventFromJSON decodes a single wire frame into its typed event. Frames
// with an unregistered type decode into *EventRaw.
func NewEventFromJSON(payload []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Wrap(err, "decode event envelope")
	}
	if env.Type == "" {
		return nil, errors.New("event has no type")
	}

	factoryMu.RLock()
	factory, ok := factories[env.Type]
	factoryMu.RUnlock()

	if !ok {
		raw := &EventRaw{}
		if err := json.Unmarshal(payload, &raw.EventImpl); err != nil {
			return nil, errors.Wrapf(err, "decode %s", env.Type)
		}
		var fields map[string]any
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, errors.Wrapf(err, "decode %s fields", env.Type)
		}
		raw.Fields = fields
		return raw, nil
	}

	e := factory()
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, errors.Wrapf(err, "decode %s", env.Type)
	}
	return e, nil
}

// MarshalEvent encodes a typed event back into its wire frame.
func MarshalEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("event is nil")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", e.Type())
	}
	return b, nil
}

func init() {
	_ = RegisterEventFactory(EventTypeStream, func() Event {
		return &EventStream{EventImpl: EventImpl{Type_: EventTypeStream}}
	})
	_ = RegisterEventFactory(EventTypeText, func() Event {
		return &EventText{EventImpl: EventImpl{Type_: EventTypeText}}
	})
	_ = RegisterEventFactory(EventTypePrint, func() Event {
		return &EventPrint{EventImpl: EventImpl{Type_: EventTypePrint}}
	})
	_ = RegisterEventFactory(EventTypeToolCall, func() Event {
		return &EventToolCall{EventImpl: EventImpl{Type_: EventTypeToolCall}}
	})
	_ = RegisterEventFactory(EventTypeToolResponse, func() Event {
		return &EventToolResponse{EventImpl: EventImpl{Type_: EventTypeToolResponse}}
	})
	_ = RegisterEventFactory(EventTypeInputRequest, func() Event {
		return &EventInputRequest{EventImpl: EventImpl{Type_: EventTypeInputRequest}}
	})
	_ = RegisterEventFactory(EventTypeSelectSpeaker, func() Event {
		return &EventSelectSpeaker{EventImpl: EventImpl{Type_: EventTypeSelectSpeaker}}
	})
	_ = RegisterEventFactory(EventTypeUsageSummary, func() Event {
		return &EventUsageSummary{EventImpl: EventImpl{Type_: EventTypeUsageSummary}}
	})
	_ = RegisterEventFactory(EventTypeArtifact, func() Event {
		return &EventArtifact{EventImpl: EventImpl{Type_: EventTypeArtifact}}
	})
	_ = RegisterEventFactory(EventTypeUITool, func() Event {
		return &EventUITool{EventImpl: EventImpl{Type_: EventTypeUITool}}
	})
	_ = RegisterEventFactory(EventTypeError, func() Event {
		return &EventError{EventImpl: EventImpl{Type_: EventTypeError}}
	})
	_ = RegisterEventFactory(EventTypeResumeBoundary, func() Event {
		return &EventResumeBoundary{EventImpl: EventImpl{Type_: EventTypeResumeBoundary}}
	})
	_ = RegisterEventFactory(EventTypeEnd, func() Event {
		return &EventEnd{EventImpl: EventImpl{Type_: EventTypeEnd}}
	})
}

// ToTypedEvent narrows an Event to a concrete type.
func ToTypedEvent[T any](e Event) (*T, bool) {
	v, ok := any(e).(*T)
	if !ok {
		return nil, false
	}
	return v, true
}
