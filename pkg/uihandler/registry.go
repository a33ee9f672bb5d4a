package uihandler

import (
	"reflect"
	"sync"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

// Handler consumes a decoded chat event. Handlers should be idempotent and
// safe to call multiple times for the same logical event stream.
type Handler func(e chatwire.Event) error

// ComponentHandler renders or reacts to a single chat.ui_tool payload.
type ComponentHandler func(e *chatwire.EventUITool) error

var (
	mu         sync.RWMutex
	handlers   = map[reflect.Type][]Handler{}
	components = map[string]ComponentHandler{}
)

// RegisterByType registers a handler for a specific event type T (usually a
// pointer type). The handler is invoked only when the incoming event is
// assignable to T.
func RegisterByType[T any](fn func(T) error) {
	mu.Lock()
	defer mu.Unlock()

	typ := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(e chatwire.Event) error {
		if v, ok := any(e).(T); ok {
			return fn(v)
		}
		return nil
	}

	handlers[typ] = append(handlers[typ], wrapped)
}

// RegisterComponent binds a handler to a ui_tool component name, replacing
// any previous binding for that name.
func RegisterComponent(name string, fn ComponentHandler) {
	mu.Lock()
	defer mu.Unlock()
	components[name] = fn
}

// Handle attempts to process an event using registered type handlers.
// chat.ui_tool events are additionally routed through the component registry.
// Returns whether any handler was found for the event, and the first error.
func Handle(e chatwire.Event) (bool, error) {
	if e == nil {
		return false, nil
	}

	mu.RLock()
	hlist := append([]Handler(nil), handlers[reflect.TypeOf(e)]...)
	mu.RUnlock()

	handled := len(hlist) > 0
	for _, h := range hlist {
		if h == nil {
			continue
		}
		if err := h(e); err != nil {
			return true, err
		}
	}

	if ui, ok := e.(*chatwire.EventUITool); ok {
		componentHandled, err := Dispatch(ui)
		if err != nil {
			return true, err
		}
		handled = handled || componentHandled
	}

	return handled, nil
}

// Dispatch routes a ui_tool event to the handler registered for its component
// name. Unknown components are reported as unhandled, not as errors.
func Dispatch(e *chatwire.EventUITool) (bool, error) {
	if e == nil {
		return false, nil
	}

	mu.RLock()
	fn := components[e.Component]
	mu.RUnlock()

	if fn == nil {
		return false, nil
	}
	return true, fn(e)
}

// Clear removes all registered handlers (useful for tests).
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	handlers = map[reflect.Type][]Handler{}
	components = map[string]ComponentHandler{}
}
