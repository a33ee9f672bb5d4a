package bus

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

// TopicChat is the bus topic carrying decoded chat events.
const TopicChat = "chat"

// EventRouter fans chat events out from the stream client to consumers
// (projector, TUI, loggers). The default transport is an in-process
// gochannel pub/sub; a Redis Streams transport can be injected for
// multi-process consumers.
type EventRouter struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	router  *message.Router
	verbose bool

	mu      sync.Mutex
	running bool
	toClose []func() error
}

type EventRouterOption func(*EventRouter)

// WithPublisher replaces the default in-memory publisher.
func WithPublisher(pub message.Publisher) EventRouterOption {
	return func(r *EventRouter) {
		r.Publisher = pub
	}
}

// WithSubscriber replaces the default in-memory subscriber.
func WithSubscriber(sub message.Subscriber) EventRouterOption {
	return func(r *EventRouter) {
		r.Subscriber = sub
	}
}

// WithVerbose enables debug logging of every routed message.
func WithVerbose(v bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = v
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{}

	for _, o := range options {
		o(ret)
	}

	logger := NewWatermillLogger(log.Logger)
	if ret.Publisher == nil || ret.Subscriber == nil {
		goPubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger)
		if ret.Publisher == nil {
			ret.Publisher = goPubSub
		}
		if ret.Subscriber == nil {
			ret.Subscriber = goPubSub
		}
		ret.toClose = append(ret.toClose, goPubSub.Close)
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "could not create watermill router")
	}
	ret.router = router

	return ret, nil
}

// AddHandler registers a no-publish handler on the given topic. Must be
// called before Run; handlers added later require RunHandlers.
func (e *EventRouter) AddHandler(name, topic string, f func(msg *message.Message) error) *message.Handler {
	return e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler decodes each message with the chat event factory before
// invoking f. Decode failures are logged and acked so a malformed frame
// cannot wedge the subscription.
func (e *EventRouter) AddEventHandler(name, topic string, f func(ev chatwire.Event) error) *message.Handler {
	return e.AddHandler(name, topic, func(msg *message.Message) error {
		ev, err := chatwire.NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("dropping undecodable chat event")
			return nil
		}
		if e.verbose {
			md := ev.Metadata()
			log.Debug().
				Str("handler", name).
				Str("type", string(ev.Type())).
				Str("chat_id", md.ChatID).
				Uint64("seq", md.Seq).
				Msg("routing chat event")
		}
		return f(ev)
	})
}

// PublishEvent marshals the event and publishes it on the given topic.
func (e *EventRouter) PublishEvent(topic string, ev chatwire.Event) error {
	payload, err := chatwire.MarshalEvent(ev)
	if err != nil {
		return errors.Wrap(err, "could not marshal chat event")
	}
	return e.Publisher.Publish(topic, message.NewMessage(uuid.NewString(), payload))
}

// PublishRaw publishes an already encoded frame on the given topic.
func (e *EventRouter) PublishRaw(topic string, payload []byte) error {
	return e.Publisher.Publish(topic, message.NewMessage(uuid.NewString(), payload))
}

// Run starts the router and blocks until the context is cancelled or the
// router is closed.
func (e *EventRouter) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	return e.router.Run(ctx)
}

// RunHandlers starts handlers that were added after Run.
func (e *EventRouter) RunHandlers(ctx context.Context) error {
	return e.router.RunHandlers(ctx)
}

// Running is closed once the router is running and handlers are ready.
func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *EventRouter) Close() error {
	var firstErr error
	if err := e.router.Close(); err != nil {
		firstErr = err
	}
	for _, f := range e.toClose {
		if err := f(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
