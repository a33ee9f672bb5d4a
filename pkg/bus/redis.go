package bus

import (
	"context"
	"strings"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BuildRouter constructs an EventRouter backed by Redis Streams when enabled.
// If settings.Enabled is false, it returns the default in-memory router.
func BuildRouter(s RedisSettings, verbose bool) (*EventRouter, error) {
	if !s.Enabled {
		return NewEventRouter(WithVerbose(verbose))
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	logger := NewWatermillLogger(log.Logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		return nil, err
	}

	sub, err := BuildGroupSubscriber(s.Addr, s.Group, s.Consumer)
	if err != nil {
		return nil, err
	}

	return NewEventRouter(
		WithPublisher(message.Publisher(pub)),
		WithSubscriber(sub),
		WithVerbose(verbose),
	)
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given
// consumer group/name. Use with AddHandler to isolate a consumer.
func BuildGroupSubscriber(addr, group, consumer string) (message.Subscriber, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	logger := NewWatermillLogger(log.Logger)
	return rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail
// ($) if it doesn't exist. This prevents full historical replay on first
// subscribe.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP means the group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
