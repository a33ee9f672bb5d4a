package bus

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

// RedisSettings holds Redis Streams transport configuration for the event bus.
type RedisSettings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

// NewRedisSection returns the settings section for the Redis Streams transport.
func NewRedisSection() (schema.Section, error) {
	return schema.NewSection(
		"redis",
		"Redis Streams transport for the chat event bus",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Enable Redis Streams transport for chat events")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault("localhost:6379"), fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault("mozaiks-chat"), fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault("cli-1"), fields.WithHelp("Redis consumer name")),
		),
	)
}
