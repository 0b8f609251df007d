package feed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/events"
	"github.com/tOgg1/opsinbox/internal/logging"
)

// RedisFeed listens on a redis pub/sub channel for change notifications and
// publishes decoded events on the bus. go-redis resubscribes internally after
// connection loss, so no explicit reconnect loop is needed.
type RedisFeed struct {
	client  *redis.Client
	channel string
	bus     events.Publisher
	logger  zerolog.Logger
}

// NewRedisFeed connects to the redis instance at url (a redis:// URL) and
// prepares a listener for the given channel.
func NewRedisFeed(url, channel string, bus events.Publisher) (*RedisFeed, error) {
	if channel == "" {
		return nil, fmt.Errorf("redis feed: channel is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("redis feed: bus is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis feed: parse url: %w", err)
	}
	return &RedisFeed{
		client:  redis.NewClient(opts),
		channel: channel,
		bus:     bus,
		logger:  logging.Component("feed.redis"),
	}, nil
}

// Run blocks, consuming the channel until ctx is cancelled.
func (f *RedisFeed) Run(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}
	f.logger.Info().Str("channel", f.channel).Msg("feed subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			event, keep, err := Decode([]byte(msg.Payload))
			if err != nil {
				f.logger.Warn().Err(err).Msg("malformed feed payload")
				continue
			}
			if !keep {
				continue
			}
			f.bus.Publish(event)
		}
	}
}

// Close releases the underlying redis client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
