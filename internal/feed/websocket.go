package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/opsinbox/internal/events"
	"github.com/tOgg1/opsinbox/internal/logging"
)

const maxReconnectInterval = 2 * time.Minute

// WebsocketFeed subscribes to a websocket change-feed endpoint and publishes
// decoded events on the bus. It reconnects with capped exponential backoff
// until the context is cancelled.
type WebsocketFeed struct {
	url       string
	bus       events.Publisher
	interval  time.Duration
	logger    zerolog.Logger
	connected func(bool)
}

// WebsocketOption configures a WebsocketFeed.
type WebsocketOption func(*WebsocketFeed)

// WithConnectionCallback registers a hook invoked on connect and disconnect.
func WithConnectionCallback(fn func(bool)) WebsocketOption {
	return func(f *WebsocketFeed) {
		f.connected = fn
	}
}

// NewWebsocketFeed creates a websocket feed. interval is the initial
// reconnect delay; it doubles on consecutive failures.
func NewWebsocketFeed(url string, bus events.Publisher, interval time.Duration, opts ...WebsocketOption) (*WebsocketFeed, error) {
	if url == "" {
		return nil, fmt.Errorf("websocket feed: url is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("websocket feed: bus is required")
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	feed := &WebsocketFeed{
		url:      url,
		bus:      bus,
		interval: interval,
		logger:   logging.Component("feed.websocket"),
	}
	for _, opt := range opts {
		opt(feed)
	}
	return feed, nil
}

// Run blocks, maintaining the connection until ctx is cancelled.
func (f *WebsocketFeed) Run(ctx context.Context) error {
	backoff := f.interval
	for {
		connected, err := f.connectAndRead(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("feed connection lost")
		}
		if connected {
			// The session was healthy; start the next retry ladder fresh.
			backoff = f.interval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectInterval {
			backoff = maxReconnectInterval
		}
	}
}

// connectAndRead reports whether a connection was established, so the caller
// can reset its backoff after a healthy session.
func (f *WebsocketFeed) connectAndRead(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.logger.Info().Str("url", f.url).Msg("feed connected")
	if f.connected != nil {
		f.connected(true)
		defer f.connected(false)
	}

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, context.Canceled) {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}
		f.dispatch(data)
	}
}

func (f *WebsocketFeed) dispatch(data []byte) {
	event, ok, err := Decode(data)
	if err != nil {
		f.logger.Warn().Err(err).Msg("malformed feed payload")
		return
	}
	if !ok {
		return
	}
	f.bus.Publish(event)
}
