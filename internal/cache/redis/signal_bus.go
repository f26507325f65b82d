package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/redis/go-redis/v9"
)

// subscriberBuffer is the per-subscription channel capacity.
const subscriberBuffer = 256

// SignalBus implements domain.SignalBus over Redis Pub/Sub.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel, which may be
// a glob pattern such as "book:metrics:*". The returned channel is closed
// when ctx is cancelled or the subscription fails.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// wait for the subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern reports whether channel needs PSubscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// MetricsChannel is the channel metrics for symbol are published on.
func MetricsChannel(symbol string) string {
	return "book:metrics:" + symbol
}

// MetricsPattern matches every MetricsChannel.
const MetricsPattern = "book:metrics:*"

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
