package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// UpdatesChannel is where an external gateway publishes decoded updates.
const UpdatesChannel = "book:updates"

// BusFeed subscribes to a SignalBus channel carrying domain.BookUpdate
// envelopes and forwards them to a BookSink. It lets a separate gateway
// process own the venue connection.
type BusFeed struct {
	bus     domain.SignalBus
	channel string
	sink    BookSink
	logger  *slog.Logger
}

// NewBusFeed creates a BusFeed on channel, or UpdatesChannel when empty.
func NewBusFeed(bus domain.SignalBus, channel string, sink BookSink, logger *slog.Logger) *BusFeed {
	if channel == "" {
		channel = UpdatesChannel
	}
	return &BusFeed{
		bus:     bus,
		channel: channel,
		sink:    sink,
		logger:  logger.With(slog.String("component", "bus_feed")),
	}
}

// Run consumes the channel until ctx is cancelled or the subscription ends.
func (f *BusFeed) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", f.channel, err)
	}
	f.logger.Info("bus feed started", slog.String("channel", f.channel))
	defer f.logger.Info("bus feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("bus feed handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *BusFeed) handleMessage(ctx context.Context, data []byte) error {
	return dispatchUpdate(ctx, f.sink, data)
}
