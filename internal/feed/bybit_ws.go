package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/platform/bybit"
)

// maxTopicsPerSubscribe is the venue's limit on args per subscribe request.
const maxTopicsPerSubscribe = 10

// BybitConfig selects the stream and instruments for a BybitFeed.
type BybitConfig struct {
	WSURL      string
	Symbols    []string
	Depth      int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// BybitFeed connects to the Bybit public orderbook stream, subscribes to the
// configured symbols and forwards every push to a BookSink. It reconnects
// with exponential backoff and resets the affected books on each new
// connection, since the venue starts every subscription with a snapshot.
type BybitFeed struct {
	cfg    BybitConfig
	sink   BookSink
	logger *slog.Logger

	mu           sync.Mutex
	client       *bybit.WSClient
	onDisconnect []func(error)
}

// NewBybitFeed creates a feed for cfg.
func NewBybitFeed(cfg BybitConfig, sink BookSink, logger *slog.Logger) *BybitFeed {
	if cfg.Depth <= 0 {
		cfg.Depth = 50
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &BybitFeed{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "bybit_ws_feed")),
	}
}

// OnDisconnect registers fn to run after every dropped connection.
func (f *BybitFeed) OnDisconnect(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = append(f.onDisconnect, fn)
}

// Run keeps a connection open until ctx is cancelled.
func (f *BybitFeed) Run(ctx context.Context) error {
	if len(f.cfg.Symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.MinBackoff
	bo.MaxInterval = f.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()

	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			bo.Reset()
		}
		if err == nil {
			err = domain.ErrWSDisconnect
		}
		delay := bo.NextBackOff()
		f.logger.Warn("bybit ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		f.mu.Lock()
		hooks := append([]func(error){}, f.onDisconnect...)
		f.mu.Unlock()
		for _, fn := range hooks {
			fn(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Resync asks the venue for a fresh snapshot of symbol.
func (f *BybitFeed) Resync(symbol string) error {
	f.mu.Lock()
	client := f.client
	f.mu.Unlock()
	if client == nil {
		return fmt.Errorf("feed: resync %s: %w", symbol, domain.ErrWSDisconnect)
	}
	if err := client.Resubscribe(bybit.OrderbookTopic(f.cfg.Depth, symbol)); err != nil {
		return fmt.Errorf("feed: resync %s: %w", symbol, err)
	}
	f.logger.Info("requested resync", slog.String("symbol", symbol))
	return nil
}

func (f *BybitFeed) runConnection(ctx context.Context) (connected bool, err error) {
	client := bybit.NewWSClient(f.cfg.WSURL)
	defer client.Close()

	client.OnSnapshot(func(snap domain.BookSnapshot) { f.handleSnapshot(ctx, snap) })
	client.OnDelta(func(delta domain.BookDelta) { f.handleDelta(ctx, delta) })
	client.OnError(func(raw []byte, err error) {
		f.logger.Warn("dropping undecodable push",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(raw)),
		)
	})

	if err := client.Connect(ctx); err != nil {
		return false, err
	}
	for _, s := range f.cfg.Symbols {
		f.sink.Reset(s)
	}

	topics := make([]string, 0, len(f.cfg.Symbols))
	for _, s := range f.cfg.Symbols {
		topics = append(topics, bybit.OrderbookTopic(f.cfg.Depth, s))
	}
	for start := 0; start < len(topics); start += maxTopicsPerSubscribe {
		end := min(start+maxTopicsPerSubscribe, len(topics))
		if err := client.Subscribe(topics[start:end]...); err != nil {
			return true, err
		}
	}
	f.logger.Info("bybit ws subscribed",
		slog.Int("symbols", len(f.cfg.Symbols)),
		slog.Int("depth", f.cfg.Depth),
	)

	f.setClient(client)
	defer f.setClient(nil)
	return true, client.Run(ctx)
}

func (f *BybitFeed) setClient(c *bybit.WSClient) {
	f.mu.Lock()
	f.client = c
	f.mu.Unlock()
}

func (f *BybitFeed) handleSnapshot(ctx context.Context, snap domain.BookSnapshot) {
	// update id 1 means the venue restarted the stream for this symbol
	if snap.Sequence == 1 {
		f.sink.Reset(snap.Symbol)
	}
	if err := f.sink.HandleSnapshot(ctx, snap); err != nil {
		f.logger.Debug("snapshot not applied",
			slog.String("symbol", snap.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

func (f *BybitFeed) handleDelta(ctx context.Context, delta domain.BookDelta) {
	if err := f.sink.HandleDelta(ctx, delta); err != nil {
		f.logger.Debug("delta not applied",
			slog.String("symbol", delta.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
