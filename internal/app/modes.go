package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/l2book/internal/config"
	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/feed"
	"github.com/alanyoungcy/l2book/internal/marketdata"
	"github.com/alanyoungcy/l2book/internal/pipeline"
	"github.com/alanyoungcy/l2book/internal/server"
	"github.com/alanyoungcy/l2book/internal/server/handler"
	"github.com/alanyoungcy/l2book/internal/server/ws"
	"github.com/alanyoungcy/l2book/internal/service"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// MonitorMode keeps the books in sync and serves them over HTTP.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	registry, books := a.newBookService(deps)

	a.startFeed(ctx, g, deps, books)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, registry, books)
	}

	return g.Wait()
}

// RecordMode keeps the books in sync and records them to Postgres and S3.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode")

	g, ctx := errgroup.WithContext(ctx)
	registry, books := a.newBookService(deps)

	a.startFeed(ctx, g, deps, books)
	a.startRecording(ctx, g, deps, registry)

	return g.Wait()
}

// FullMode runs the feed, the recording pipeline, the HTTP API and the
// websocket hub.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	registry, books := a.newBookService(deps)

	a.startFeed(ctx, g, deps, books)
	a.startRecording(ctx, g, deps, registry)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, registry, books)
	}

	return g.Wait()
}

// ReplayMode rebuilds one symbol's books from the S3 archive and writes the
// summary as JSON to stdout.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode",
		slog.String("symbol", a.cfg.Replay.Symbol),
		slog.String("date", a.cfg.Replay.Date),
	)
	if deps.BlobReader == nil {
		return fmt.Errorf("replay mode: s3 is not configured")
	}

	replayer := service.NewReplayer(deps.BlobReader, a.cfg.S3.Prefix, a.cfg.TickScale(), a.cfg.Book.ImbalanceDepth, a.logger)
	summary, err := replayer.Replay(ctx, a.cfg.Replay.Symbol, a.cfg.Replay.Date)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("replay mode: write summary: %w", err)
	}
	return nil
}

// newBookService builds the registry and its single writer.
func (a *App) newBookService(deps *Dependencies) (*marketdata.Registry, *service.BookService) {
	registry := marketdata.NewRegistry(marketdata.ManagerConfig{
		Scale:              a.cfg.TickScale(),
		MaxDepth:           a.cfg.Book.MaxDepth,
		HistorySize:        a.cfg.Book.HistorySize,
		VolatilityLookback: a.cfg.Book.VolatilityLookback,
		ImbalanceDepth:     a.cfg.Book.ImbalanceDepth,
	}, a.logger)

	books := service.NewBookService(registry, service.BookServiceConfig{
		ImbalanceDepth: a.cfg.Book.ImbalanceDepth,
		MirrorDepth:    a.cfg.Book.MirrorDepth,
		MirrorInterval: a.cfg.Book.MirrorInterval.Duration,
	}, service.BookDeps{
		BookCache:    deps.BookCache,
		MetricsCache: deps.MetricsCache,
		Bus:          deps.Bus,
		Events:       deps.EventStore,
		Notifier:     deps.Notifier,
		Metrics:      deps.Metrics,
	}, a.logger)

	return registry, books
}

// startFeed connects the configured source to the book service.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, books *service.BookService) {
	switch a.cfg.Venue.Source {
	case config.SourceBus:
		busFeed := feed.NewBusFeed(deps.Bus, a.cfg.Venue.UpdatesChannel, books, a.logger)
		g.Go(func() error {
			return busFeed.Run(ctx)
		})

	case config.SourceKafka:
		kafkaFeed := feed.NewKafkaFeed(feed.KafkaConfig{
			Brokers: a.cfg.Venue.KafkaBrokers,
			Topic:   a.cfg.Venue.KafkaTopic,
			GroupID: a.cfg.Venue.KafkaGroup,
		}, books, a.logger)
		g.Go(func() error {
			return kafkaFeed.Run(ctx)
		})

	default:
		bybitFeed := feed.NewBybitFeed(feed.BybitConfig{
			WSURL:      a.cfg.Venue.WSURL,
			Symbols:    a.cfg.Venue.Symbols,
			Depth:      a.cfg.Venue.Depth,
			MinBackoff: a.cfg.Venue.MinBackoff.Duration,
			MaxBackoff: a.cfg.Venue.MaxBackoff.Duration,
		}, books, a.logger)

		books.SetResyncHook(bybitFeed.Resync)
		bybitFeed.OnDisconnect(func(err error) {
			deps.Metrics.RecordReconnect()
			ev := domain.BookEvent{
				Kind:      domain.EventFeedDisconnect,
				Detail:    map[string]any{"venue": "bybit", "error": err.Error()},
				CreatedAt: time.Now().UTC(),
			}
			if deps.EventStore != nil {
				if rerr := deps.EventStore.Record(ctx, ev); rerr != nil {
					a.logger.WarnContext(ctx, "record feed disconnect", slog.String("error", rerr.Error()))
				}
			}
			if nerr := deps.Notifier.Notify(ctx, ev); nerr != nil {
				a.logger.WarnContext(ctx, "notify feed disconnect", slog.String("error", nerr.Error()))
			}
		})

		g.Go(func() error {
			return bybitFeed.Run(ctx)
		})
	}
}

// startRecording runs the recorder and, when Postgres holds the history, the
// retention cron.
func (a *App) startRecording(ctx context.Context, g *errgroup.Group, deps *Dependencies, registry *marketdata.Registry) {
	recorder := service.NewRecorder(registry, service.RecorderConfig{
		SampleInterval: a.cfg.Recorder.SampleInterval.Duration,
		FlushInterval:  a.cfg.Recorder.FlushInterval.Duration,
		Depth:          a.cfg.Recorder.Depth,
		ImbalanceDepth: a.cfg.Book.ImbalanceDepth,
		LockTTL:        a.cfg.Recorder.LockTTL.Duration,
	}, service.RecorderDeps{
		Store:    deps.MetricsStore,
		Archiver: deps.Archiver,
		Locks:    deps.Locks,
		Events:   deps.EventStore,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}, a.logger)

	var retention *pipeline.Retention
	if deps.MetricsPruner != nil && a.cfg.Recorder.RetentionDays > 0 {
		retention = pipeline.NewRetention(deps.MetricsPruner, deps.EventPruner, a.cfg.Recorder.RetentionDays, a.logger)
	}

	orchestrator := pipeline.NewOrchestrator(recorder, retention, a.cfg.Recorder.PruneCron, a.logger)
	g.Go(func() error {
		return orchestrator.Run(ctx)
	})
}

// startHTTPServer serves the API and, when a signal bus is wired, the
// websocket hub. The server stops when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, registry *marketdata.Registry, books *service.BookService) {
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, ws.Config{Mode: a.cfg.Mode, StartedAt: a.startedAt}, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "websocket hub disabled: redis is not configured")
	}

	srv := server.NewServer(server.Config{
		Addr:            a.cfg.Server.Addr(),
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.startedAt, registry),
		Books:   handler.NewBookHandler(books, deps.MetricsStore, a.logger),
		Events:  handler.NewEventHandler(deps.EventStore, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
