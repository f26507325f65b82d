package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/l2book/internal/blob/s3"
	"github.com/alanyoungcy/l2book/internal/cache/redis"
	"github.com/alanyoungcy/l2book/internal/config"
	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/metrics"
	"github.com/alanyoungcy/l2book/internal/notify"
	"github.com/alanyoungcy/l2book/internal/pipeline"
	"github.com/alanyoungcy/l2book/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure the modes run on. A
// backend that is disabled in the configuration leaves its fields nil.
type Dependencies struct {
	// Redis
	BookCache    domain.BookCache
	MetricsCache domain.MetricsCache
	Bus          domain.SignalBus
	Locks        domain.LockManager
	RateLimiter  domain.RateLimiter

	// Postgres
	MetricsStore  domain.MetricsStore
	EventStore    domain.EventStore
	MetricsPruner pipeline.Pruner
	EventPruner   pipeline.Pruner

	// S3
	BlobReader domain.BlobReader
	Archiver   domain.BookArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Wire constructs the enabled backends and returns them together with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyTTL:     cfg.Redis.KeyTTL.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		locks := redis.NewLockManager(redisClient)
		locks.OnLost(func(key string) {
			logger.Warn("redis lock lost", slog.String("key", key))
		})

		deps.BookCache = redis.NewBookCache(redisClient)
		deps.MetricsCache = redis.NewMetricsCache(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Locks = locks
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		metricsStore := postgres.NewMetricsStore(pgClient.Pool())
		eventStore := postgres.NewEventStore(pgClient.Pool())
		deps.MetricsStore = metricsStore
		deps.EventStore = eventStore
		deps.MetricsPruner = metricsStore
		deps.EventPruner = eventStore
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable yet",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("backends", strings.Join(enabledBackends(cfg), ",")),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}

func enabledBackends(cfg *config.Config) []string {
	var out []string
	if cfg.Redis.Enabled {
		out = append(out, "redis")
	}
	if cfg.Postgres.Enabled {
		out = append(out, "postgres")
	}
	if cfg.S3.Enabled {
		out = append(out, "s3")
	}
	if len(out) == 0 {
		out = append(out, "none")
	}
	return out
}
