package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "L2BOOK_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies L2BOOK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known L2BOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.Source, "VENUE_SOURCE")
	setStr(&cfg.Venue.WSURL, "VENUE_WS_URL")
	setStringSlice(&cfg.Venue.Symbols, "VENUE_SYMBOLS")
	setInt(&cfg.Venue.Depth, "VENUE_DEPTH")
	setStr(&cfg.Venue.UpdatesChannel, "VENUE_UPDATES_CHANNEL")
	setStringSlice(&cfg.Venue.KafkaBrokers, "VENUE_KAFKA_BROKERS")
	setStr(&cfg.Venue.KafkaTopic, "VENUE_KAFKA_TOPIC")
	setStr(&cfg.Venue.KafkaGroup, "VENUE_KAFKA_GROUP")

	// ── Book ──
	setStr(&cfg.Book.TickSize, "BOOK_TICK_SIZE")
	setInt(&cfg.Book.MaxDepth, "BOOK_MAX_DEPTH")
	setInt(&cfg.Book.ImbalanceDepth, "BOOK_IMBALANCE_DEPTH")
	setDuration(&cfg.Book.MirrorInterval, "BOOK_MIRROR_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Recorder ──
	setDuration(&cfg.Recorder.SampleInterval, "RECORDER_SAMPLE_INTERVAL")
	setDuration(&cfg.Recorder.FlushInterval, "RECORDER_FLUSH_INTERVAL")
	setInt(&cfg.Recorder.RetentionDays, "RECORDER_RETENTION_DAYS")
	setStr(&cfg.Recorder.PruneCron, "RECORDER_PRUNE_CRON")

	// ── Replay ──
	setStr(&cfg.Replay.Symbol, "REPLAY_SYMBOL")
	setStr(&cfg.Replay.Date, "REPLAY_DATE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
