// Package config defines the top-level configuration for the l2book daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/l2book/internal/book"
	"github.com/alanyoungcy/l2book/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by L2BOOK_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Book     BookConfig     `toml:"book"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Recorder RecorderConfig `toml:"recorder"`
	Replay   ReplayConfig   `toml:"replay"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Feed sources.
const (
	SourceBybit = "bybit"
	SourceBus   = "bus"
	SourceKafka = "kafka"
)

// VenueConfig selects where book updates come from.
type VenueConfig struct {
	// Source is "bybit" for the public websocket, or "bus" or "kafka" for
	// updates published by an external gateway.
	Source         string   `toml:"source"`
	WSURL          string   `toml:"ws_url"`
	Symbols        []string `toml:"symbols"`
	Depth          int      `toml:"depth"`
	MinBackoff     duration `toml:"min_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
	UpdatesChannel string   `toml:"updates_channel"`
	KafkaBrokers   []string `toml:"kafka_brokers"`
	KafkaTopic     string   `toml:"kafka_topic"`
	KafkaGroup     string   `toml:"kafka_group"`
}

// BookConfig tunes the per-symbol books and their Redis mirror.
type BookConfig struct {
	TickSize           string   `toml:"tick_size"`
	MaxDepth           int      `toml:"max_depth"`
	HistorySize        int      `toml:"history_size"`
	VolatilityLookback int      `toml:"volatility_lookback"`
	ImbalanceDepth     int      `toml:"imbalance_depth"`
	MirrorDepth        int      `toml:"mirror_depth"`
	MirrorInterval     duration `toml:"mirror_interval"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyTTL     duration `toml:"key_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RecorderConfig controls sampling, archiving and retention.
type RecorderConfig struct {
	SampleInterval duration `toml:"sample_interval"`
	FlushInterval  duration `toml:"flush_interval"`
	Depth          int      `toml:"depth"`
	LockTTL        duration `toml:"lock_ttl"`
	// RetentionDays bounds the Postgres history. 0 keeps everything.
	RetentionDays int    `toml:"retention_days"`
	PruneCron     string `toml:"prune_cron"`
}

// ReplayConfig selects what replay mode reads back.
type ReplayConfig struct {
	Symbol string `toml:"symbol"`
	Date   string `toml:"date"` // YYYY-MM-DD, empty replays every day
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"` // per client per window, needs Redis
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			Source:         SourceBybit,
			WSURL:          "wss://stream.bybit.com/v5/public/spot",
			Symbols:        []string{"BTCUSDT"},
			Depth:          50,
			MinBackoff:     duration{time.Second},
			MaxBackoff:     duration{30 * time.Second},
			UpdatesChannel: "book:updates",
			KafkaTopic:     "book-updates",
			KafkaGroup:     "l2book",
		},
		Book: BookConfig{
			TickSize:           "0.01",
			MaxDepth:           50,
			HistorySize:        1000,
			VolatilityLookback: 30,
			ImbalanceDepth:     5,
			MirrorDepth:        20,
			MirrorInterval:     duration{250 * time.Millisecond},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyTTL:     duration{time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "l2book-data",
			Prefix:         "books",
			ForcePathStyle: true,
		},
		Recorder: RecorderConfig{
			SampleInterval: duration{time.Second},
			FlushInterval:  duration{time.Minute},
			Depth:          20,
			LockTTL:        duration{30 * time.Second},
			RetentionDays:  30,
			PruneCron:      "30 3 * * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"sequence_gap", "crossed_book", "feed_disconnect", "recorder_error"},
			Cooldown: duration{time.Minute},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"record":  true,
	"full":    true,
	"replay":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, record, full, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue. Replay reads archives and never connects.
	if mode != "replay" {
		switch c.Venue.Source {
		case SourceBybit:
			if c.Venue.WSURL == "" {
				errs = append(errs, "venue: ws_url must not be empty")
			}
			if len(c.Venue.Symbols) == 0 {
				errs = append(errs, "venue: symbols must list at least one symbol")
			}
			if c.Venue.Depth <= 0 {
				errs = append(errs, "venue: depth must be > 0")
			}
		case SourceBus:
			if !c.Redis.Enabled {
				errs = append(errs, "venue: source \"bus\" requires redis.enabled")
			}
		case SourceKafka:
			if len(c.Venue.KafkaBrokers) == 0 {
				errs = append(errs, "venue: source \"kafka\" requires kafka_brokers")
			}
		default:
			errs = append(errs, fmt.Sprintf("venue: unknown source %q (valid: bybit, bus, kafka)", c.Venue.Source))
		}
	}

	// Book
	if _, err := book.NewTickScale(c.Book.TickSize); err != nil {
		errs = append(errs, "book: "+err.Error())
	}
	if c.Book.MaxDepth < 1 {
		errs = append(errs, "book: max_depth must be >= 1")
	}
	if c.Book.ImbalanceDepth < 1 {
		errs = append(errs, "book: imbalance_depth must be >= 1")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Recorder
	if mode == "record" || mode == "full" {
		if !c.Postgres.Enabled && !c.S3.Enabled {
			errs = append(errs, "recorder: mode "+mode+" needs postgres.enabled or s3.enabled")
		}
		if c.Recorder.SampleInterval.Duration <= 0 {
			errs = append(errs, "recorder: sample_interval must be > 0")
		}
		if c.Recorder.FlushInterval.Duration < c.Recorder.SampleInterval.Duration {
			errs = append(errs, "recorder: flush_interval must not be shorter than sample_interval")
		}
		if c.Recorder.RetentionDays < 0 {
			errs = append(errs, "recorder: retention_days must be >= 0")
		}
		if c.Recorder.RetentionDays > 0 && c.Recorder.PruneCron != "" {
			if err := pipeline.ValidateCron(c.Recorder.PruneCron); err != nil {
				errs = append(errs, "recorder: prune_cron: "+err.Error())
			}
		}
	}

	// Replay
	if mode == "replay" {
		if !c.S3.Enabled {
			errs = append(errs, "replay: requires s3.enabled")
		}
		if c.Replay.Symbol == "" {
			errs = append(errs, "replay: symbol must not be empty")
		}
		if c.Replay.Date != "" {
			if _, err := time.Parse(time.DateOnly, c.Replay.Date); err != nil {
				errs = append(errs, fmt.Sprintf("replay: date must be YYYY-MM-DD, got %q", c.Replay.Date))
			}
		}
	}

	// Server
	if c.Server.Enabled && mode != "replay" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TickScale returns the parsed book tick size. Call after Validate.
func (c *Config) TickScale() book.TickScale {
	s, err := book.NewTickScale(c.Book.TickSize)
	if err != nil {
		return book.DefaultScale
	}
	return s
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
