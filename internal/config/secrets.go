package config

import "slices"

// Redacted returns a copy of cfg with credentials replaced by "***". Use it
// when logging the active configuration.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted value cannot alias the original.
	out.Venue.Symbols = slices.Clone(c.Venue.Symbols)
	out.Venue.KafkaBrokers = slices.Clone(c.Venue.KafkaBrokers)
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(c.Notify.Events)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
