package domain

import (
	"context"
	"time"
)

// BookEvent is an operational event recorded against a symbol's book.
type BookEvent struct {
	ID        int64          `json:"id"`
	Symbol    string         `json:"symbol"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Event kinds recorded in the event store and sent to notifiers.
const (
	EventSequenceGap    = "sequence_gap"
	EventCrossedBook    = "crossed_book"
	EventRejectedBatch  = "rejected_batch"
	EventFeedDisconnect = "feed_disconnect"
	EventRecorderError  = "recorder_error"
)

// MetricsStore persists sampled book metrics.
type MetricsStore interface {
	InsertBatch(ctx context.Context, samples []BookMetrics) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]BookMetrics, error)
}

// EventStore persists an append-only log of book events.
type EventStore interface {
	Record(ctx context.Context, ev BookEvent) error
	ListRecent(ctx context.Context, limit int) ([]BookEvent, error)
}
