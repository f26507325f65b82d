package domain

import (
	"context"
	"time"
)

// BookCache mirrors the top levels of each book for out-of-process readers.
type BookCache interface {
	SetBook(ctx context.Context, view BookSnapshot) error
	GetBook(ctx context.Context, symbol string) (BookSnapshot, error)
	GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error)
}

// MetricsCache stores the latest derived metrics per symbol.
type MetricsCache interface {
	SetMetrics(ctx context.Context, m BookMetrics) error
	GetMetrics(ctx context.Context, symbol string) (BookMetrics, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter admits at most limit requests per key per window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
