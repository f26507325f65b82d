// Package service coordinates the per-symbol order books with the caches,
// stores, notifiers and metrics that surround them.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/book"
	"github.com/alanyoungcy/l2book/internal/cache/redis"
	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/marketdata"
	"github.com/alanyoungcy/l2book/internal/metrics"
	"github.com/alanyoungcy/l2book/internal/notify"
)

// BookServiceConfig tunes what BookService mirrors after each update.
type BookServiceConfig struct {
	ImbalanceDepth int           // levels used for published metrics
	MirrorDepth    int           // levels written to the book cache
	MirrorInterval time.Duration // minimum gap between cache writes per symbol
}

// BookDeps are the optional collaborators of a BookService. Nil fields are
// skipped.
type BookDeps struct {
	BookCache    domain.BookCache
	MetricsCache domain.MetricsCache
	Bus          domain.SignalBus
	Events       domain.EventStore
	Notifier     *notify.Notifier
	Metrics      *metrics.Metrics
}

// BookService is the single writer for every book in the registry. It
// implements feed.BookSink.
type BookService struct {
	registry *marketdata.Registry
	cfg      BookServiceConfig
	deps     BookDeps
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	resync     func(symbol string) error
	lastMirror map[string]time.Time
	crossed    map[string]bool // symbols whose last update left the book crossed
}

// NewBookService creates a BookService over registry.
func NewBookService(registry *marketdata.Registry, cfg BookServiceConfig, deps BookDeps, logger *slog.Logger) *BookService {
	if cfg.ImbalanceDepth <= 0 {
		cfg.ImbalanceDepth = 5
	}
	if cfg.MirrorDepth <= 0 {
		cfg.MirrorDepth = 50
	}
	s := &BookService{
		registry:   registry,
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With(slog.String("component", "book_service")),
		now:        time.Now,
		lastMirror: make(map[string]time.Time),
		crossed:    make(map[string]bool),
	}
	registry.OnCreate(func(m *marketdata.Manager) {
		m.OnGap(s.handleGap)
	})
	return s
}

// SetResyncHook installs the function called with a symbol after a gap.
func (s *BookService) SetResyncHook(fn func(symbol string) error) {
	s.mu.Lock()
	s.resync = fn
	s.mu.Unlock()
}

// Registry returns the books this service writes to.
func (s *BookService) Registry() *marketdata.Registry { return s.registry }

// HandleSnapshot replaces the symbol's book.
func (s *BookService) HandleSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	m := s.registry.GetOrCreate(snap.Symbol)
	start := time.Now()
	err := m.ApplySnapshot(snap)
	return s.after(ctx, m, string(domain.UpdateSnapshot), start, err)
}

// HandleDelta merges an incremental update into the symbol's book.
func (s *BookService) HandleDelta(ctx context.Context, delta domain.BookDelta) error {
	m := s.registry.GetOrCreate(delta.Symbol)
	start := time.Now()
	err := m.ApplyDelta(delta)
	return s.after(ctx, m, string(domain.UpdateDelta), start, err)
}

// Reset discards symbol's book so the next snapshot is accepted.
func (s *BookService) Reset(symbol string) {
	s.registry.GetOrCreate(symbol).Reset()
	s.mu.Lock()
	delete(s.lastMirror, symbol)
	delete(s.crossed, symbol)
	s.mu.Unlock()
}

func (s *BookService) after(ctx context.Context, m *marketdata.Manager, kind string, start time.Time, err error) error {
	symbol := m.Symbol()
	if err != nil {
		s.recordFailure(ctx, symbol, kind, err)
		return err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordUpdate(symbol, kind, time.Since(start))
	}

	mt := m.Metrics(s.cfg.ImbalanceDepth)
	if s.deps.Metrics != nil {
		stats := m.Stats()
		s.deps.Metrics.SetBook(symbol, stats.BidLevels, stats.AskLevels, mt.Mid, mt.SpreadBps, mt.Imbalance)
	}
	s.trackCrossed(ctx, mt)
	s.publish(ctx, m, mt)
	return nil
}

// recordFailure classifies a refused update. Gaps are handled by the
// manager's gap hook and not-synced deltas are expected while waiting for
// a snapshot.
func (s *BookService) recordFailure(ctx context.Context, symbol, kind string, err error) {
	switch {
	case errors.Is(err, domain.ErrSequenceGap), errors.Is(err, domain.ErrNotSynced):
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejected(symbol, "sequence")
		}
	case errors.Is(err, domain.ErrStaleSnapshot):
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejected(symbol, "stale")
		}
	default:
		reason := "invalid"
		if errors.Is(err, book.ErrInvalidPrice) {
			reason = "invalid_price"
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejected(symbol, reason)
		}
		s.logger.WarnContext(ctx, "rejected update batch",
			slog.String("symbol", symbol),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		s.recordEvent(ctx, domain.BookEvent{
			Symbol: symbol,
			Kind:   domain.EventRejectedBatch,
			Detail: map[string]any{"update": kind, "error": err.Error()},
		}, false)
	}
}

func (s *BookService) handleGap(symbol string, expected, got int64) {
	ctx := context.Background()
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordGap(symbol)
	}
	s.recordEvent(ctx, domain.BookEvent{
		Symbol: symbol,
		Kind:   domain.EventSequenceGap,
		Detail: map[string]any{"expected": expected, "got": got},
	}, true)

	s.mu.Lock()
	resync := s.resync
	s.mu.Unlock()
	if resync == nil {
		return
	}
	if err := resync(symbol); err != nil {
		s.logger.Warn("resync request failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// trackCrossed counts every crossed update but records an event only when
// the book goes from uncrossed to crossed.
func (s *BookService) trackCrossed(ctx context.Context, mt domain.BookMetrics) {
	s.mu.Lock()
	was := s.crossed[mt.Symbol]
	s.crossed[mt.Symbol] = mt.Crossed
	s.mu.Unlock()
	if !mt.Crossed {
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCrossed(mt.Symbol)
	}
	if was {
		return
	}
	detail := map[string]any{"sequence": mt.Sequence}
	if mt.BestBid != nil {
		detail["best_bid"] = mt.BestBid.Price
	}
	if mt.BestAsk != nil {
		detail["best_ask"] = mt.BestAsk.Price
	}
	s.recordEvent(ctx, domain.BookEvent{Symbol: mt.Symbol, Kind: domain.EventCrossedBook, Detail: detail}, true)
}

// recordEvent stores ev and optionally notifies. Failures are logged only.
func (s *BookService) recordEvent(ctx context.Context, ev domain.BookEvent, notifyOps bool) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	if s.deps.Events != nil {
		if err := s.deps.Events.Record(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "record event failed",
				slog.String("event", ev.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
	if notifyOps && s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("event", ev.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
}

// publish mirrors the book to the caches and announces the new metrics.
func (s *BookService) publish(ctx context.Context, m *marketdata.Manager, mt domain.BookMetrics) {
	symbol := m.Symbol()

	if s.deps.BookCache != nil && s.shouldMirror(symbol) {
		if err := s.deps.BookCache.SetBook(ctx, m.View(s.cfg.MirrorDepth)); err != nil {
			s.logger.WarnContext(ctx, "mirror book failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.MetricsCache != nil {
		if err := s.deps.MetricsCache.SetMetrics(ctx, mt); err != nil {
			s.logger.WarnContext(ctx, "cache metrics failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Bus != nil {
		payload, err := json.Marshal(mt)
		if err != nil {
			s.logger.ErrorContext(ctx, "marshal metrics", slog.String("error", err.Error()))
			return
		}
		if err := s.deps.Bus.Publish(ctx, redis.MetricsChannel(symbol), payload); err != nil {
			s.logger.WarnContext(ctx, "publish metrics failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *BookService) shouldMirror(symbol string) bool {
	if s.cfg.MirrorInterval <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, ok := s.lastMirror[symbol]; ok && now.Sub(last) < s.cfg.MirrorInterval {
		return false
	}
	s.lastMirror[symbol] = now
	return true
}

// Metrics returns symbol's current metrics with imbalance over depth levels.
func (s *BookService) Metrics(symbol string, depth int) (domain.BookMetrics, error) {
	m, err := s.registry.Get(symbol)
	if err != nil {
		return domain.BookMetrics{}, fmt.Errorf("book_service: %w", err)
	}
	if depth <= 0 {
		depth = s.cfg.ImbalanceDepth
	}
	return m.Metrics(depth), nil
}

// View returns the top depth levels of symbol's book.
func (s *BookService) View(symbol string, depth int) (domain.BookSnapshot, error) {
	m, err := s.registry.Get(symbol)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("book_service: %w", err)
	}
	return m.View(depth), nil
}

// Stats returns symbol's running counters.
func (s *BookService) Stats(symbol string) (domain.BookStats, error) {
	m, err := s.registry.Get(symbol)
	if err != nil {
		return domain.BookStats{}, fmt.Errorf("book_service: %w", err)
	}
	return m.Stats(), nil
}

// AllStats returns the counters of every known symbol in symbol order.
func (s *BookService) AllStats() []domain.BookStats {
	managers := s.registry.Managers()
	out := make([]domain.BookStats, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Stats())
	}
	return out
}
