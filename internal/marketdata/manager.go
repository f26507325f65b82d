package marketdata

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/book"
	"github.com/alanyoungcy/l2book/internal/domain"
)

// ManagerConfig tunes a per-symbol Manager.
type ManagerConfig struct {
	Scale              book.TickScale
	MaxDepth           int // levels exposed by View
	HistorySize        int // mids retained for volatility
	VolatilityLookback int
	ImbalanceDepth     int // depth used for metrics passed to OnUpdate
}

// DefaultManagerConfig returns the defaults used when a field is zero.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Scale:              book.DefaultScale,
		MaxDepth:           50,
		HistorySize:        1000,
		VolatilityLookback: 30,
		ImbalanceDepth:     5,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.VolatilityLookback <= 0 {
		c.VolatilityLookback = d.VolatilityLookback
	}
	if c.ImbalanceDepth <= 0 {
		c.ImbalanceDepth = d.ImbalanceDepth
	}
	return c
}

// Manager owns one symbol's book and serializes access to it. It tracks
// venue sequence numbers, detects gaps and keeps running statistics.
type Manager struct {
	mu     sync.RWMutex
	symbol string
	cfg    ManagerConfig
	book   *book.Book
	mids   *midHistory

	lastSeq     int64
	synced      bool
	needsResync bool
	updates     int64
	snapshots   int64
	deltas      int64
	gaps        int64
	rejected    int64
	crossed     int64
	lastUpdate  time.Time

	onUpdate []func(domain.BookMetrics)
	onGap    []func(symbol string, expected, got int64)

	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager for symbol with an empty book.
func NewManager(symbol string, cfg ManagerConfig, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		symbol: symbol,
		cfg:    cfg,
		book:   book.New(cfg.Scale),
		mids:   newMidHistory(cfg.HistorySize),
		logger: logger.With(slog.String("symbol", symbol)),
		now:    time.Now,
	}
}

// Symbol returns the instrument this manager tracks.
func (m *Manager) Symbol() string { return m.symbol }

// OnUpdate registers fn to run after every applied snapshot or delta. It is
// called without the manager lock held.
func (m *Manager) OnUpdate(fn func(domain.BookMetrics)) {
	m.mu.Lock()
	m.onUpdate = append(m.onUpdate, fn)
	m.mu.Unlock()
}

// OnGap registers fn to run when a delta arrives out of sequence.
func (m *Manager) OnGap(fn func(symbol string, expected, got int64)) {
	m.mu.Lock()
	m.onGap = append(m.onGap, fn)
	m.mu.Unlock()
}

// ApplySnapshot replaces the book. A sequenced snapshot that is not newer
// than the last applied update is rejected with domain.ErrStaleSnapshot.
func (m *Manager) ApplySnapshot(snap domain.BookSnapshot) error {
	m.mu.Lock()
	if m.synced && snap.Sequence != 0 && snap.Sequence <= m.lastSeq {
		last := m.lastSeq
		m.mu.Unlock()
		return fmt.Errorf("marketdata: %s snapshot seq %d <= %d: %w",
			m.symbol, snap.Sequence, last, domain.ErrStaleSnapshot)
	}
	if err := m.book.ApplySnapshot(snap.Bids, snap.Asks); err != nil {
		m.rejected++
		m.mu.Unlock()
		return fmt.Errorf("marketdata: %s apply snapshot: %w", m.symbol, err)
	}
	m.lastSeq = snap.Sequence
	m.synced = true
	m.needsResync = false
	m.snapshots++
	metrics, handlers := m.afterUpdate(snap.Timestamp)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(metrics)
	}
	return nil
}

// ApplyDelta merges an incremental update. Deltas are refused until a
// snapshot has been applied. A sequenced delta that does not directly follow
// the last update marks the book for resync and returns domain.ErrSequenceGap.
func (m *Manager) ApplyDelta(delta domain.BookDelta) error {
	m.mu.Lock()
	if !m.synced {
		m.mu.Unlock()
		return fmt.Errorf("marketdata: %s delta seq %d: %w", m.symbol, delta.Sequence, domain.ErrNotSynced)
	}
	if delta.Sequence != 0 && m.lastSeq != 0 && delta.Sequence != m.lastSeq+1 {
		expected := m.lastSeq + 1
		m.gaps++
		m.synced = false
		m.needsResync = true
		handlers := append([]func(string, int64, int64){}, m.onGap...)
		m.mu.Unlock()

		m.logger.Warn("marketdata: sequence gap",
			slog.Int64("expected", expected),
			slog.Int64("got", delta.Sequence),
		)
		for _, fn := range handlers {
			fn(m.symbol, expected, delta.Sequence)
		}
		return fmt.Errorf("marketdata: %s expected seq %d, got %d: %w",
			m.symbol, expected, delta.Sequence, domain.ErrSequenceGap)
	}
	if err := m.book.ApplyDelta(delta.Bids, delta.Asks); err != nil {
		m.rejected++
		m.mu.Unlock()
		return fmt.Errorf("marketdata: %s apply delta: %w", m.symbol, err)
	}
	if delta.Sequence != 0 {
		m.lastSeq = delta.Sequence
	}
	m.deltas++
	metrics, handlers := m.afterUpdate(delta.Timestamp)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(metrics)
	}
	return nil
}

// afterUpdate records bookkeeping for an applied update. Caller holds mu.
func (m *Manager) afterUpdate(ts time.Time) (domain.BookMetrics, []func(domain.BookMetrics)) {
	if ts.IsZero() {
		ts = m.now()
	}
	m.updates++
	m.lastUpdate = ts
	if mid, ok := m.book.Mid(); ok {
		m.mids.add(mid)
	}
	if m.book.IsCrossed() {
		m.crossed++
		bid, _ := m.book.BestBid()
		ask, _ := m.book.BestAsk()
		m.logger.Warn("marketdata: crossed book",
			slog.Float64("best_bid", bid.Price),
			slog.Float64("best_ask", ask.Price),
		)
	}
	if len(m.onUpdate) == 0 {
		return domain.BookMetrics{}, nil
	}
	return m.metricsLocked(m.cfg.ImbalanceDepth), append([]func(domain.BookMetrics){}, m.onUpdate...)
}

// Metrics computes the current derived metrics with imbalance over depth
// levels.
func (m *Manager) Metrics(depth int) domain.BookMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metricsLocked(depth)
}

func (m *Manager) metricsLocked(depth int) domain.BookMetrics {
	b := m.book
	out := domain.BookMetrics{
		Symbol:    m.symbol,
		Sequence:  m.lastSeq,
		Imbalance: b.Imbalance(depth),
		Depth:     depth,
		Crossed:   b.IsCrossed(),
		Timestamp: m.lastUpdate,
	}
	if bid, ok := b.BestBid(); ok {
		out.BestBid = &bid
	}
	if ask, ok := b.BestAsk(); ok {
		out.BestAsk = &ask
	}
	out.Mid = domain.Float(b.Mid())
	out.Microprice = domain.Float(b.Microprice())
	out.Spread = domain.Float(b.Spread())
	out.SpreadBps = domain.Float(b.SpreadBps())
	out.Volatility = domain.Float(m.mids.volatility(m.cfg.VolatilityLookback))
	return out
}

// View copies the top depth levels of each side, capped at MaxDepth.
func (m *Manager) View(depth int) domain.BookSnapshot {
	if depth <= 0 || depth > m.cfg.MaxDepth {
		depth = m.cfg.MaxDepth
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	bids, asks := m.book.Snapshot(depth)
	return domain.BookSnapshot{
		Symbol:    m.symbol,
		Sequence:  m.lastSeq,
		Bids:      bids,
		Asks:      asks,
		Timestamp: m.lastUpdate,
	}
}

// Stats returns the running counters.
func (m *Manager) Stats() domain.BookStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.BookStats{
		Symbol:      m.symbol,
		Updates:     m.updates,
		Snapshots:   m.snapshots,
		Deltas:      m.deltas,
		Gaps:        m.gaps,
		Rejected:    m.rejected,
		Crossed:     m.crossed,
		Synced:      m.synced,
		NeedsResync: m.needsResync,
		LastSeq:     m.lastSeq,
		LastUpdate:  m.lastUpdate,
		BidLevels:   m.book.Len(book.Bid),
		AskLevels:   m.book.Len(book.Ask),
	}
}

// Volatility is the standard deviation of recent mid returns.
func (m *Manager) Volatility() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mids.volatility(m.cfg.VolatilityLookback)
}

// Validate runs the book's integrity check.
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.book.Validate(); err != nil {
		return fmt.Errorf("marketdata: %s: %w", m.symbol, err)
	}
	return nil
}

// Reset clears the book and all sequencing state. Counters are kept.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book.Clear()
	m.mids.reset()
	m.lastSeq = 0
	m.synced = false
	m.needsResync = false
}

// NeedsResync reports whether a gap was detected since the last snapshot.
func (m *Manager) NeedsResync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.needsResync
}
