package marketdata

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/l2book/internal/book"
	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lv(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{Price: price, Size: size}
}

func newTestManager() *Manager {
	return NewManager("BTCUSDT", ManagerConfig{MaxDepth: 3}, slog.New(slog.DiscardHandler))
}

func snapshot(seq int64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:   "BTCUSDT",
		Sequence: seq,
		Bids:     []domain.PriceLevel{lv(100, 2), lv(101, 5)},
		Asks:     []domain.PriceLevel{lv(102, 3), lv(103, 1)},
	}
}

func TestManagerSnapshotThenDeltas(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ApplySnapshot(snapshot(10)))
	require.NoError(t, m.ApplyDelta(domain.BookDelta{Sequence: 11, Bids: []domain.PriceLevel{lv(101, 0)}}))

	metrics := m.Metrics(1)
	require.NotNil(t, metrics.BestBid)
	assert.Equal(t, lv(100, 2), *metrics.BestBid)
	assert.Equal(t, int64(11), metrics.Sequence)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Updates)
	assert.Equal(t, int64(1), stats.Snapshots)
	assert.Equal(t, int64(1), stats.Deltas)
	assert.True(t, stats.Synced)
	assert.Equal(t, 1, stats.BidLevels)
	assert.Equal(t, 2, stats.AskLevels)
}

func TestManagerMetricsMatchBook(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ApplySnapshot(snapshot(1)))

	metrics := m.Metrics(1)
	require.NotNil(t, metrics.Mid)
	require.NotNil(t, metrics.Microprice)
	assert.InDelta(t, 101.5, *metrics.Mid, 1e-12)
	assert.InDelta(t, 101.625, *metrics.Microprice, 1e-12)
	assert.InDelta(t, 0.25, metrics.Imbalance, 1e-12)
	assert.InDelta(t, 1.0, *metrics.Spread, 1e-12)
	assert.Nil(t, metrics.Volatility)
	assert.False(t, metrics.Crossed)
}

func TestManagerRejectsDeltaBeforeSnapshot(t *testing.T) {
	m := newTestManager()
	err := m.ApplyDelta(domain.BookDelta{Sequence: 1, Bids: []domain.PriceLevel{lv(1, 1)}})
	assert.ErrorIs(t, err, domain.ErrNotSynced)
	assert.Equal(t, 0, m.Stats().BidLevels)
}

func TestManagerSequenceGap(t *testing.T) {
	m := newTestManager()
	var gotExpected, gotSeq int64
	m.OnGap(func(symbol string, expected, got int64) {
		assert.Equal(t, "BTCUSDT", symbol)
		gotExpected, gotSeq = expected, got
	})

	require.NoError(t, m.ApplySnapshot(snapshot(5)))
	err := m.ApplyDelta(domain.BookDelta{Sequence: 8, Bids: []domain.PriceLevel{lv(99, 1)}})
	assert.ErrorIs(t, err, domain.ErrSequenceGap)
	assert.Equal(t, int64(6), gotExpected)
	assert.Equal(t, int64(8), gotSeq)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Gaps)
	assert.True(t, stats.NeedsResync)
	assert.False(t, stats.Synced)
	assert.Equal(t, 2, stats.BidLevels, "gapped delta must not be applied")

	// further deltas wait for a snapshot
	err = m.ApplyDelta(domain.BookDelta{Sequence: 6})
	assert.ErrorIs(t, err, domain.ErrNotSynced)

	require.NoError(t, m.ApplySnapshot(snapshot(20)))
	assert.False(t, m.NeedsResync())
}

func TestManagerStaleSnapshot(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ApplySnapshot(snapshot(10)))

	err := m.ApplySnapshot(snapshot(10))
	assert.ErrorIs(t, err, domain.ErrStaleSnapshot)
	err = m.ApplySnapshot(snapshot(3))
	assert.ErrorIs(t, err, domain.ErrStaleSnapshot)

	// unsequenced snapshots are always accepted
	require.NoError(t, m.ApplySnapshot(snapshot(0)))
}

func TestManagerInvalidBatchCounted(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ApplySnapshot(snapshot(1)))

	err := m.ApplyDelta(domain.BookDelta{Sequence: 2, Asks: []domain.PriceLevel{lv(math.NaN(), 1)}})
	assert.ErrorIs(t, err, book.ErrInvalidPrice)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(1), stats.LastSeq)
	assert.Equal(t, 2, stats.AskLevels)
}

func TestManagerCrossedCounted(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ApplySnapshot(snapshot(1)))
	require.NoError(t, m.ApplyDelta(domain.BookDelta{Sequence: 2, Bids: []domain.PriceLevel{lv(102.5, 1)}}))

	assert.Equal(t, int64(1), m.Stats().Crossed)
	assert.True(t, m.Metrics(1).Crossed)
}

func TestManagerOnUpdate(t *testing.T) {
	m := newTestManager()
	var seen []domain.BookMetrics
	m.OnUpdate(func(bm domain.BookMetrics) { seen = append(seen, bm) })

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := snapshot(1)
	snap.Timestamp = ts
	require.NoError(t, m.ApplySnapshot(snap))

	require.Len(t, seen, 1)
	assert.Equal(t, "BTCUSDT", seen[0].Symbol)
	assert.Equal(t, ts, seen[0].Timestamp)
	assert.Equal(t, 5, seen[0].Depth)
}

func TestManagerViewCapsDepth(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ApplySnapshot(domain.BookSnapshot{
		Sequence: 1,
		Bids:     []domain.PriceLevel{lv(1, 1), lv(2, 1), lv(3, 1), lv(4, 1)},
	}))

	view := m.View(10)
	assert.Len(t, view.Bids, 3)
	assert.Equal(t, 4.0, view.Bids[0].Price)
	assert.Empty(t, view.Asks)

	assert.Len(t, m.View(2).Bids, 2)
}

func TestManagerVolatility(t *testing.T) {
	m := newTestManager()
	for i, mid := range []float64{100, 101, 100, 101} {
		require.NoError(t, m.ApplySnapshot(domain.BookSnapshot{
			Sequence: int64(i + 1),
			Bids:     []domain.PriceLevel{lv(mid-0.5, 1)},
			Asks:     []domain.PriceLevel{lv(mid+0.5, 1)},
		}))
	}

	vol, ok := m.Volatility()
	require.True(t, ok)
	assert.Greater(t, vol, 0.0)
}

func TestManagerReset(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.ApplySnapshot(snapshot(5)))
	m.Reset()

	stats := m.Stats()
	assert.False(t, stats.Synced)
	assert.Equal(t, int64(0), stats.LastSeq)
	assert.Equal(t, 0, stats.BidLevels)
	assert.NoError(t, m.Validate())

	// a reset book accepts any snapshot again
	require.NoError(t, m.ApplySnapshot(snapshot(1)))
}
