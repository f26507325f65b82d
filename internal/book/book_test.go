package book

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lv(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{Price: price, Size: size}
}

func levelsOf(l *Levels) []domain.PriceLevel {
	out := []domain.PriceLevel{}
	for p, s := range l.All() {
		out = append(out, lv(p, s))
	}
	return out
}

func seededBook(t *testing.T) *Book {
	t.Helper()
	b := New(DefaultScale)
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lv(100, 2), lv(101, 5)},
		[]domain.PriceLevel{lv(102, 3), lv(103, 1)},
	))
	return b
}

func TestSnapshotScenario(t *testing.T) {
	b := seededBook(t)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, lv(101, 5), bid)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, lv(102, 3), ask)

	mid, ok := b.Mid()
	require.True(t, ok)
	assert.InDelta(t, 101.5, mid, 1e-12)

	micro, ok := b.Microprice()
	require.True(t, ok)
	assert.InDelta(t, 101.625, micro, 1e-12)

	assert.InDelta(t, 0.25, b.Imbalance(1), 1e-12)
}

func TestDeltaRemovesBestBid(t *testing.T) {
	b := seededBook(t)
	require.NoError(t, b.ApplyDelta([]domain.PriceLevel{lv(101, 0)}, nil))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, lv(100, 2), bid)
	assert.Equal(t, 1, b.Len(Bid))
}

func TestEmptyBook(t *testing.T) {
	b := New(DefaultScale)

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	_, ok = b.Mid()
	assert.False(t, ok)
	_, ok = b.Microprice()
	assert.False(t, ok)
	_, ok = b.Spread()
	assert.False(t, ok)
	assert.Equal(t, 0.0, b.Imbalance(5))
	assert.False(t, b.IsCrossed())
}

func TestSnapshotOrdersAndFilters(t *testing.T) {
	b := New(DefaultScale)
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lv(99, 1), lv(101, 2), lv(100, 0), lv(98, -1), lv(100.5, 4)},
		[]domain.PriceLevel{lv(105, 1), lv(102, 2), lv(103, 0)},
	))

	assert.Equal(t, []domain.PriceLevel{lv(101, 2), lv(100.5, 4), lv(99, 1)}, levelsOf(b.Bids()))
	assert.Equal(t, []domain.PriceLevel{lv(102, 2), lv(105, 1)}, levelsOf(b.Asks()))
}

func TestSnapshotLastDuplicateWins(t *testing.T) {
	b := New(DefaultScale)
	require.NoError(t, b.ApplySnapshot(
		[]domain.PriceLevel{lv(100, 1), lv(100, 7), lv(99, 2)},
		[]domain.PriceLevel{lv(101, 3), lv(101, 0)},
	))

	assert.Equal(t, []domain.PriceLevel{lv(100, 7), lv(99, 2)}, levelsOf(b.Bids()))
	// the zero-size duplicate is discarded before deduplication
	assert.Equal(t, []domain.PriceLevel{lv(101, 3)}, levelsOf(b.Asks()))
}

func TestSnapshotReplacesPreviousState(t *testing.T) {
	b := seededBook(t)
	require.NoError(t, b.ApplySnapshot([]domain.PriceLevel{lv(50, 1)}, nil))

	assert.Equal(t, []domain.PriceLevel{lv(50, 1)}, levelsOf(b.Bids()))
	assert.Equal(t, 0, b.Len(Ask))
}

func TestSnapshotIdempotent(t *testing.T) {
	bids := []domain.PriceLevel{lv(10, 1), lv(11, 2), lv(9, 3)}
	asks := []domain.PriceLevel{lv(12, 1), lv(13, 2)}

	b := New(DefaultScale)
	require.NoError(t, b.ApplySnapshot(bids, asks))
	first := levelsOf(b.Bids())
	firstAsks := levelsOf(b.Asks())

	require.NoError(t, b.ApplySnapshot(bids, asks))
	assert.Equal(t, first, levelsOf(b.Bids()))
	assert.Equal(t, firstAsks, levelsOf(b.Asks()))
}

func TestDeltaUpsertAndReplace(t *testing.T) {
	b := seededBook(t)
	require.NoError(t, b.ApplyDelta(
		[]domain.PriceLevel{lv(100.5, 4), lv(100, 9)},
		[]domain.PriceLevel{lv(102, 0), lv(104, 2)},
	))

	assert.Equal(t, []domain.PriceLevel{lv(101, 5), lv(100.5, 4), lv(100, 9)}, levelsOf(b.Bids()))
	assert.Equal(t, []domain.PriceLevel{lv(103, 1), lv(104, 2)}, levelsOf(b.Asks()))
}

func TestDeltaAppliesInInputOrder(t *testing.T) {
	b := New(DefaultScale)
	require.NoError(t, b.ApplyDelta([]domain.PriceLevel{lv(100, 1), lv(100, 0), lv(100, 3)}, nil))
	assert.Equal(t, []domain.PriceLevel{lv(100, 3)}, levelsOf(b.Bids()))

	require.NoError(t, b.ApplyDelta([]domain.PriceLevel{lv(100, 2), lv(100, 0)}, nil))
	assert.Equal(t, 0, b.Len(Bid))
}

func TestDeltaRemoveAbsentIsNoop(t *testing.T) {
	b := seededBook(t)
	before := levelsOf(b.Bids())

	require.NoError(t, b.ApplyDelta([]domain.PriceLevel{lv(42, 0), lv(43, -5)}, nil))
	assert.Equal(t, before, levelsOf(b.Bids()))
}

func assertBatchRejected(t *testing.T, price float64) {
	t.Helper()
	b := seededBook(t)
	bids, asks := levelsOf(b.Bids()), levelsOf(b.Asks())

	err := b.ApplySnapshot([]domain.PriceLevel{lv(1, 1)}, []domain.PriceLevel{lv(2, 1), lv(price, 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	var ipe *InvalidPriceError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, Ask, ipe.Side)
	assert.Equal(t, 1, ipe.Index)

	err = b.ApplyDelta([]domain.PriceLevel{lv(99, 1), lv(price, 0)}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	assert.Equal(t, bids, levelsOf(b.Bids()), "price %v", price)
	assert.Equal(t, asks, levelsOf(b.Asks()), "price %v", price)
}

func TestRejectsNonFinitePrices(t *testing.T) {
	for _, price := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assertBatchRejected(t, price)
	}
}

func TestRejectsUnrepresentablePrice(t *testing.T) {
	// finite, but beyond an int64 tick count at the default scale
	assertBatchRejected(t, 1e300)
}

func TestSnapshotSkipsDiscardedEntriesBeforeChecking(t *testing.T) {
	b := New(DefaultScale)
	err := b.ApplySnapshot(
		[]domain.PriceLevel{lv(math.NaN(), 0), lv(100, 1), lv(math.Inf(1), -1)},
		[]domain.PriceLevel{lv(math.Inf(-1), math.NaN()), lv(101, math.Inf(-1))},
	)
	require.NoError(t, err)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, lv(100, 1), bid)
	assert.Equal(t, 0, b.Len(Ask))
}

func TestDeltaChecksRemovalPrices(t *testing.T) {
	b := seededBook(t)
	err := b.ApplyDelta([]domain.PriceLevel{lv(math.NaN(), 0)}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, 2, b.Len(Bid))
}

func TestRejectsInfiniteSize(t *testing.T) {
	b := seededBook(t)
	err := b.ApplyDelta([]domain.PriceLevel{lv(99, math.Inf(1))}, nil)
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.Equal(t, 2, b.Len(Bid))

	err = b.ApplySnapshot(nil, []domain.PriceLevel{lv(104, 1), lv(105, math.Inf(1))})
	var ise *InvalidSizeError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, Ask, ise.Side)
	assert.Equal(t, 1, ise.Index)
	assert.NotErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, 2, b.Len(Bid))
	assert.Equal(t, 2, b.Len(Ask))
}

func TestNaNSizeIsTreatedAsRemoval(t *testing.T) {
	b := seededBook(t)
	require.NoError(t, b.ApplyDelta([]domain.PriceLevel{lv(101, math.NaN())}, nil))

	bid, _ := b.BestBid()
	assert.Equal(t, lv(100, 2), bid)
}

func TestClear(t *testing.T) {
	b := seededBook(t)
	b.Clear()
	assert.Equal(t, 0, b.Len(Bid))
	assert.Equal(t, 0, b.Len(Ask))
}

func TestRejectsOffGridPrices(t *testing.T) {
	b := New(MustTickScale("0.01"))
	require.NoError(t, b.ApplySnapshot([]domain.PriceLevel{lv(0.12, 10)}, []domain.PriceLevel{lv(0.13, 4)}))

	err := b.ApplySnapshot(
		[]domain.PriceLevel{lv(0.12345, 10), lv(0.12346, 3)},
		[]domain.PriceLevel{lv(0.12351, 4)},
	)
	var ipe *InvalidPriceError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, Bid, ipe.Side)
	assert.Equal(t, 0, ipe.Index)

	err = b.ApplyDelta([]domain.PriceLevel{lv(100.001, 1)}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	assert.Equal(t, []domain.PriceLevel{lv(0.12, 10)}, levelsOf(b.Bids()))
	assert.Equal(t, []domain.PriceLevel{lv(0.13, 4)}, levelsOf(b.Asks()))
	assert.False(t, b.IsCrossed())
}

func TestSubTickPriceIsNotZero(t *testing.T) {
	b := New(DefaultScale)
	err := b.ApplyDelta([]domain.PriceLevel{lv(1e-9, 1), lv(2e-9, 1)}, nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, 0, b.Len(Bid))
}

func TestFloatNoiseStaysOnGrid(t *testing.T) {
	b := New(MustTickScale("0.1"))
	require.NoError(t, b.ApplyDelta([]domain.PriceLevel{lv(0.1+0.2, 1), lv(0.3, 2)}, nil))
	assert.Equal(t, []domain.PriceLevel{lv(0.3, 2)}, levelsOf(b.Bids()))
}

func TestZeroScaleFallsBackToDefault(t *testing.T) {
	b := New(TickScale{})
	assert.Equal(t, DefaultScale.String(), b.Scale().String())
	require.NoError(t, b.ApplyDelta([]domain.PriceLevel{lv(1.5, 1)}, nil))
}

func TestValidate(t *testing.T) {
	b := seededBook(t)
	assert.NoError(t, b.Validate())
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New(MustTickScale("0.5"))

	randomSide := func() []domain.PriceLevel {
		n := rng.Intn(12)
		out := make([]domain.PriceLevel, n)
		for i := range out {
			size := float64(rng.Intn(5)) - 1
			out[i] = lv(float64(90+rng.Intn(40))/2, size)
		}
		return out
	}

	for i := 0; i < 500; i++ {
		var err error
		if rng.Intn(10) == 0 {
			err = b.ApplySnapshot(randomSide(), randomSide())
		} else {
			err = b.ApplyDelta(randomSide(), randomSide())
		}
		require.NoError(t, err)
		require.NoError(t, b.Validate())

		prev := math.Inf(1)
		for p, s := range b.Bids().All() {
			require.Less(t, p, prev)
			require.Greater(t, s, 0.0)
			prev = p
		}
		prev = math.Inf(-1)
		for p, s := range b.Asks().All() {
			require.Greater(t, p, prev)
			require.Greater(t, s, 0.0)
			prev = p
		}
	}
}
