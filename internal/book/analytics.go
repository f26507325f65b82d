package book

import "github.com/alanyoungcy/l2book/internal/domain"

// BestBid returns the highest bid.
func (b *Book) BestBid() (domain.PriceLevel, bool) { return b.bids.Best() }

// BestAsk returns the lowest ask.
func (b *Book) BestAsk() (domain.PriceLevel, bool) { return b.asks.Best() }

func (b *Book) bbo() (bid, ask domain.PriceLevel, ok bool) {
	bid, okb := b.bids.Best()
	ask, oka := b.asks.Best()
	return bid, ask, okb && oka
}

// Mid is the average of the best bid and ask. It is undefined unless both
// sides are present with strictly positive prices.
func (b *Book) Mid() (float64, bool) {
	bid, ask, ok := b.bbo()
	if !ok || bid.Price <= 0 || ask.Price <= 0 {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Microprice weights each best price by the opposite side's size, pulling
// the estimate toward the thinner side. It falls back to Mid when the
// combined size is zero or a side is empty.
func (b *Book) Microprice() (float64, bool) {
	bid, ask, ok := b.bbo()
	if !ok {
		return b.Mid()
	}
	total := bid.Size + ask.Size
	if total <= 0 {
		return b.Mid()
	}
	return bid.Price*(ask.Size/total) + ask.Price*(bid.Size/total), true
}

// Imbalance is (bidVol - askVol) / (bidVol + askVol) over the first depth
// levels of each side, in [-1, 1]. It is 0 when both volumes are zero.
func (b *Book) Imbalance(depth int) float64 {
	bidVol := b.bids.Volume(depth)
	askVol := b.asks.Volume(depth)
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// Spread is best ask minus best bid.
func (b *Book) Spread() (float64, bool) {
	bid, ask, ok := b.bbo()
	if !ok {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// SpreadBps is the spread in basis points of the mid.
func (b *Book) SpreadBps() (float64, bool) {
	spread, ok := b.Spread()
	if !ok {
		return 0, false
	}
	mid, ok := b.Mid()
	if !ok {
		return 0, false
	}
	return spread / mid * 10000, true
}

// IsCrossed reports a best bid at or above the best ask. The book accepts
// crossed states; callers decide how to react.
func (b *Book) IsCrossed() bool {
	bid, ask, ok := b.bbo()
	return ok && bid.Price >= ask.Price
}

// Depth sums size over the first levels of a side.
func (b *Book) Depth(s Side, levels int) float64 {
	return b.side(s).Volume(levels)
}

// Top returns copies of the first n levels of a side.
func (b *Book) Top(s Side, n int) []domain.PriceLevel {
	return b.side(s).Top(n)
}

// Len returns the number of levels on a side.
func (b *Book) Len(s Side) int {
	return b.side(s).Len()
}
