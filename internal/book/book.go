// Package book implements an aggregated (L2) limit order book with
// fixed-point price keys and incrementally sorted sides.
//
// A Book is not safe for concurrent use. Callers that share one across
// goroutines must serialize access themselves.
package book

import (
	"math"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// Book owns one bid store and one ask store.
type Book struct {
	scale TickScale
	bids  *Levels
	asks  *Levels
}

// New returns an empty book that keys prices with scale. An invalid scale
// falls back to DefaultScale.
func New(scale TickScale) *Book {
	if !scale.valid() {
		scale = DefaultScale
	}
	return &Book{
		scale: scale,
		bids:  NewLevels(Bid, scale),
		asks:  NewLevels(Ask, scale),
	}
}

// Scale returns the tick scale used for price keys.
func (b *Book) Scale() TickScale { return b.scale }

// Bids returns the bid store.
func (b *Book) Bids() *Levels { return b.bids }

// Asks returns the ask store.
func (b *Book) Asks() *Levels { return b.asks }

func (b *Book) side(s Side) *Levels {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// Clear empties both sides.
func (b *Book) Clear() {
	b.bids.Clear()
	b.asks.Clear()
}

type entry struct {
	ticks int64
	size  float64
}

// prepare converts one side of a batch to ticks. Nothing is mutated, so a
// failure here leaves the book exactly as it was. With dropEmpty set,
// entries whose size is not > 0 are discarded before they are checked.
func (b *Book) prepare(side Side, levels []domain.PriceLevel, dropEmpty bool) ([]entry, error) {
	out := make([]entry, 0, len(levels))
	for i, lvl := range levels {
		if dropEmpty && !(lvl.Size > 0) {
			continue
		}
		ticks, ok := b.scale.ToTicks(lvl.Price)
		if !ok {
			return nil, &InvalidPriceError{Side: side, Index: i, Price: lvl.Price}
		}
		if math.IsInf(lvl.Size, 1) {
			return nil, &InvalidSizeError{Side: side, Index: i, Price: lvl.Price, Size: lvl.Size}
		}
		out = append(out, entry{ticks: ticks, size: lvl.Size})
	}
	return out, nil
}

func (b *Book) prepareBatch(bids, asks []domain.PriceLevel, dropEmpty bool) ([]entry, []entry, error) {
	be, err := b.prepare(Bid, bids, dropEmpty)
	if err != nil {
		return nil, nil, err
	}
	ae, err := b.prepare(Ask, asks, dropEmpty)
	if err != nil {
		return nil, nil, err
	}
	return be, ae, nil
}

// ApplySnapshot replaces both sides. Entries with size <= 0 are discarded
// first and the last entry for a repeated price wins. If a surviving price
// is not finite or not on the tick grid the whole batch is rejected with
// *InvalidPriceError and the book is unchanged. A surviving +Inf size is
// rejected the same way with *InvalidSizeError.
func (b *Book) ApplySnapshot(bids, asks []domain.PriceLevel) error {
	be, ae, err := b.prepareBatch(bids, asks, true)
	if err != nil {
		return err
	}
	b.bids.Clear()
	b.asks.Clear()
	load(b.bids, be)
	load(b.asks, ae)
	return nil
}

// ApplyDelta merges entries in input order: size > 0 sets the level, size <= 0
// removes it. Removing an absent level is a no-op. Every entry is checked,
// removals included: a bad price fails the batch with *InvalidPriceError and
// a +Inf size with *InvalidSizeError, leaving the book unchanged.
func (b *Book) ApplyDelta(bids, asks []domain.PriceLevel) error {
	be, ae, err := b.prepareBatch(bids, asks, false)
	if err != nil {
		return err
	}
	merge(b.bids, be)
	merge(b.asks, ae)
	return nil
}

func load(l *Levels, entries []entry) {
	for _, e := range entries {
		if e.size > 0 {
			l.put(e.ticks, e.size)
		}
	}
}

func merge(l *Levels, entries []entry) {
	for _, e := range entries {
		if e.size > 0 {
			l.put(e.ticks, e.size)
		} else {
			l.remove(e.ticks)
		}
	}
}

// Validate checks ordering, positive sizes and finite prices on both sides.
func (b *Book) Validate() error {
	if err := b.bids.validate(); err != nil {
		return err
	}
	return b.asks.validate()
}

// Snapshot copies the first depth levels of each side.
func (b *Book) Snapshot(depth int) (bids, asks []domain.PriceLevel) {
	return b.bids.Top(depth), b.asks.Top(depth)
}
