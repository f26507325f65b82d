package book

import (
	"cmp"
	"fmt"
	"iter"
	"math"

	"github.com/alanyoungcy/l2book/internal/domain"
	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
)

// Side identifies one half of the book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// compare orders two ticks so that the best price comes first.
func (s Side) compare(a, b int64) int {
	if s == Bid {
		return cmp.Compare(b, a)
	}
	return cmp.Compare(a, b)
}

// Levels holds one side's price levels keyed by tick, iterated best first:
// bids by descending price, asks by ascending price.
type Levels struct {
	side  Side
	scale TickScale
	tree  *rbt.Tree[int64, domain.PriceLevel]
}

// NewLevels returns an empty store for side. An invalid scale falls back to
// DefaultScale.
func NewLevels(side Side, scale TickScale) *Levels {
	if !scale.valid() {
		scale = DefaultScale
	}
	return &Levels{
		side:  side,
		scale: scale,
		tree:  rbt.NewWith[int64, domain.PriceLevel](side.compare),
	}
}

// Side returns which side this store holds.
func (l *Levels) Side() Side { return l.side }

// Upsert inserts or replaces the level at price.
func (l *Levels) Upsert(price, size float64) error {
	if math.IsInf(size, 1) {
		return &InvalidSizeError{Side: l.side, Index: -1, Price: price, Size: size}
	}
	if !(size > 0) {
		return ErrNonPositiveSize
	}
	ticks, ok := l.scale.ToTicks(price)
	if !ok {
		return &InvalidPriceError{Side: l.side, Index: -1, Price: price}
	}
	l.put(ticks, size)
	return nil
}

// Remove deletes the level at price. Removing an absent level is a no-op.
func (l *Levels) Remove(price float64) error {
	ticks, ok := l.scale.ToTicks(price)
	if !ok {
		return &InvalidPriceError{Side: l.side, Index: -1, Price: price}
	}
	l.tree.Remove(ticks)
	return nil
}

// Clear empties the store.
func (l *Levels) Clear() { l.tree.Clear() }

// Len returns the number of levels.
func (l *Levels) Len() int { return l.tree.Size() }

// Best returns the first level in canonical order.
func (l *Levels) Best() (domain.PriceLevel, bool) {
	node := l.tree.Left()
	if node == nil {
		return domain.PriceLevel{}, false
	}
	return node.Value, true
}

// All yields (price, size) pairs best first. The sequence may be ranged over
// any number of times; it must not outlive a mutation of the store.
func (l *Levels) All() iter.Seq2[float64, float64] {
	return func(yield func(float64, float64) bool) {
		it := l.tree.Iterator()
		for it.Next() {
			lvl := it.Value()
			if !yield(lvl.Price, lvl.Size) {
				return
			}
		}
	}
}

// Top returns copies of the first n levels, or fewer if the store is
// shallower. n <= 0 returns an empty slice.
func (l *Levels) Top(n int) []domain.PriceLevel {
	if n <= 0 {
		return []domain.PriceLevel{}
	}
	out := make([]domain.PriceLevel, 0, min(n, l.tree.Size()))
	for price, size := range l.All() {
		if len(out) == n {
			break
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// Volume sums the sizes of the first depth levels.
func (l *Levels) Volume(depth int) float64 {
	var total float64
	if depth <= 0 {
		return total
	}
	n := 0
	for _, size := range l.All() {
		if n == depth {
			break
		}
		total += size
		n++
	}
	return total
}

func (l *Levels) put(ticks int64, size float64) {
	l.tree.Put(ticks, domain.PriceLevel{Price: l.scale.ToPrice(ticks), Size: size})
}

func (l *Levels) remove(ticks int64) {
	l.tree.Remove(ticks)
}

// validate walks the tree and reports the first broken invariant.
func (l *Levels) validate() error {
	it := l.tree.Iterator()
	first := true
	var prev int64
	for it.Next() {
		ticks, lvl := it.Key(), it.Value()
		if !first && l.side.compare(prev, ticks) >= 0 {
			return fmt.Errorf("%w: %s ticks %d not after %d", ErrCorrupt, l.side, ticks, prev)
		}
		if !(lvl.Size > 0) {
			return fmt.Errorf("%w: %s level %v has size %v", ErrCorrupt, l.side, lvl.Price, lvl.Size)
		}
		if math.IsNaN(lvl.Price) || math.IsInf(lvl.Price, 0) {
			return fmt.Errorf("%w: %s level has price %v", ErrCorrupt, l.side, lvl.Price)
		}
		prev, first = ticks, false
	}
	return nil
}
