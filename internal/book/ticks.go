package book

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultTickSize is the price increment used when none is configured.
const DefaultTickSize = "0.00000001"

// DefaultScale converts prices with DefaultTickSize.
var DefaultScale = MustTickScale(DefaultTickSize)

var (
	maxTicks = decimal.NewFromInt(math.MaxInt64)
	minTicks = decimal.NewFromInt(math.MinInt64)

	// gridTolerance is how far off the grid a price may sit, as a fraction
	// of one tick. It absorbs float noise such as 0.1+0.2.
	gridTolerance = decimal.New(1, -6)
)

// TickScale converts float prices to fixed-point tick counts and back.
// Only prices on the tick grid are accepted, so distinct prices never share
// a level.
type TickScale struct {
	tick decimal.Decimal
}

// NewTickScale parses a decimal tick size such as "0.01".
func NewTickScale(tick string) (TickScale, error) {
	d, err := decimal.NewFromString(tick)
	if err != nil {
		return TickScale{}, fmt.Errorf("book: parse tick size %q: %w", tick, err)
	}
	if !d.IsPositive() {
		return TickScale{}, fmt.Errorf("book: tick size must be positive, got %s", tick)
	}
	return TickScale{tick: d}, nil
}

// MustTickScale is NewTickScale for constants; it panics on a bad tick.
func MustTickScale(tick string) TickScale {
	s, err := NewTickScale(tick)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the tick size in decimal notation.
func (s TickScale) String() string {
	return s.tick.String()
}

func (s TickScale) valid() bool {
	return s.tick.IsPositive()
}

// ToTicks returns the tick count of price. ok is false when price is NaN,
// infinite, too large for an int64 tick count, or not a multiple of the tick
// size.
func (s TickScale) ToTicks(price float64) (ticks int64, ok bool) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	d := decimal.NewFromFloat(price)
	q := d.DivRound(s.tick, 0)
	if q.GreaterThan(maxTicks) || q.LessThan(minTicks) {
		return 0, false
	}
	if d.Sub(q.Mul(s.tick)).Abs().GreaterThan(s.tick.Mul(gridTolerance)) {
		return 0, false
	}
	return q.IntPart(), true
}

// ToPrice returns the canonical float price of a tick count.
func (s TickScale) ToPrice(ticks int64) float64 {
	return decimal.NewFromInt(ticks).Mul(s.tick).InexactFloat64()
}
