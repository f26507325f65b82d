package book

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPrice matches every *InvalidPriceError under errors.Is.
	ErrInvalidPrice = errors.New("book: invalid price")
	// ErrInvalidSize matches every *InvalidSizeError under errors.Is.
	ErrInvalidSize = errors.New("book: invalid size")
	// ErrNonPositiveSize is returned by Levels.Upsert for size <= 0.
	ErrNonPositiveSize = errors.New("book: size must be positive")
	// ErrCorrupt is returned by Validate when a store breaks an invariant.
	ErrCorrupt = errors.New("book: integrity check failed")
)

// InvalidPriceError reports a non-finite, off-grid or unrepresentable price. Index is
// the position of the offending entry in its side's input, or -1 when the
// price came from a single-level call.
type InvalidPriceError struct {
	Side  Side
	Index int
	Price float64
}

func (e *InvalidPriceError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("book: invalid %s price %v", e.Side, e.Price)
	}
	return fmt.Sprintf("book: invalid %s price %v at index %d", e.Side, e.Price, e.Index)
}

func (e *InvalidPriceError) Is(target error) bool {
	return target == ErrInvalidPrice
}

// InvalidSizeError reports a +Inf size. It rejects a batch exactly like
// InvalidPriceError does.
type InvalidSizeError struct {
	Side  Side
	Index int
	Price float64
	Size  float64
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("book: invalid %s size %v at price %v (index %d)", e.Side, e.Size, e.Price, e.Index)
}

func (e *InvalidSizeError) Is(target error) bool {
	return target == ErrInvalidSize
}
