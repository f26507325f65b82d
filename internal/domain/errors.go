package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrSequenceGap     = errors.New("sequence gap")
	ErrStaleSnapshot   = errors.New("stale snapshot")
	ErrNotSynced       = errors.New("book not synced")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLockNotAcquired = errors.New("lock not acquired")
)
