package pagedlist

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// token is the one-shot core shared by all load callbacks.
type token struct {
	resolved atomic.Bool
	kind     ResultType
	strict   bool
	logger   zerolog.Logger
}

// claim consumes the token for loadedCount. A negative count is rejected
// without consuming the token so the loader can still report a proper result.
func (t *token) claim(loadedCount int) error {
	if loadedCount < invalidLoadedCount {
		return t.violation(fmt.Errorf("%w: %d", ErrNegativeLoadedCount, loadedCount))
	}
	if !t.resolved.CompareAndSwap(false, true) {
		return t.violation(ErrCallbackResolved)
	}
	return nil
}

func (t *token) violation(err error) error {
	t.logger.Error().Err(err).Stringer("type", t.kind).Msg("load callback protocol violation")
	if t.strict {
		panic(err)
	}
	return err
}

// InitialCallback receives the result of a page-keyed initial load. It must be
// resolved exactly once.
type InitialCallback[K any] struct {
	token
	deliver func(loadedCount int, previousPageKey, nextPageKey *K)
}

// OnResult reports loadedCount items together with the keys of the pages
// before and after the loaded one. A nil key means there is no data in that
// direction. A loadedCount of -1 reports that the source became invalid.
func (c *InitialCallback[K]) OnResult(loadedCount int, previousPageKey, nextPageKey *K) error {
	if err := c.claim(loadedCount); err != nil {
		return err
	}
	c.deliver(loadedCount, previousPageKey, nextPageKey)
	return nil
}

// Resolved reports whether OnResult has been accepted.
func (c *InitialCallback[K]) Resolved() bool { return c.resolved.Load() }

// LoadCallback receives the result of a page-keyed LoadBefore or LoadAfter.
// It must be resolved exactly once.
type LoadCallback[K any] struct {
	token
	deliver func(loadedCount int, adjacentPageKey *K)
}

// OnResult reports loadedCount items and the key of the next page in the
// direction of the load, or nil when that direction is exhausted.
func (c *LoadCallback[K]) OnResult(loadedCount int, adjacentPageKey *K) error {
	if err := c.claim(loadedCount); err != nil {
		return err
	}
	c.deliver(loadedCount, adjacentPageKey)
	return nil
}

// Resolved reports whether OnResult has been accepted.
func (c *LoadCallback[K]) Resolved() bool { return c.resolved.Load() }

// ResultCallback receives the result of an item-keyed load.
type ResultCallback struct {
	token
	deliver func(loadedCount int)
}

// OnResult reports loadedCount items.
func (c *ResultCallback) OnResult(loadedCount int) error {
	if err := c.claim(loadedCount); err != nil {
		return err
	}
	c.deliver(loadedCount)
	return nil
}

// Resolved reports whether OnResult has been accepted.
func (c *ResultCallback) Resolved() bool { return c.resolved.Load() }
