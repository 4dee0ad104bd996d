// Package memlist provides an observable in-memory OrderedCollection.
package memlist

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhangzqs/pagedlist-go"
)

var (
	// ErrInvalidated is returned when mutating a list after Invalidate.
	ErrInvalidated = errors.New("memlist: list invalidated")
	// ErrOutOfRange is returned for indexes outside the list.
	ErrOutOfRange = errors.New("memlist: index out of range")
)

// Option configures a List.
type Option func(*options)

type options struct {
	executor pagedlist.Executor
	now      func() time.Time
}

// WithExecutor delivers change sets on executor instead of the mutating
// goroutine.
func WithExecutor(executor pagedlist.Executor) Option {
	return func(o *options) { o.executor = executor }
}

// WithClock overrides the clock used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// List is a slice guarded by a mutex that publishes a ChangeSet for every
// mutation. It is safe for concurrent use.
//
// Subscribers called synchronously must not mutate the list they observe.
type List[V any] struct {
	// publishMu orders mutations with their notifications; mu guards the
	// data so reads never wait for subscribers.
	publishMu sync.Mutex
	mu        sync.RWMutex
	items     []V
	valid     bool
	updated   time.Time

	now  func() time.Time
	feed *pagedlist.ChangeFeed
}

// New returns a list holding a copy of items.
func New[V any](items []V, opts ...Option) *List[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &List[V]{
		items: append([]V(nil), items...),
		valid: true,
		now:   o.now,
		feed:  pagedlist.NewChangeFeed(o.executor),
	}
}

func (l *List[V]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *List[V]) At(index int) (V, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.items) {
		var zero V
		return zero, false
	}
	return l.items[index], true
}

func (l *List[V]) IsValid() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.valid
}

func (l *List[V]) Subscribe(fn func(pagedlist.ChangeSet)) func() {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()
	return l.feed.Subscribe(l.Len(), fn)
}

// Items returns a copy of the current items.
func (l *List[V]) Items() []V {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]V(nil), l.items...)
}

// LastUpdated returns the time of the last Replace, Append or Prepend, or the
// zero time if there was none.
func (l *List[V]) LastUpdated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updated
}

// Append adds items at the end.
func (l *List[V]) Append(items ...V) error {
	return l.mutate(func() (pagedlist.ChangeSet, error) {
		start := len(l.items)
		l.items = append(l.items, items...)
		l.updated = l.now()
		return insertion(start, len(items)), nil
	})
}

// Prepend adds items at the front.
func (l *List[V]) Prepend(items ...V) error {
	return l.mutate(func() (pagedlist.ChangeSet, error) {
		l.items = append(append(make([]V, 0, len(items)+len(l.items)), items...), l.items...)
		l.updated = l.now()
		return insertion(0, len(items)), nil
	})
}

// Insert adds items before index.
func (l *List[V]) Insert(index int, items ...V) error {
	return l.mutate(func() (pagedlist.ChangeSet, error) {
		if index < 0 || index > len(l.items) {
			return pagedlist.ChangeSet{}, fmt.Errorf("%w: insert at %d of %d", ErrOutOfRange, index, len(l.items))
		}
		tail := append([]V(nil), l.items[index:]...)
		l.items = append(append(l.items[:index], items...), tail...)
		return insertion(index, len(items)), nil
	})
}

// Remove deletes count items starting at index.
func (l *List[V]) Remove(index, count int) error {
	return l.mutate(func() (pagedlist.ChangeSet, error) {
		if index < 0 || count < 0 || index+count > len(l.items) {
			return pagedlist.ChangeSet{}, fmt.Errorf("%w: remove [%d,%d) of %d", ErrOutOfRange, index, index+count, len(l.items))
		}
		l.items = append(l.items[:index], l.items[index+count:]...)
		if count == 0 {
			return pagedlist.ChangeSet{}, nil
		}
		return pagedlist.ChangeSet{Deletions: []pagedlist.Range{{Start: index, Length: count}}}, nil
	})
}

// Set replaces the item at index.
func (l *List[V]) Set(index int, item V) error {
	return l.mutate(func() (pagedlist.ChangeSet, error) {
		if index < 0 || index >= len(l.items) {
			return pagedlist.ChangeSet{}, fmt.Errorf("%w: set %d of %d", ErrOutOfRange, index, len(l.items))
		}
		l.items[index] = item
		return pagedlist.ChangeSet{Changes: []pagedlist.Range{{Start: index, Length: 1}}}, nil
	})
}

// Replace swaps the whole content for items.
func (l *List[V]) Replace(items ...V) error {
	return l.mutate(func() (pagedlist.ChangeSet, error) {
		cs := pagedlist.ChangeSet{}
		if n := len(l.items); n > 0 {
			cs.Deletions = []pagedlist.Range{{Start: 0, Length: n}}
		}
		if n := len(items); n > 0 {
			cs.Insertions = []pagedlist.Range{{Start: 0, Length: n}}
		}
		l.items = append([]V(nil), items...)
		l.updated = l.now()
		return cs, nil
	})
}

// Invalidate makes the list unreadable through IsValid and rejects further
// mutations.
func (l *List[V]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.valid = false
}

func (l *List[V]) mutate(fn func() (pagedlist.ChangeSet, error)) error {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	l.mu.Lock()
	if !l.valid {
		l.mu.Unlock()
		return ErrInvalidated
	}
	cs, err := fn()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.feed.Publish(cs)
	return nil
}

func insertion(start, length int) pagedlist.ChangeSet {
	if length == 0 {
		return pagedlist.ChangeSet{}
	}
	return pagedlist.ChangeSet{Insertions: []pagedlist.Range{{Start: start, Length: length}}}
}
