package pagedlist

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DataSource is a single generation of a keyed page loader. Once invalidated
// it stays invalid: the PagedList built on it detaches and a new generation
// has to be created from a Factory.
//
// The set of implementations is closed. Use NewPageKeyedDataSource or
// NewItemKeyedDataSource to build one.
type DataSource[K, V any] interface {
	// IsInvalid reports whether Invalidate has been called.
	IsInvalid() bool

	// Invalidate marks the source invalid. Only the first call has an effect:
	// it notifies every registered callback with key, which may be nil.
	Invalidate(key *K)

	// AddInvalidatedCallback registers fn to run when the source is
	// invalidated. The returned function unregisters it.
	AddInvalidatedCallback(fn func(key *K)) (remove func())

	dispatchLoadInitial(key *K, initialLoadSize, pageSize int, receiver pageReceiver)
	dispatchLoadBefore(position, currentItemsCount int, item V, pageSize int, receiver pageReceiver) bool
	dispatchLoadAfter(position, currentItemsCount int, item V, pageSize int, receiver pageReceiver) bool
	lastKey(position int, item V, hasItem bool) *K
}

// Factory creates DataSource generations.
type Factory[K, V any] interface {
	// Create returns a fresh, valid DataSource.
	Create() DataSource[K, V]
	// Destroy releases resources shared by all generations.
	Destroy()
}

// FactoryFunc adapts a function to Factory with a no-op Destroy.
type FactoryFunc[K, V any] func() DataSource[K, V]

func (f FactoryFunc[K, V]) Create() DataSource[K, V] { return f() }

func (f FactoryFunc[K, V]) Destroy() {}

// LoadInitialParams describes the first load of a generation.
type LoadInitialParams[K any] struct {
	// InitialKey is the key to start loading from, nil for the beginning.
	InitialKey *K
	// RequestedLoadSize is the number of items to load.
	RequestedLoadSize int
}

// LoadParams describes a load before or after the current window.
type LoadParams[K any] struct {
	Key               K
	RequestedLoadSize int
	// CurrentItemsCount is the window size when the load was dispatched.
	CurrentItemsCount int
}

// SourceOption configures a DataSource.
type SourceOption func(*sourceOptions)

type sourceOptions struct {
	logger zerolog.Logger
	strict bool
}

// WithStrict makes callback protocol violations panic instead of returning
// an error.
func WithStrict() SourceOption {
	return func(o *sourceOptions) { o.strict = true }
}

// WithLogger sets the logger used for protocol violations.
func WithLogger(logger zerolog.Logger) SourceOption {
	return func(o *sourceOptions) { o.logger = logger }
}

// Ptr returns a pointer to v. Handy for optional keys.
func Ptr[T any](v T) *T { return &v }

// sourceBase holds the invalidation state shared by all variants.
type sourceBase[K any] struct {
	opts    sourceOptions
	invalid atomic.Bool

	mu        sync.Mutex
	callbacks map[uint64]func(key *K)
	nextID    uint64
}

func (s *sourceBase[K]) init(opts []SourceOption) {
	s.opts = sourceOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.callbacks = make(map[uint64]func(key *K))
}

func (s *sourceBase[K]) IsInvalid() bool {
	return s.invalid.Load()
}

func (s *sourceBase[K]) Invalidate(key *K) {
	if !s.invalid.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	callbacks := make([]func(key *K), 0, len(s.callbacks))
	for _, fn := range s.callbacks {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(key)
	}
}

func (s *sourceBase[K]) AddInvalidatedCallback(fn func(key *K)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.callbacks[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.callbacks, id)
		s.mu.Unlock()
	}
}

func (s *sourceBase[K]) newToken(kind ResultType) token {
	return token{kind: kind, strict: s.opts.strict, logger: s.opts.logger}
}

// dispatchInvalidIfInvalid sends the invalid sentinel to receiver when the
// source has been invalidated since the load was dispatched, or when the
// loader itself reported the sentinel. It reports whether it did.
func (s *sourceBase[K]) dispatchInvalidIfInvalid(receiver pageReceiver, kind ResultType, loadedCount int) bool {
	if s.IsInvalid() || loadedCount == invalidLoadedCount {
		receiver.onPageResult(invalidResult(kind))
		return true
	}
	return false
}
