package pagedlist

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Builder assembles a PagedList.
type Builder[K, V any] struct {
	collection OrderedCollection[V]
	source     DataSource[K, V]
	config     Config
	boundary   BoundaryCallback[V]
	initialKey *K
	executor   Executor
	logger     zerolog.Logger
	metrics    Metrics
}

// NewBuilder returns a builder for a list over collection loading from
// source. The executor defaults to Immediate.
func NewBuilder[K, V any](collection OrderedCollection[V], source DataSource[K, V], config Config) *Builder[K, V] {
	return &Builder[K, V]{
		collection: collection,
		source:     source,
		config:     config,
		executor:   Immediate{},
		logger:     zerolog.Nop(),
	}
}

func (b *Builder[K, V]) SetBoundaryCallback(callback BoundaryCallback[V]) *Builder[K, V] {
	b.boundary = callback
	return b
}

// SetInitialKey sets the key passed to the initial load.
func (b *Builder[K, V]) SetInitialKey(key *K) *Builder[K, V] {
	b.initialKey = key
	return b
}

// SetExecutor sets the context owning the list state. Page results and
// boundary callbacks are delivered through it.
func (b *Builder[K, V]) SetExecutor(executor Executor) *Builder[K, V] {
	if executor != nil {
		b.executor = executor
	}
	return b
}

func (b *Builder[K, V]) SetLogger(logger zerolog.Logger) *Builder[K, V] {
	b.logger = logger
	return b
}

func (b *Builder[K, V]) SetMetrics(metrics Metrics) *Builder[K, V] {
	b.metrics = metrics
	return b
}

// Build creates the list and dispatches its initial load. It must run on the
// builder's executor.
func (b *Builder[K, V]) Build() *PagedList[K, V] {
	generation := uuid.NewString()
	l := &PagedList[K, V]{
		storage:              newStorage(b.collection),
		source:               b.source,
		config:               b.config,
		boundary:             b.boundary,
		executor:             b.executor,
		logger:               b.logger.With().Str("generation", generation).Logger(),
		metrics:              b.metrics,
		generation:           generation,
		lastLoad:             -1,
		lowestIndexAccessed:  accessUnsetLow,
		highestIndexAccessed: accessUnsetHigh,
	}
	l.receiver = listReceiver[K, V]{list: l}
	l.dispatchInitial(b.initialKey)
	return l
}
