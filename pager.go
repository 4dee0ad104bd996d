package pagedlist

import (
	"sync"

	"github.com/rs/zerolog"
)

// PagerBuilder assembles a Pager.
type PagerBuilder[K, V any] struct {
	collection OrderedCollection[V]
	factory    Factory[K, V]
	config     Config
	boundary   BoundaryCallback[V]
	initialKey *K
	executor   Executor
	logger     zerolog.Logger
	metrics    Metrics
}

// NewPagerBuilder returns a builder for a Pager creating generations from
// factory over collection.
func NewPagerBuilder[K, V any](collection OrderedCollection[V], factory Factory[K, V], config Config) *PagerBuilder[K, V] {
	return &PagerBuilder[K, V]{
		collection: collection,
		factory:    factory,
		config:     config,
		executor:   Immediate{},
		logger:     zerolog.Nop(),
	}
}

func (b *PagerBuilder[K, V]) SetBoundaryCallback(callback BoundaryCallback[V]) *PagerBuilder[K, V] {
	b.boundary = callback
	return b
}

// SetInitialKey sets the key the first generation starts loading from.
func (b *PagerBuilder[K, V]) SetInitialKey(key *K) *PagerBuilder[K, V] {
	b.initialKey = key
	return b
}

func (b *PagerBuilder[K, V]) SetExecutor(executor Executor) *PagerBuilder[K, V] {
	if executor != nil {
		b.executor = executor
	}
	return b
}

func (b *PagerBuilder[K, V]) SetLogger(logger zerolog.Logger) *PagerBuilder[K, V] {
	b.logger = logger
	return b
}

func (b *PagerBuilder[K, V]) SetMetrics(metrics Metrics) *PagerBuilder[K, V] {
	b.metrics = metrics
	return b
}

// Build creates the Pager and its first generation. It must run on the
// builder's executor.
func (b *PagerBuilder[K, V]) Build() *Pager[K, V] {
	p := &Pager[K, V]{
		collection: b.collection,
		factory:    b.factory,
		config:     b.config,
		boundary:   b.boundary,
		executor:   b.executor,
		logger:     b.logger,
		metrics:    b.metrics,
		observers:  make(map[uint64]func(*PagedList[K, V])),
	}
	p.rebuild(b.initialKey)
	return p
}

// Pager keeps a current PagedList and replaces it with a new generation
// whenever the current DataSource is invalidated.
type Pager[K, V any] struct {
	collection OrderedCollection[V]
	factory    Factory[K, V]
	config     Config
	boundary   BoundaryCallback[V]
	executor   Executor
	logger     zerolog.Logger
	metrics    Metrics

	mu             sync.Mutex
	current        *PagedList[K, V]
	removeCallback func()
	generations    int
	closed         bool
	observers      map[uint64]func(*PagedList[K, V])
	nextObserverID uint64
}

// Current returns the current generation.
func (p *Pager[K, V]) Current() *PagedList[K, V] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Generations returns how many lists have been built.
func (p *Pager[K, V]) Generations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generations
}

// Observe registers fn to receive every new generation on the executor,
// starting with the current one. The returned function cancels it.
func (p *Pager[K, V]) Observe(fn func(*PagedList[K, V])) (cancel func()) {
	p.mu.Lock()
	id := p.nextObserverID
	p.nextObserverID++
	p.observers[id] = fn
	p.mu.Unlock()

	p.executor.Post(func() {
		p.mu.Lock()
		observer, ok := p.observers[id]
		current := p.current
		p.mu.Unlock()
		if ok && current != nil {
			observer(current)
		}
	})

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// Refresh invalidates the current generation. The next one starts loading
// from key, or from the last accessed key when key is nil.
func (p *Pager[K, V]) Refresh(key *K) {
	if current := p.Current(); current != nil {
		current.DataSource().Invalidate(key)
	}
}

// Close detaches the current generation and destroys the factory.
func (p *Pager[K, V]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	current := p.current
	remove := p.removeCallback
	p.removeCallback = nil
	p.observers = make(map[uint64]func(*PagedList[K, V]))
	p.mu.Unlock()

	if remove != nil {
		remove()
	}
	if current != nil {
		current.Detach()
	}
	p.factory.Destroy()
}

func (p *Pager[K, V]) onInvalidated(key *K) {
	p.executor.Post(func() {
		p.rebuild(key)
	})
}

func (p *Pager[K, V]) rebuild(key *K) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	previous := p.current
	remove := p.removeCallback
	p.mu.Unlock()

	if remove != nil {
		remove()
	}
	if previous != nil {
		if key == nil {
			key = previous.LastKey()
		}
		previous.Detach()
	}

	source := p.factory.Create()
	removeCallback := source.AddInvalidatedCallback(p.onInvalidated)
	list := NewBuilder(p.collection, source, p.config).
		SetBoundaryCallback(p.boundary).
		SetInitialKey(key).
		SetExecutor(p.executor).
		SetLogger(p.logger).
		SetMetrics(p.metrics).
		Build()

	p.mu.Lock()
	p.current = list
	p.removeCallback = removeCallback
	p.generations++
	generations := p.generations
	observers := make([]func(*PagedList[K, V]), 0, len(p.observers))
	for _, fn := range p.observers {
		observers = append(observers, fn)
	}
	p.mu.Unlock()

	p.logger.Info().Str("generation", list.Generation()).Int("generations", generations).Msg("paged list generation created")

	if previous != nil {
		for _, fn := range observers {
			fn(list)
		}
	}
}
