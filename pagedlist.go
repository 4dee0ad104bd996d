package pagedlist

import (
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// BoundaryCallback is notified when the known edges of the data have been
// loaded and accessed. Each method runs at most once per PagedList, on its
// Executor.
type BoundaryCallback[V any] interface {
	// OnZeroItemsLoaded is called when a load leaves the list empty.
	OnZeroItemsLoaded()
	// OnItemAtFrontLoaded is called when no more items can be prepended and
	// access came within the prefetch distance of the front.
	OnItemAtFrontLoaded(itemAtFront V)
	// OnItemAtEndLoaded is called when no more items can be appended and
	// access came within the prefetch distance of the end.
	OnItemAtEndLoaded(itemAtEnd V)
}

// BoundaryFuncs adapts optional functions to BoundaryCallback.
type BoundaryFuncs[V any] struct {
	ZeroItemsLoaded   func()
	ItemAtFrontLoaded func(V)
	ItemAtEndLoaded   func(V)
}

func (f BoundaryFuncs[V]) OnZeroItemsLoaded() {
	if f.ZeroItemsLoaded != nil {
		f.ZeroItemsLoaded()
	}
}

func (f BoundaryFuncs[V]) OnItemAtFrontLoaded(item V) {
	if f.ItemAtFrontLoaded != nil {
		f.ItemAtFrontLoaded(item)
	}
}

func (f BoundaryFuncs[V]) OnItemAtEndLoaded(item V) {
	if f.ItemAtEndLoaded != nil {
		f.ItemAtEndLoaded(item)
	}
}

const (
	accessUnsetLow  = math.MaxInt
	accessUnsetHigh = math.MinInt
)

// PagedList is a window over an OrderedCollection that loads pages from a
// DataSource as items are accessed. Apart from IsDetached, its methods must
// be called on its Executor.
type PagedList[K, V any] struct {
	storage    *Storage[V]
	source     DataSource[K, V]
	config     Config
	boundary   BoundaryCallback[V]
	executor   Executor
	logger     zerolog.Logger
	metrics    Metrics
	generation string
	receiver   pageReceiver

	lastLoad    int
	lastItem    V
	hasLastItem bool

	// Lowest and highest index passed to LoadAround, used to decide when a
	// deferred boundary callback is close enough to fire.
	lowestIndexAccessed  int
	highestIndexAccessed int

	detached atomic.Bool

	frontDeferred bool
	endDeferred   bool
	zeroFired     bool
	frontFired    bool
	endFired      bool

	prependWorkerRunning bool
	appendWorkerRunning  bool
	prependRequested     int
	appendRequested      int
}

type listReceiver[K, V any] struct {
	list *PagedList[K, V]
}

func (r listReceiver[K, V]) onPageResult(result PageResult) {
	r.list.executor.Post(func() {
		r.list.applyPageResult(result)
	})
}

// Len returns the number of items currently in the window.
func (l *PagedList[K, V]) Len() int {
	return l.storage.Len()
}

// Get returns the item at index, or false if it is not loaded.
func (l *PagedList[K, V]) Get(index int) (V, bool) {
	item, ok := l.storage.Get(index)
	if ok {
		l.lastItem = item
		l.hasLastItem = true
	}
	return item, ok
}

// Storage returns the window backing the list.
func (l *PagedList[K, V]) Storage() *Storage[V] {
	return l.storage
}

// DataSource returns the source this list loads from.
func (l *PagedList[K, V]) DataSource() DataSource[K, V] {
	return l.source
}

// Config returns the paging configuration.
func (l *PagedList[K, V]) Config() Config {
	return l.config
}

// Generation returns the unique id of this list.
func (l *PagedList[K, V]) Generation() string {
	return l.generation
}

// LastKey returns the key a new generation should start loading from to keep
// the last accessed position, or nil when the source cannot tell.
func (l *PagedList[K, V]) LastKey() *K {
	return l.source.lastKey(l.lastLoad, l.lastItem, l.hasLastItem)
}

// IsDetached reports whether the list stopped loading. It is safe to call
// from any goroutine.
func (l *PagedList[K, V]) IsDetached() bool {
	return l.detached.Load()
}

// Detach stops all further loading. Loaded items stay readable.
func (l *PagedList[K, V]) Detach() {
	if !l.detached.CompareAndSwap(false, true) {
		return
	}
	l.logger.Info().Int("size", l.storage.Len()).Msg("paged list detached")
	if l.metrics != nil {
		l.metrics.ObserveDetach()
	}
}

// LoadAround signals that index was accessed and loads more data if index is
// within the prefetch distance of either edge of the window.
func (l *PagedList[K, V]) LoadAround(index int) {
	l.lastLoad = index

	prefetch := l.config.PrefetchDistance
	prependItems := prefetch - index
	appendItems := index + prefetch - l.storage.Len()

	l.prependRequested = max(prependItems, l.prependRequested)
	if l.prependRequested > 0 {
		l.schedulePrepend()
	}

	l.appendRequested = max(appendItems, l.appendRequested)
	if l.appendRequested > 0 {
		l.scheduleAppend()
	}

	l.lowestIndexAccessed = min(l.lowestIndexAccessed, index)
	l.highestIndexAccessed = max(l.highestIndexAccessed, index)

	// Posted so the consumer is never mutated from inside its own access.
	l.tryDispatchBoundaryCallbacks(true)
}

func (l *PagedList[K, V]) dispatchInitial(key *K) {
	if l.source.IsInvalid() {
		l.Detach()
		return
	}
	l.logger.Debug().Int("initial_load_size", l.config.InitialLoadSizeHint).Msg("dispatching initial load")
	if l.metrics != nil {
		l.metrics.ObserveDispatch(DirectionInitial)
	}
	l.source.dispatchLoadInitial(key, l.config.InitialLoadSizeHint, l.config.PageSize, l.receiver)
}

func (l *PagedList[K, V]) schedulePrepend() {
	if l.prependWorkerRunning {
		return
	}
	l.prependWorkerRunning = true

	position := l.storage.PositionOffset()
	item, ok := l.storage.First()

	if l.IsDetached() {
		return
	}
	if l.source.IsInvalid() {
		l.Detach()
		return
	}
	if !ok {
		// Nothing to anchor on until the initial load lands.
		l.prependWorkerRunning = false
		return
	}

	l.logger.Debug().Int("position", position).Int("requested", l.prependRequested).Msg("dispatching load before")
	if l.metrics != nil {
		l.metrics.ObserveDispatch(DirectionBefore)
	}
	if !l.source.dispatchLoadBefore(position, l.storage.Len(), item, l.config.PageSize, l.receiver) {
		// No previous key: the front is known. The worker flag stays set so
		// this direction is not dispatched again.
		l.deferBoundaryCallbacks(false, true, false, true)
	}
}

func (l *PagedList[K, V]) scheduleAppend() {
	if l.appendWorkerRunning {
		return
	}
	l.appendWorkerRunning = true

	position := l.storage.Len() - 1 + l.storage.PositionOffset()
	item, ok := l.storage.Last()

	if l.IsDetached() {
		return
	}
	if l.source.IsInvalid() {
		l.Detach()
		return
	}
	if !ok {
		l.appendWorkerRunning = false
		return
	}

	l.logger.Debug().Int("position", position).Int("requested", l.appendRequested).Msg("dispatching load after")
	if l.metrics != nil {
		l.metrics.ObserveDispatch(DirectionAfter)
	}
	if !l.source.dispatchLoadAfter(position, l.storage.Len(), item, l.config.PageSize, l.receiver) {
		l.deferBoundaryCallbacks(false, false, true, true)
	}
}

func (l *PagedList[K, V]) applyPageResult(result PageResult) {
	if l.metrics != nil {
		l.metrics.ObservePage(result.Type, result.LoadedCount)
	}
	if result.Invalid() {
		l.logger.Debug().Stringer("type", result.Type).Msg("received invalid page result")
		l.Detach()
		return
	}
	if l.IsDetached() {
		return
	}

	l.logger.Debug().
		Stringer("type", result.Type).
		Int("loaded", result.LoadedCount).
		Int("size", l.storage.Len()).
		Msg("page loaded")

	switch result.Type {
	case ResultAppend:
		l.storage.appendPage(result.LoadedCount, l)
	case ResultPrepend:
		l.storage.prependPage(result.LoadedCount, l)
	}

	if l.boundary != nil {
		deferEmpty := l.storage.Len() == 0
		deferFront := !deferEmpty && result.Type == ResultPrepend && result.LoadedCount == 0
		deferEnd := !deferEmpty && result.Type == ResultAppend && result.LoadedCount == 0
		l.deferBoundaryCallbacks(deferEmpty, deferFront, deferEnd, false)
	}
}

func (l *PagedList[K, V]) onPagePrepended(added int) {
	l.prependRequested -= added
	l.prependWorkerRunning = false
	if added == 0 {
		// An empty page means the front is reached; wait for the next access
		// rather than spin on the same key.
		l.prependRequested = 0
	}
	if l.prependRequested > 0 {
		l.schedulePrepend()
	}
	l.offsetBoundaryAccessIndices(added)
}

func (l *PagedList[K, V]) onPageAppended(added int) {
	l.appendRequested -= added
	l.appendWorkerRunning = false
	if added == 0 {
		l.appendRequested = 0
	}
	if l.appendRequested > 0 {
		l.scheduleAppend()
	}
}

// offsetBoundaryAccessIndices shifts the recorded access extremes after a
// prepend moved every index.
func (l *PagedList[K, V]) offsetBoundaryAccessIndices(offset int) {
	if l.lowestIndexAccessed != accessUnsetLow {
		l.lowestIndexAccessed += offset
	}
	if l.highestIndexAccessed != accessUnsetHigh {
		l.highestIndexAccessed += offset
	}
}

func (l *PagedList[K, V]) deferBoundaryCallbacks(deferEmpty, deferFront, deferEnd, post bool) {
	if l.boundary == nil {
		return
	}

	// Treat an untouched list as accessed across its whole window, so edges
	// reached by the initial load fire without waiting for LoadAround.
	if l.lowestIndexAccessed == accessUnsetLow {
		l.lowestIndexAccessed = l.storage.Len()
	}
	if l.highestIndexAccessed == accessUnsetHigh {
		l.highestIndexAccessed = 0
	}

	if deferEmpty && !l.zeroFired {
		l.zeroFired = true
		l.logger.Debug().Msg("zero items loaded")
		if l.metrics != nil {
			l.metrics.ObserveBoundary(EdgeZero)
		}
		if post {
			l.executor.Post(l.boundary.OnZeroItemsLoaded)
		} else {
			l.boundary.OnZeroItemsLoaded()
		}
	}
	if l.storage.Len() == 0 {
		return
	}
	if deferFront && !l.frontFired {
		l.frontDeferred = true
	}
	if deferEnd && !l.endFired {
		l.endDeferred = true
	}
	l.tryDispatchBoundaryCallbacks(post)
}

func (l *PagedList[K, V]) tryDispatchBoundaryCallbacks(post bool) {
	prefetch := l.config.PrefetchDistance
	dispatchFront := l.frontDeferred && l.lowestIndexAccessed <= prefetch
	dispatchEnd := l.endDeferred && l.highestIndexAccessed >= l.storage.Len()-1-prefetch
	if !dispatchFront && !dispatchEnd {
		return
	}

	if dispatchFront {
		l.frontDeferred = false
		l.frontFired = true
	}
	if dispatchEnd {
		l.endDeferred = false
		l.endFired = true
	}

	if post {
		l.executor.Post(func() { l.dispatchBoundaryCallbacks(dispatchFront, dispatchEnd) })
	} else {
		l.dispatchBoundaryCallbacks(dispatchFront, dispatchEnd)
	}
}

func (l *PagedList[K, V]) dispatchBoundaryCallbacks(front, end bool) {
	if front {
		if item, ok := l.storage.First(); ok {
			l.logger.Debug().Msg("item at front loaded")
			if l.metrics != nil {
				l.metrics.ObserveBoundary(EdgeFront)
			}
			l.boundary.OnItemAtFrontLoaded(item)
		}
	}
	if end {
		if item, ok := l.storage.Last(); ok {
			l.logger.Debug().Msg("item at end loaded")
			if l.metrics != nil {
				l.metrics.ObserveBoundary(EdgeEnd)
			}
			l.boundary.OnItemAtEndLoaded(item)
		}
	}
}
