// Package cached builds page-keyed data sources that serve a local Store and
// refresh it from a remote fetcher.
//
// The first page comes from the Store while it is fresh. Once it is stale, or
// after the current source was invalidated to request a refresh, the first
// page is fetched again and replaces the Store's content. Later pages are
// always fetched and appended. Progress is reported as StateEvents.
package cached

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhangzqs/pagedlist-go"
	"github.com/zhangzqs/pagedlist-go/fetch"
)

// Store is the local collection network pages are written to.
type Store[V any] interface {
	Len() int
	At(index int) (V, bool)
	Replace(items ...V) error
	Append(items ...V) error
	// LastUpdated returns the time of the last write, or the zero time.
	LastUpdated() time.Time
}

// Kind tells which load a StateEvent is about.
type Kind int

const (
	KindContent Kind = iota
	KindRefresh
	KindNextPage
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindRefresh:
		return "refresh"
	case KindNextPage:
		return "next_page"
	default:
		return "unknown"
	}
}

// Status is the progress of a load.
type Status int

const (
	Loading Status = iota
	Success
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateEvent reports the progress of a load. Err is set when Status is
// Failed.
type StateEvent struct {
	Kind   Kind
	Status Status
	Err    error
}

// DefaultStaleAfter is how long Store content is served without refetching.
const DefaultStaleAfter = 5 * time.Minute

// Option configures a Factory.
type Option func(*options)

type options struct {
	staleAfter  time.Duration
	now         func() time.Time
	logger      zerolog.Logger
	eventBuffer int
	sourceOpts  []pagedlist.SourceOption
}

// WithStaleAfter sets how long Store content stays fresh.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) { o.staleAfter = d }
}

// WithClock overrides the clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventBuffer sets the capacity of the Events channel. Events that do not
// fit are dropped.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithSourceOptions passes options to every created data source.
func WithSourceOptions(opts ...pagedlist.SourceOption) Option {
	return func(o *options) { o.sourceOpts = append(o.sourceOpts, opts...) }
}

// Factory creates cached page-keyed data sources over one Store. It
// implements pagedlist.Factory.
type Factory[C comparable, V any] struct {
	store      Store[V]
	fetcher    fetch.Fetcher[C, V]
	cursorOf   func(V) C
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	sourceOpts []pagedlist.SourceOption

	ctx    context.Context
	cancel context.CancelFunc

	events  chan StateEvent
	dropped atomic.Uint64

	refreshing atomic.Bool

	mu     sync.Mutex
	last   *pagedlist.PageKeyedDataSource[C, V]
	helper *RequestHelper
	// tail is the cursor following the Store's last item as reported by the
	// network. tailKnown is false until a page was fetched.
	tail      *C
	tailKnown bool
}

// New returns a Factory writing pages fetched from fetcher to store.
// cursorOf derives the cursor that follows an item; it lets Store content
// loaded from disk be continued. It may be nil.
func New[C comparable, V any](store Store[V], fetcher fetch.Fetcher[C, V], cursorOf func(V) C, opts ...Option) *Factory[C, V] {
	o := options{
		staleAfter:  DefaultStaleAfter,
		now:         time.Now,
		logger:      zerolog.Nop(),
		eventBuffer: 16,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Factory[C, V]{
		store:      store,
		fetcher:    fetcher,
		cursorOf:   cursorOf,
		staleAfter: o.staleAfter,
		now:        o.now,
		logger:     o.logger,
		sourceOpts: o.sourceOpts,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan StateEvent, max(o.eventBuffer, 0)),
		helper:     NewRequestHelper(),
	}
}

// Create implements pagedlist.Factory. When the previous source was
// invalidated, the new one refetches its first page.
func (f *Factory[C, V]) Create() pagedlist.DataSource[C, V] {
	helper := NewRequestHelper()
	l := &loader[C, V]{factory: f, helper: helper}
	source := pagedlist.NewPageKeyedDataSource[C, V](l, f.sourceOpts...)
	l.source = source

	f.mu.Lock()
	if f.last != nil && f.last.IsInvalid() {
		f.refreshing.Store(true)
	}
	f.last = source
	f.helper = helper
	f.mu.Unlock()
	return source
}

// Destroy implements pagedlist.Factory. It cancels every running fetch.
func (f *Factory[C, V]) Destroy() {
	f.cancel()
}

// Events returns the stream of load progress events.
func (f *Factory[C, V]) Events() <-chan StateEvent {
	return f.events
}

// Dropped returns how many events were dropped because Events was full.
func (f *Factory[C, V]) Dropped() uint64 {
	return f.dropped.Load()
}

// RetryAllFailed reruns the failed loads of the latest source.
func (f *Factory[C, V]) RetryAllFailed() bool {
	f.mu.Lock()
	helper := f.helper
	f.mu.Unlock()
	return helper.RetryAllFailed()
}

// Helper returns the request helper of the latest source.
func (f *Factory[C, V]) Helper() *RequestHelper {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.helper
}

func (f *Factory[C, V]) emit(kind Kind, status Status, err error) {
	select {
	case f.events <- StateEvent{Kind: kind, Status: status, Err: err}:
	default:
		f.dropped.Add(1)
	}
}

func (f *Factory[C, V]) stale() bool {
	updated := f.store.LastUpdated()
	return updated.IsZero() || f.now().Sub(updated) > f.staleAfter
}

// storedTail returns the cursor that continues the Store content. ok is
// false when it cannot be known without refetching.
func (f *Factory[C, V]) storedTail() (next *C, ok bool) {
	f.mu.Lock()
	tail, known := f.tail, f.tailKnown
	f.mu.Unlock()
	if known {
		return tail, true
	}
	n := f.store.Len()
	if n == 0 {
		return nil, true
	}
	if f.cursorOf == nil {
		return nil, false
	}
	last, ok := f.store.At(n - 1)
	if !ok {
		return nil, false
	}
	return pagedlist.Ptr(f.cursorOf(last)), true
}

func (f *Factory[C, V]) setTail(next *C) {
	f.mu.Lock()
	f.tail, f.tailKnown = next, true
	f.mu.Unlock()
}

func nextKey[C comparable, V any](page fetch.Page[C, V]) *C {
	if page.More() {
		return pagedlist.Ptr(page.Next)
	}
	return nil
}

// loader serves one generation.
type loader[C comparable, V any] struct {
	factory *Factory[C, V]
	helper  *RequestHelper
	source  *pagedlist.PageKeyedDataSource[C, V]
}

func (l *loader[C, V]) LoadInitial(params pagedlist.LoadInitialParams[C], callback *pagedlist.InitialCallback[C]) {
	f := l.factory
	refreshing := f.refreshing.Load()

	if !refreshing && !f.stale() {
		if next, ok := f.storedTail(); ok {
			f.logger.Debug().Int("items", f.store.Len()).Msg("serving cached content")
			f.emit(KindContent, Success, nil)
			l.helper.RecordResult(RequestInitial, nil)
			_ = callback.OnResult(f.store.Len(), nil, next)
			return
		}
	}

	kind := KindContent
	if refreshing {
		kind = KindRefresh
	}
	var cursor C
	if params.InitialKey != nil {
		cursor = *params.InitialKey
	}

	l.helper.RunIfNotRunning(RequestInitial, func(done *RequestCallback) {
		f.emit(kind, Loading, nil)
		go func() {
			page, err := f.fetcher.Fetch(f.ctx, cursor, params.RequestedLoadSize)
			f.refreshing.Store(false)
			if err != nil {
				f.logger.Warn().Err(err).Str("kind", kind.String()).Msg("initial load failed")
				f.emit(kind, Failed, err)
				done.RecordFailure(err)
				return
			}
			next := nextKey(page)
			if !l.source.IsInvalid() {
				if err := f.store.Replace(page.Items...); err != nil {
					f.logger.Error().Err(err).Msg("store replace failed")
					f.emit(kind, Failed, err)
					done.RecordFailure(err)
					return
				}
				f.setTail(next)
			}
			// The helper must be idle before the result is delivered: the
			// list may dispatch the next load from inside OnResult.
			f.emit(kind, Success, nil)
			done.RecordSuccess()
			_ = callback.OnResult(len(page.Items), nil, next)
		}()
	})
}

func (l *loader[C, V]) LoadBefore(_ pagedlist.LoadParams[C], callback *pagedlist.LoadCallback[C]) {
	_ = callback.OnResult(0, nil)
}

func (l *loader[C, V]) LoadAfter(params pagedlist.LoadParams[C], callback *pagedlist.LoadCallback[C]) {
	f := l.factory
	l.helper.RunIfNotRunning(RequestAfter, func(done *RequestCallback) {
		f.emit(KindNextPage, Loading, nil)
		go func() {
			page, err := f.fetcher.Fetch(f.ctx, params.Key, params.RequestedLoadSize)
			if err != nil {
				f.logger.Warn().Err(err).Msg("next page load failed")
				f.emit(KindNextPage, Failed, err)
				done.RecordFailure(err)
				return
			}
			next := nextKey(page)
			if !l.source.IsInvalid() {
				if err := f.store.Append(page.Items...); err != nil {
					f.logger.Error().Err(err).Msg("store append failed")
					f.emit(KindNextPage, Failed, err)
					done.RecordFailure(err)
					return
				}
				f.setTail(next)
			}
			f.emit(KindNextPage, Success, nil)
			done.RecordSuccess()
			_ = callback.OnResult(len(page.Items), next)
		}()
	})
}
