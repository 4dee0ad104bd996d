package fetch

import (
	"context"
	"sync"
)

// PrefetchFetcher fetches the page following every returned page in the
// background, so that sequential scrolling rarely waits on the source.
type PrefetchFetcher[C comparable, T any] struct {
	source Fetcher[C, T]
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[cacheKey[C]]*prefetched[C, T]
}

type prefetched[C comparable, T any] struct {
	page Page[C, T]
	err  error
	done chan struct{}
}

// NewPrefetchFetcher wraps source. Background fetches run until Close.
func NewPrefetchFetcher[C comparable, T any](source Fetcher[C, T]) *PrefetchFetcher[C, T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &PrefetchFetcher[C, T]{
		source:  source,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[cacheKey[C]]*prefetched[C, T]),
	}
}

// Fetch implements Fetcher. A prefetched page is used only when it was
// requested with the same limit.
func (p *PrefetchFetcher[C, T]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error) {
	if err := ctx.Err(); err != nil {
		return Page[C, T]{}, err
	}
	key := cacheKey[C]{cursor: cursor, limit: limit}

	p.mu.Lock()
	pf, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()

	var page Page[C, T]
	if ok {
		select {
		case <-pf.done:
		case <-ctx.Done():
			return Page[C, T]{}, ctx.Err()
		}
		if pf.err != nil {
			// The background attempt may have failed for reasons that no
			// longer apply; fall through to a direct fetch.
			ok = false
		} else {
			page = pf.page
		}
	}
	if !ok {
		var err error
		page, err = p.source.Fetch(ctx, cursor, limit)
		if err != nil {
			return Page[C, T]{}, err
		}
	}

	if page.More() {
		p.start(cacheKey[C]{cursor: page.Next, limit: limit})
	}
	return page, nil
}

func (p *PrefetchFetcher[C, T]) start(key cacheKey[C]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return
	}
	if _, ok := p.pending[key]; ok {
		return
	}

	pf := &prefetched[C, T]{done: make(chan struct{})}
	p.pending[key] = pf
	go func() {
		defer close(pf.done)
		pf.page, pf.err = p.source.Fetch(p.ctx, key.cursor, key.limit)
	}()
}

// Pending returns the number of prefetched pages not yet consumed.
func (p *PrefetchFetcher[C, T]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ClearCache forgets every prefetched page. Fetches already running finish
// in the background.
func (p *PrefetchFetcher[C, T]) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = make(map[cacheKey[C]]*prefetched[C, T])
}

// Close cancels running prefetches and stops new ones.
func (p *PrefetchFetcher[C, T]) Close() {
	p.cancel()
	p.ClearCache()
}
