// Package fetch provides composable page fetchers for cursor-paginated
// backends. A Fetcher knows nothing about lists or positions; it turns a
// cursor into a page of items and the cursor of the page that follows.
// Decorators in this package add caching, rate limiting, retries, logging,
// tracing and prefetching on top of any Fetcher.
package fetch

import "context"

// Page is one page of items returned by a Fetcher.
type Page[C comparable, T any] struct {
	// Items holds the items of the page in source order.
	Items []T
	// Next is the cursor of the following page. It is the zero value when
	// there is no following page.
	Next C
	// HasMore reports whether another page can be requested with Next.
	HasMore bool
}

// Fetcher retrieves pages from a cursor-paginated backend. Each call returns
// up to limit items starting at cursor; the zero cursor addresses the first
// page.
type Fetcher[C comparable, T any] interface {
	Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[C comparable, T any] func(ctx context.Context, cursor C, limit int) (Page[C, T], error)

// Fetch implements Fetcher.
func (f FetcherFunc[C, T]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error) {
	return f(ctx, cursor, limit)
}

// More reports whether the page can be followed by another fetch.
func (p Page[C, T]) More() bool {
	var zero C
	return p.HasMore && p.Next != zero
}
