package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// cacheKey identifies a cached page by cursor and limit.
type cacheKey[C comparable] struct {
	cursor C
	limit  int
}

type cacheEntry[C comparable, T any] struct {
	page      Page[C, T]
	expiresAt time.Time
}

// CachedFetcher keeps successful pages in memory for a fixed TTL.
type CachedFetcher[C comparable, T any] struct {
	source Fetcher[C, T]
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey[C]]cacheEntry[C, T]
}

// NewCachedFetcher wraps source with a page cache. A non-positive ttl defaults
// to five minutes.
func NewCachedFetcher[C comparable, T any](source Fetcher[C, T], ttl time.Duration) *CachedFetcher[C, T] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedFetcher[C, T]{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[cacheKey[C]]cacheEntry[C, T]),
	}
}

// Fetch implements Fetcher.
func (c *CachedFetcher[C, T]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error) {
	key := cacheKey[C]{cursor: cursor, limit: limit}

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.page, nil
	}

	page, err := c.source.Fetch(ctx, cursor, limit)
	if err != nil {
		return Page[C, T]{}, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry[C, T]{page: page, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return page, nil
}

// ClearCache drops every cached page.
func (c *CachedFetcher[C, T]) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[cacheKey[C]]cacheEntry[C, T])
}

// EvictExpired drops the pages whose TTL has elapsed.
func (c *CachedFetcher[C, T]) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.cache {
		if !now.Before(entry.expiresAt) {
			delete(c.cache, key)
		}
	}
}

// CacheSize returns the number of cached pages, expired ones included.
func (c *CachedFetcher[C, T]) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// RateLimitedFetcher throttles calls with a token bucket.
type RateLimitedFetcher[C comparable, T any] struct {
	source     Fetcher[C, T]
	refillRate float64
	maxTokens  float64

	mu           sync.Mutex
	tokens       float64
	lastRefillAt time.Time
}

// NewRateLimitedFetcher allows rps calls per second with bursts of up to
// burst calls. Non-positive values default to 10 rps and a burst equal to
// rps, at least one.
func NewRateLimitedFetcher[C comparable, T any](source Fetcher[C, T], rps float64, burst int) *RateLimitedFetcher[C, T] {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &RateLimitedFetcher[C, T]{
		source:       source,
		refillRate:   rps,
		maxTokens:    float64(burst),
		tokens:       float64(burst),
		lastRefillAt: time.Now(),
	}
}

// Fetch implements Fetcher. It blocks until a token is available or ctx is
// done.
func (r *RateLimitedFetcher[C, T]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error) {
	if err := r.wait(ctx); err != nil {
		return Page[C, T]{}, err
	}
	return r.source.Fetch(ctx, cursor, limit)
}

func (r *RateLimitedFetcher[C, T]) wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.tokens = min(r.maxTokens, r.tokens+now.Sub(r.lastRefillAt).Seconds()*r.refillRate)
		r.lastRefillAt = now
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		delay := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that RetryFetcher gives up on it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryOption configures a RetryFetcher.
type RetryOption func(*retryOptions)

type retryOptions struct {
	retryable func(error) bool
}

// WithRetryable replaces the classifier deciding which errors are retried.
// Context errors and permanent errors are never retried.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(o *retryOptions) { o.retryable = fn }
}

// RetryFetcher retries failed fetches with exponential backoff.
type RetryFetcher[C comparable, T any] struct {
	source      Fetcher[C, T]
	maxRetries  int
	initialWait time.Duration
	retryable   func(error) bool
}

// NewRetryFetcher retries up to maxRetries times, waiting initialWait before
// the first retry and doubling the wait after each one. A negative
// maxRetries defaults to 3 and a non-positive initialWait to 100ms.
func NewRetryFetcher[C comparable, T any](source Fetcher[C, T], maxRetries int, initialWait time.Duration, opts ...RetryOption) *RetryFetcher[C, T] {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if initialWait <= 0 {
		initialWait = 100 * time.Millisecond
	}
	o := retryOptions{retryable: func(error) bool { return true }}
	for _, opt := range opts {
		opt(&o)
	}
	return &RetryFetcher[C, T]{
		source:      source,
		maxRetries:  maxRetries,
		initialWait: initialWait,
		retryable:   o.retryable,
	}
}

// Fetch implements Fetcher.
func (r *RetryFetcher[C, T]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error) {
	var lastErr error
	wait := r.initialWait

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Page[C, T]{}, ctx.Err()
			case <-timer.C:
			}
			wait *= 2
		}

		page, err := r.source.Fetch(ctx, cursor, limit)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !r.shouldRetry(err) {
			return Page[C, T]{}, err
		}
	}

	return Page[C, T]{}, fmt.Errorf("fetch failed after %d retries: %w", r.maxRetries, lastErr)
}

func (r *RetryFetcher[C, T]) shouldRetry(err error) bool {
	if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return r.retryable(err)
}

// LoggingFetcher logs every fetch with its cursor, size and duration.
type LoggingFetcher[C comparable, T any] struct {
	source Fetcher[C, T]
	logger zerolog.Logger
}

// NewLoggingFetcher logs successful fetches at debug level and failures at
// warn level.
func NewLoggingFetcher[C comparable, T any](source Fetcher[C, T], logger zerolog.Logger) *LoggingFetcher[C, T] {
	return &LoggingFetcher[C, T]{source: source, logger: logger}
}

// Fetch implements Fetcher.
func (l *LoggingFetcher[C, T]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, T], error) {
	start := time.Now()
	page, err := l.source.Fetch(ctx, cursor, limit)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.Warn().Err(err).
			Interface("cursor", cursor).
			Int("limit", limit).
			Dur("elapsed", elapsed).
			Msg("fetch failed")
		return page, err
	}
	l.logger.Debug().
		Interface("cursor", cursor).
		Int("limit", limit).
		Int("items", len(page.Items)).
		Bool("has_more", page.HasMore).
		Dur("elapsed", elapsed).
		Msg("fetched page")
	return page, nil
}

// TransformFetcher maps the items of every page.
type TransformFetcher[C comparable, T, U any] struct {
	source    Fetcher[C, T]
	transform func(T) U
}

// NewTransformFetcher returns a Fetcher of U built by applying transform to
// every item source returns.
func NewTransformFetcher[C comparable, T, U any](source Fetcher[C, T], transform func(T) U) *TransformFetcher[C, T, U] {
	return &TransformFetcher[C, T, U]{source: source, transform: transform}
}

// Fetch implements Fetcher.
func (t *TransformFetcher[C, T, U]) Fetch(ctx context.Context, cursor C, limit int) (Page[C, U], error) {
	page, err := t.source.Fetch(ctx, cursor, limit)
	if err != nil {
		return Page[C, U]{}, err
	}
	items := make([]U, len(page.Items))
	for i, item := range page.Items {
		items[i] = t.transform(item)
	}
	return Page[C, U]{Items: items, Next: page.Next, HasMore: page.HasMore}, nil
}
