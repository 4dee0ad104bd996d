package cached

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangzqs/pagedlist-go"
	"github.com/zhangzqs/pagedlist-go/fetch"
	"github.com/zhangzqs/pagedlist-go/memlist"
)

// numbers serves [0, total) with the next start as cursor.
type numbers struct {
	total    int
	calls    atomic.Int32
	failures atomic.Int32
	cursors  chan string
}

func newNumbers(total int) *numbers {
	return &numbers{total: total, cursors: make(chan string, 64)}
}

func (n *numbers) Fetch(ctx context.Context, cursor string, limit int) (fetch.Page[string, int], error) {
	n.calls.Add(1)
	n.cursors <- cursor
	if n.failures.Add(-1) >= 0 {
		return fetch.Page[string, int]{}, errors.New("network down")
	}
	if err := ctx.Err(); err != nil {
		return fetch.Page[string, int]{}, err
	}

	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	var page fetch.Page[string, int]
	for i := start; i < start+limit && i < n.total; i++ {
		page.Items = append(page.Items, i)
	}
	if end := start + len(page.Items); end < n.total {
		page.Next = strconv.Itoa(end)
		page.HasMore = true
	}
	return page, nil
}

func nextCursor(v int) string { return strconv.Itoa(v + 1) }

func testConfig(t *testing.T) pagedlist.Config {
	t.Helper()
	cfg, err := pagedlist.NewConfigBuilder().
		SetPageSize(3).
		SetPrefetchDistance(2).
		SetInitialLoadSizeHint(3).
		Build()
	require.NoError(t, err)
	return cfg
}

// pump runs the looper until cond holds.
func pump(t *testing.T, looper *pagedlist.Looper, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		looper.RunPending()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

// pageCounter counts the page results a list applied.
type pageCounter struct {
	initial  atomic.Int32
	appended atomic.Int32
}

func (*pageCounter) ObserveDispatch(pagedlist.Direction) {}

func (c *pageCounter) ObservePage(resultType pagedlist.ResultType, _ int) {
	switch resultType {
	case pagedlist.ResultInit:
		c.initial.Add(1)
	case pagedlist.ResultAppend:
		c.appended.Add(1)
	}
}

func (*pageCounter) ObserveBoundary(pagedlist.Edge) {}
func (*pageCounter) ObserveDetach()                 {}

// settle runs the looper until n page results were counted by applied.
func settle(t *testing.T, looper *pagedlist.Looper, applied *atomic.Int32, n int32) {
	t.Helper()
	pump(t, looper, func() bool { return applied.Load() >= n })
}

func drainEvents(ch <-chan StateEvent) []StateEvent {
	var out []StateEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestFactoryFetchesWhenStale(t *testing.T) {
	store := memlist.New[int](nil)
	remote := newNumbers(10)
	factory := New[string, int](store, remote, nextCursor)
	defer factory.Destroy()

	looper := pagedlist.NewLooper()
	pages := &pageCounter{}
	list := pagedlist.NewBuilder[string, int](store, factory.Create(), testConfig(t)).
		SetExecutor(looper).
		SetMetrics(pages).
		Build()

	settle(t, looper, &pages.initial, 1)
	assert.Equal(t, 3, list.Len())
	assert.Equal(t, []int{0, 1, 2}, store.Items())
	assert.Equal(t, "", <-remote.cursors)

	list.LoadAround(2)
	settle(t, looper, &pages.appended, 1)
	assert.Equal(t, 6, list.Len())
	assert.Equal(t, "3", <-remote.cursors)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, store.Items())

	assert.Equal(t, []StateEvent{
		{Kind: KindContent, Status: Loading},
		{Kind: KindContent, Status: Success},
		{Kind: KindNextPage, Status: Loading},
		{Kind: KindNextPage, Status: Success},
	}, drainEvents(factory.Events()))

	status, err := factory.Helper().Status(RequestAfter)
	assert.Equal(t, StatusSucceeded, status)
	assert.NoError(t, err)
}

func TestFactoryKeepsAppendingUntilRequestMet(t *testing.T) {
	store := memlist.New[int](nil)
	remote := newNumbers(100)
	factory := New[string, int](store, remote, nextCursor)
	defer factory.Destroy()

	cfg, err := pagedlist.NewConfigBuilder().
		SetPageSize(3).
		SetPrefetchDistance(8).
		SetInitialLoadSizeHint(3).
		Build()
	require.NoError(t, err)

	// Results are applied on the fetch goroutines, so each page result
	// dispatches the next append from inside the previous one.
	pages := &pageCounter{}
	list := pagedlist.NewBuilder[string, int](store, factory.Create(), cfg).
		SetMetrics(pages).
		Build()
	require.Eventually(t, func() bool { return pages.initial.Load() == 1 }, 2*time.Second, time.Millisecond)

	list.LoadAround(2)
	require.Eventually(t, func() bool { return pages.appended.Load() >= 3 }, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, store.Len(), 11)
	assert.GreaterOrEqual(t, remote.calls.Load(), int32(4))

	status, err := factory.Helper().Status(RequestAfter)
	assert.NotEqual(t, StatusFailed, status)
	assert.NoError(t, err)
}

func TestFactoryServesFreshStore(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memlist.New[int](nil, memlist.WithClock(clock))
	require.NoError(t, store.Replace(0, 1, 2, 3))

	remote := newNumbers(10)
	factory := New[string, int](store, remote, nextCursor, WithClock(clock))
	defer factory.Destroy()

	looper := pagedlist.NewLooper()
	pages := &pageCounter{}
	list := pagedlist.NewBuilder[string, int](store, factory.Create(), testConfig(t)).
		SetExecutor(looper).
		SetMetrics(pages).
		Build()
	settle(t, looper, &pages.initial, 1)

	assert.Equal(t, 4, list.Len())
	assert.Zero(t, remote.calls.Load())
	assert.Equal(t, []StateEvent{{Kind: KindContent, Status: Success}}, drainEvents(factory.Events()))

	// The next page continues after the last stored item.
	list.LoadAround(3)
	settle(t, looper, &pages.appended, 1)
	assert.Equal(t, 7, list.Len())
	assert.Equal(t, "4", <-remote.cursors)
}

func TestFactoryRefetchesStaleStore(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memlist.New[int](nil, memlist.WithClock(func() time.Time { return now }))
	require.NoError(t, store.Replace(7, 8, 9))

	remote := newNumbers(10)
	later := now.Add(DefaultStaleAfter + time.Second)
	factory := New[string, int](store, remote, nextCursor, WithClock(func() time.Time { return later }))
	defer factory.Destroy()

	looper := pagedlist.NewLooper()
	pages := &pageCounter{}
	list := pagedlist.NewBuilder[string, int](store, factory.Create(), testConfig(t)).
		SetExecutor(looper).
		SetMetrics(pages).
		Build()

	settle(t, looper, &pages.initial, 1)
	assert.Equal(t, 3, list.Len())
	assert.EqualValues(t, 1, remote.calls.Load())
	assert.Equal(t, []int{0, 1, 2}, store.Items())
}

func TestFactoryRefreshesAfterInvalidation(t *testing.T) {
	store := memlist.New[int](nil)
	require.NoError(t, store.Replace(5, 6))
	remote := newNumbers(4)
	factory := New[string, int](store, remote, nextCursor)
	defer factory.Destroy()

	looper := pagedlist.NewLooper()
	pages := &pageCounter{}
	pager := pagedlist.NewPagerBuilder[string, int](store, factory, testConfig(t)).
		SetExecutor(looper).
		SetMetrics(pages).
		Build()
	looper.RunPending()
	first := pager.Current()
	require.Equal(t, 2, first.Len())
	assert.Zero(t, remote.calls.Load())

	pager.Refresh(nil)
	pump(t, looper, func() bool { return pager.Current() != first })
	settle(t, looper, &pages.initial, 2)
	assert.Equal(t, 3, pager.Current().Len())
	assert.Equal(t, []int{0, 1, 2}, store.Items())
	assert.True(t, first.IsDetached())

	events := drainEvents(factory.Events())
	require.Len(t, events, 3)
	assert.Equal(t, StateEvent{Kind: KindRefresh, Status: Loading}, events[1])
	assert.Equal(t, StateEvent{Kind: KindRefresh, Status: Success}, events[2])
	assert.False(t, factory.refreshing.Load())
}

func TestFactoryRetriesFailedLoads(t *testing.T) {
	store := memlist.New[int](nil)
	remote := newNumbers(10)
	remote.failures.Store(1)
	factory := New[string, int](store, remote, nextCursor)
	defer factory.Destroy()

	looper := pagedlist.NewLooper()
	pages := &pageCounter{}
	list := pagedlist.NewBuilder[string, int](store, factory.Create(), testConfig(t)).
		SetExecutor(looper).
		SetMetrics(pages).
		Build()

	require.Eventually(t, func() bool {
		status, _ := factory.Helper().Status(RequestInitial)
		return status == StatusFailed
	}, 2*time.Second, time.Millisecond)
	looper.RunPending()
	assert.Zero(t, list.Len())

	events := drainEvents(factory.Events())
	require.Len(t, events, 2)
	assert.Equal(t, Failed, events[1].Status)
	assert.EqualError(t, events[1].Err, "network down")

	require.True(t, factory.RetryAllFailed())
	settle(t, looper, &pages.initial, 1)
	assert.Equal(t, 3, list.Len())
	assert.False(t, factory.RetryAllFailed())
}

func TestFactoryDropsEventsWhenFull(t *testing.T) {
	store := memlist.New[int](nil)
	factory := New[string, int](store, newNumbers(3), nil, WithEventBuffer(0))
	defer factory.Destroy()

	looper := pagedlist.NewLooper()
	pages := &pageCounter{}
	list := pagedlist.NewBuilder[string, int](store, factory.Create(), testConfig(t)).
		SetExecutor(looper).
		SetMetrics(pages).
		Build()
	settle(t, looper, &pages.initial, 1)
	assert.Equal(t, 3, list.Len())
	assert.EqualValues(t, 2, factory.Dropped())
}

func TestFactoryDestroyCancelsFetches(t *testing.T) {
	started := make(chan struct{})
	blocking := fetch.FetcherFunc[string, int](func(ctx context.Context, _ string, _ int) (fetch.Page[string, int], error) {
		close(started)
		<-ctx.Done()
		return fetch.Page[string, int]{}, ctx.Err()
	})
	store := memlist.New[int](nil)
	factory := New[string, int](store, blocking, nil)

	pagedlist.NewBuilder[string, int](store, factory.Create(), testConfig(t)).Build()
	<-started
	factory.Destroy()

	require.Eventually(t, func() bool {
		status, err := factory.Helper().Status(RequestInitial)
		return status == StatusFailed && errors.Is(err, context.Canceled)
	}, 2*time.Second, time.Millisecond)
}
