package pagedlist

import (
	"sync"
)

// testCollection is a minimal OrderedCollection backed by a slice.
type testCollection struct {
	mu    sync.Mutex
	items []int
	valid bool
	feed  *ChangeFeed
}

func newTestCollection(items ...int) *testCollection {
	return &testCollection{items: items, valid: true, feed: NewChangeFeed(nil)}
}

func (c *testCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *testCollection) At(index int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.items) {
		return 0, false
	}
	return c.items[index], true
}

func (c *testCollection) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

func (c *testCollection) Subscribe(fn func(ChangeSet)) func() {
	return c.feed.Subscribe(c.Len(), fn)
}

func (c *testCollection) appendItems(items ...int) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	start := len(c.items)
	c.items = append(c.items, items...)
	c.mu.Unlock()
	c.feed.Publish(ChangeSet{Insertions: []Range{{Start: start, Length: len(items)}}})
}

func (c *testCollection) prependItems(items ...int) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	c.items = append(append([]int{}, items...), c.items...)
	c.mu.Unlock()
	c.feed.Publish(ChangeSet{Insertions: []Range{{Start: 0, Length: len(items)}}})
}

func (c *testCollection) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// pendingLoad is a load captured by manualLoader and resolved by the test.
type pendingLoad struct {
	direction Direction
	key       *int
	size      int
	items     int
	initial   *InitialCallback[int]
	callback  *LoadCallback[int]
}

// manualLoader records page-keyed loads without resolving them.
type manualLoader struct {
	mu    sync.Mutex
	loads []pendingLoad
}

func (m *manualLoader) LoadInitial(params LoadInitialParams[int], callback *InitialCallback[int]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, pendingLoad{
		direction: DirectionInitial,
		key:       params.InitialKey,
		size:      params.RequestedLoadSize,
		initial:   callback,
	})
}

func (m *manualLoader) LoadBefore(params LoadParams[int], callback *LoadCallback[int]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := params.Key
	m.loads = append(m.loads, pendingLoad{
		direction: DirectionBefore,
		key:       &key,
		size:      params.RequestedLoadSize,
		items:     params.CurrentItemsCount,
		callback:  callback,
	})
}

func (m *manualLoader) LoadAfter(params LoadParams[int], callback *LoadCallback[int]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := params.Key
	m.loads = append(m.loads, pendingLoad{
		direction: DirectionAfter,
		key:       &key,
		size:      params.RequestedLoadSize,
		items:     params.CurrentItemsCount,
		callback:  callback,
	})
}

func (m *manualLoader) count(direction Direction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.loads {
		if l.direction == direction {
			n++
		}
	}
	return n
}

// last returns the most recent load in direction.
func (m *manualLoader) last(direction Direction) pendingLoad {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.loads) - 1; i >= 0; i-- {
		if m.loads[i].direction == direction {
			return m.loads[i]
		}
	}
	panic("no load in direction " + string(direction))
}

// recordingReceiver collects page results.
type recordingReceiver struct {
	mu      sync.Mutex
	results []PageResult
}

func (r *recordingReceiver) onPageResult(result PageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingReceiver) all() []PageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PageResult(nil), r.results...)
}

// boundaryRecorder counts boundary callbacks.
type boundaryRecorder struct {
	zero  int
	front []int
	end   []int
}

func (b *boundaryRecorder) OnZeroItemsLoaded() { b.zero++ }
func (b *boundaryRecorder) OnItemAtFrontLoaded(item int) { b.front = append(b.front, item) }
func (b *boundaryRecorder) OnItemAtEndLoaded(item int) { b.end = append(b.end, item) }

// recordingMetrics counts metric events.
type recordingMetrics struct {
	mu         sync.Mutex
	dispatches map[Direction]int
	pages      map[ResultType]int
	boundaries map[Edge]int
	detaches   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		dispatches: make(map[Direction]int),
		pages:      make(map[ResultType]int),
		boundaries: make(map[Edge]int),
	}
}

func (m *recordingMetrics) ObserveDispatch(direction Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[direction]++
}

func (m *recordingMetrics) ObservePage(resultType ResultType, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[resultType]++
}

func (m *recordingMetrics) ObserveBoundary(edge Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boundaries[edge]++
}

func (m *recordingMetrics) ObserveDetach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detaches++
}

func seq(from, n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = from + i
	}
	return items
}
