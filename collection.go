package pagedlist

import "sync"

// OrderedCollection is the backing store a PagedList windows over. Loaders
// write into it; the PagedList and Differ only read and observe it.
//
// Implementations must be safe for concurrent use.
type OrderedCollection[V any] interface {
	// Len returns the current number of items.
	Len() int
	// At returns the item at index, or false when index is out of range.
	At(index int) (V, bool)
	// IsValid reports whether the collection can still be read.
	IsValid() bool
	// Subscribe registers fn for change sets. The first change set delivered
	// has State ChangeInitial. The returned function unsubscribes.
	Subscribe(fn func(ChangeSet)) (unsubscribe func())
}

// ChangeState discriminates the first observation from later updates.
type ChangeState int

const (
	ChangeInitial ChangeState = iota
	ChangeUpdate
)

// Range is a contiguous run of indexes.
type Range struct {
	Start  int
	Length int
}

// ChangeSet describes one mutation of an OrderedCollection. Deletions are
// expressed in indexes before the mutation, Insertions and Changes in
// indexes after it. Ranges are sorted by Start.
type ChangeSet struct {
	State      ChangeState
	Deletions  []Range
	Insertions []Range
	Changes    []Range
}

// Empty reports whether cs carries no ranges.
func (cs ChangeSet) Empty() bool {
	return len(cs.Deletions) == 0 && len(cs.Insertions) == 0 && len(cs.Changes) == 0
}

// InitialChangeSet returns the change set delivered on subscription to a
// collection of size items.
func InitialChangeSet(size int) ChangeSet {
	cs := ChangeSet{State: ChangeInitial}
	if size > 0 {
		cs.Insertions = []Range{{Start: 0, Length: size}}
	}
	return cs
}

// ChangeFeed fans change sets out to subscribers on an Executor. Collection
// implementations embed it to satisfy Subscribe.
type ChangeFeed struct {
	executor Executor

	mu     sync.Mutex
	subs   map[uint64]func(ChangeSet)
	nextID uint64
}

// NewChangeFeed returns a feed delivering on executor. A nil executor
// delivers synchronously on the publishing goroutine.
func NewChangeFeed(executor Executor) *ChangeFeed {
	if executor == nil {
		executor = Immediate{}
	}
	return &ChangeFeed{
		executor: executor,
		subs:     make(map[uint64]func(ChangeSet)),
	}
}

// Subscribe registers fn and delivers InitialChangeSet(size) to it.
func (f *ChangeFeed) Subscribe(size int, fn func(ChangeSet)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	f.deliver(id, InitialChangeSet(size))

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Publish delivers cs to every subscriber. Empty change sets are dropped.
func (f *ChangeFeed) Publish(cs ChangeSet) {
	if cs.Empty() {
		return
	}
	cs.State = ChangeUpdate

	f.mu.Lock()
	ids := make([]uint64, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.deliver(id, cs)
	}
}

// Subscribers returns the number of active subscriptions.
func (f *ChangeFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *ChangeFeed) deliver(id uint64, cs ChangeSet) {
	f.executor.Post(func() {
		f.mu.Lock()
		fn, ok := f.subs[id]
		f.mu.Unlock()
		if ok {
			fn(cs)
		}
	})
}
