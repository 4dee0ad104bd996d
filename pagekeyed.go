package pagedlist

import "sync"

// PageKeyedLoader loads pages addressed by opaque keys handed back with each
// page. Every method must resolve its callback exactly once, from any
// goroutine. A loader that fails may retry internally or never call back.
type PageKeyedLoader[K any] interface {
	LoadInitial(params LoadInitialParams[K], callback *InitialCallback[K])
	LoadBefore(params LoadParams[K], callback *LoadCallback[K])
	LoadAfter(params LoadParams[K], callback *LoadCallback[K])
}

// PageKeyedFuncs adapts functions to PageKeyedLoader. A nil Before or After
// reports an empty page with no adjacent key, which makes that direction
// append-only or prepend-only.
type PageKeyedFuncs[K any] struct {
	Initial func(params LoadInitialParams[K], callback *InitialCallback[K])
	Before  func(params LoadParams[K], callback *LoadCallback[K])
	After   func(params LoadParams[K], callback *LoadCallback[K])
}

func (f PageKeyedFuncs[K]) LoadInitial(params LoadInitialParams[K], callback *InitialCallback[K]) {
	f.Initial(params, callback)
}

func (f PageKeyedFuncs[K]) LoadBefore(params LoadParams[K], callback *LoadCallback[K]) {
	if f.Before == nil {
		_ = callback.OnResult(0, nil)
		return
	}
	f.Before(params, callback)
}

func (f PageKeyedFuncs[K]) LoadAfter(params LoadParams[K], callback *LoadCallback[K]) {
	if f.After == nil {
		_ = callback.OnResult(0, nil)
		return
	}
	f.After(params, callback)
}

// PageKeyedDataSource is a DataSource whose loader returns explicit previous
// and next page keys.
type PageKeyedDataSource[K, V any] struct {
	sourceBase[K]
	loader PageKeyedLoader[K]

	keyMu       sync.Mutex
	previousKey *K
	nextKey     *K
}

// NewPageKeyedDataSource wraps loader in a DataSource.
func NewPageKeyedDataSource[K, V any](loader PageKeyedLoader[K], opts ...SourceOption) *PageKeyedDataSource[K, V] {
	s := &PageKeyedDataSource[K, V]{loader: loader}
	s.init(opts)
	return s
}

// Keys returns the current previous and next page keys.
func (s *PageKeyedDataSource[K, V]) Keys() (previousKey, nextKey *K) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	return s.previousKey, s.nextKey
}

// ResetKeys overwrites both page keys.
func (s *PageKeyedDataSource[K, V]) ResetKeys(previousKey, nextKey *K) {
	s.keyMu.Lock()
	s.previousKey, s.nextKey = previousKey, nextKey
	s.keyMu.Unlock()
}

func (s *PageKeyedDataSource[K, V]) setPreviousKey(key *K) {
	s.keyMu.Lock()
	s.previousKey = key
	s.keyMu.Unlock()
}

func (s *PageKeyedDataSource[K, V]) setNextKey(key *K) {
	s.keyMu.Lock()
	s.nextKey = key
	s.keyMu.Unlock()
}

func (s *PageKeyedDataSource[K, V]) dispatchLoadInitial(key *K, initialLoadSize, _ int, receiver pageReceiver) {
	callback := &InitialCallback[K]{token: s.newToken(ResultInit)}
	callback.deliver = func(loadedCount int, previousPageKey, nextPageKey *K) {
		if s.dispatchInvalidIfInvalid(receiver, ResultInit, loadedCount) {
			return
		}
		s.ResetKeys(previousPageKey, nextPageKey)
		receiver.onPageResult(PageResult{Type: ResultInit, LoadedCount: loadedCount})
	}

	s.loader.LoadInitial(LoadInitialParams[K]{
		InitialKey:        key,
		RequestedLoadSize: initialLoadSize,
	}, callback)
}

func (s *PageKeyedDataSource[K, V]) dispatchLoadBefore(_, currentItemsCount int, _ V, pageSize int, receiver pageReceiver) bool {
	previousKey, _ := s.Keys()
	if previousKey == nil {
		return false
	}

	callback := &LoadCallback[K]{token: s.newToken(ResultPrepend)}
	callback.deliver = func(loadedCount int, adjacentPageKey *K) {
		if s.dispatchInvalidIfInvalid(receiver, ResultPrepend, loadedCount) {
			return
		}
		s.setPreviousKey(adjacentPageKey)
		receiver.onPageResult(PageResult{Type: ResultPrepend, LoadedCount: loadedCount})
	}

	s.loader.LoadBefore(LoadParams[K]{
		Key:               *previousKey,
		RequestedLoadSize: pageSize,
		CurrentItemsCount: currentItemsCount,
	}, callback)
	return true
}

func (s *PageKeyedDataSource[K, V]) dispatchLoadAfter(_, currentItemsCount int, _ V, pageSize int, receiver pageReceiver) bool {
	_, nextKey := s.Keys()
	if nextKey == nil {
		return false
	}

	callback := &LoadCallback[K]{token: s.newToken(ResultAppend)}
	callback.deliver = func(loadedCount int, adjacentPageKey *K) {
		if s.dispatchInvalidIfInvalid(receiver, ResultAppend, loadedCount) {
			return
		}
		s.setNextKey(adjacentPageKey)
		receiver.onPageResult(PageResult{Type: ResultAppend, LoadedCount: loadedCount})
	}

	s.loader.LoadAfter(LoadParams[K]{
		Key:               *nextKey,
		RequestedLoadSize: pageSize,
		CurrentItemsCount: currentItemsCount,
	}, callback)
	return true
}

// lastKey is always nil: page keys are not persisted across generations, so
// a rebuild starts from the initial key.
func (s *PageKeyedDataSource[K, V]) lastKey(int, V, bool) *K {
	return nil
}
