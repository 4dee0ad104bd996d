package pagedlist

// ItemKeyedLoader loads items addressed by a key derived from an item: pages
// before the first loaded item and after the last one.
type ItemKeyedLoader[K, V any] interface {
	// Key returns the key identifying item.
	Key(item V) K
	LoadInitial(params LoadInitialParams[K], callback *ResultCallback)
	LoadBefore(params LoadParams[K], callback *ResultCallback)
	LoadAfter(params LoadParams[K], callback *ResultCallback)
}

// ItemKeyedDataSource is a DataSource whose keys come from the items at the
// edges of the loaded window.
type ItemKeyedDataSource[K, V any] struct {
	sourceBase[K]
	loader ItemKeyedLoader[K, V]
}

// NewItemKeyedDataSource wraps loader in a DataSource.
func NewItemKeyedDataSource[K, V any](loader ItemKeyedLoader[K, V], opts ...SourceOption) *ItemKeyedDataSource[K, V] {
	s := &ItemKeyedDataSource[K, V]{loader: loader}
	s.init(opts)
	return s
}

func (s *ItemKeyedDataSource[K, V]) resultCallback(kind ResultType, receiver pageReceiver) *ResultCallback {
	callback := &ResultCallback{token: s.newToken(kind)}
	callback.deliver = func(loadedCount int) {
		if !s.dispatchInvalidIfInvalid(receiver, kind, loadedCount) {
			receiver.onPageResult(PageResult{Type: kind, LoadedCount: loadedCount})
		}
	}
	return callback
}

func (s *ItemKeyedDataSource[K, V]) dispatchLoadInitial(key *K, initialLoadSize, _ int, receiver pageReceiver) {
	s.loader.LoadInitial(LoadInitialParams[K]{
		InitialKey:        key,
		RequestedLoadSize: initialLoadSize,
	}, s.resultCallback(ResultInit, receiver))
}

func (s *ItemKeyedDataSource[K, V]) dispatchLoadBefore(_, currentItemsCount int, item V, pageSize int, receiver pageReceiver) bool {
	s.loader.LoadBefore(LoadParams[K]{
		Key:               s.loader.Key(item),
		RequestedLoadSize: pageSize,
		CurrentItemsCount: currentItemsCount,
	}, s.resultCallback(ResultPrepend, receiver))
	return true
}

func (s *ItemKeyedDataSource[K, V]) dispatchLoadAfter(_, currentItemsCount int, item V, pageSize int, receiver pageReceiver) bool {
	s.loader.LoadAfter(LoadParams[K]{
		Key:               s.loader.Key(item),
		RequestedLoadSize: pageSize,
		CurrentItemsCount: currentItemsCount,
	}, s.resultCallback(ResultAppend, receiver))
	return true
}

func (s *ItemKeyedDataSource[K, V]) lastKey(_ int, item V, hasItem bool) *K {
	if !hasItem {
		return nil
	}
	key := s.loader.Key(item)
	return &key
}
