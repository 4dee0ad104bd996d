package pagedlist

// Storage is the window a PagedList exposes over its OrderedCollection. It
// reads through to the collection and tracks the position offset of the
// window within the logical list.
type Storage[V any] struct {
	collection     OrderedCollection[V]
	positionOffset int
}

type storageCallback interface {
	onPagePrepended(added int)
	onPageAppended(added int)
}

func newStorage[V any](collection OrderedCollection[V]) *Storage[V] {
	return &Storage[V]{collection: collection}
}

// Collection returns the backing collection.
func (s *Storage[V]) Collection() OrderedCollection[V] {
	return s.collection
}

// Len returns the number of items, 0 when the collection is invalid.
func (s *Storage[V]) Len() int {
	if !s.collection.IsValid() {
		return 0
	}
	return s.collection.Len()
}

// Get returns the item at index.
func (s *Storage[V]) Get(index int) (V, bool) {
	if index < 0 || !s.collection.IsValid() {
		var zero V
		return zero, false
	}
	return s.collection.At(index)
}

// First returns the first loaded item.
func (s *Storage[V]) First() (V, bool) {
	return s.Get(0)
}

// Last returns the last loaded item.
func (s *Storage[V]) Last() (V, bool) {
	return s.Get(s.Len() - 1)
}

// PositionOffset is zero until a page is prepended and decreases by the size
// of each prepended page.
func (s *Storage[V]) PositionOffset() int {
	return s.positionOffset
}

func (s *Storage[V]) prependPage(count int, callback storageCallback) {
	s.positionOffset -= count
	callback.onPagePrepended(count)
}

func (s *Storage[V]) appendPage(count int, callback storageCallback) {
	callback.onPageAppended(count)
}
