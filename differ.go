package pagedlist

// ListUpdateCallback receives range notifications for a list consumer.
type ListUpdateCallback interface {
	OnInserted(position, count int)
	OnRemoved(position, count int)
	OnChanged(position, count int, payload any)
}

// ListUpdateFuncs adapts optional functions to ListUpdateCallback.
type ListUpdateFuncs struct {
	Inserted func(position, count int)
	Removed  func(position, count int)
	Changed  func(position, count int, payload any)
}

func (f ListUpdateFuncs) OnInserted(position, count int) {
	if f.Inserted != nil {
		f.Inserted(position, count)
	}
}

func (f ListUpdateFuncs) OnRemoved(position, count int) {
	if f.Removed != nil {
		f.Removed(position, count)
	}
}

func (f ListUpdateFuncs) OnChanged(position, count int, payload any) {
	if f.Changed != nil {
		f.Changed(position, count, payload)
	}
}

// Differ observes the collection behind a PagedList and forwards its change
// sets to a consumer as ordered range notifications. It also serves the
// consumer's item reads, triggering loads around the accessed position.
//
// A Differ must be used on the same Executor as its PagedList and the
// collection's change feed.
type Differ[K, V any] struct {
	list             *PagedList[K, V]
	updates          ListUpdateCallback
	payloadProvider  func(position int) any
	additionalOffset int
	unsubscribe      func()

	// reported is the item count the consumer has been told about.
	reported int
}

// NewDiffer subscribes to list's collection and forwards its changes to
// updates.
func NewDiffer[K, V any](list *PagedList[K, V], updates ListUpdateCallback) *Differ[K, V] {
	d := &Differ[K, V]{updates: updates}
	d.SetList(list)
	return d
}

// SetList switches the differ to a new list generation. Rows reported for the
// previous list are removed before the new list's rows are inserted.
func (d *Differ[K, V]) SetList(list *PagedList[K, V]) {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	if d.reported > 0 {
		d.updates.OnRemoved(d.additionalOffset, d.reported)
		d.reported = 0
	}

	d.list = list
	if list != nil {
		d.unsubscribe = list.storage.Collection().Subscribe(d.onChange)
	}
}

// List returns the current list.
func (d *Differ[K, V]) List() *PagedList[K, V] {
	return d.list
}

// SetPayloadProvider makes changes be reported one position at a time with
// the payload returned by fn.
func (d *Differ[K, V]) SetPayloadProvider(fn func(position int) any) {
	d.payloadProvider = fn
}

// SetAdditionalOffset shifts every reported position by offset, for
// consumers showing header rows before the list.
func (d *Differ[K, V]) SetAdditionalOffset(offset int) {
	d.additionalOffset = offset
}

// ItemCount returns the number of rows the consumer should show.
func (d *Differ[K, V]) ItemCount() int {
	if d.list == nil {
		return d.additionalOffset
	}
	return d.list.Len() + d.additionalOffset
}

// Item returns the item shown at position and loads around it.
func (d *Differ[K, V]) Item(position int) (V, bool) {
	if d.list == nil {
		var zero V
		return zero, false
	}
	index := position - d.additionalOffset
	d.list.LoadAround(index)
	return d.list.Get(index)
}

// Close stops observing the collection.
func (d *Differ[K, V]) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

func (d *Differ[K, V]) onChange(cs ChangeSet) {
	offset := d.additionalOffset

	if cs.State == ChangeInitial {
		for _, r := range cs.Insertions {
			d.updates.OnInserted(r.Start+offset, r.Length)
			d.reported += r.Length
		}
		return
	}

	// Later deletions first, so earlier ranges keep their positions.
	for i := len(cs.Deletions) - 1; i >= 0; i-- {
		r := cs.Deletions[i]
		d.updates.OnRemoved(r.Start+offset, r.Length)
		d.reported -= r.Length
	}
	for _, r := range cs.Insertions {
		d.updates.OnInserted(r.Start+offset, r.Length)
		d.reported += r.Length
	}
	for _, r := range cs.Changes {
		if d.payloadProvider == nil {
			d.updates.OnChanged(r.Start+offset, r.Length, nil)
			continue
		}
		for i := 0; i < r.Length; i++ {
			position := r.Start + offset + i
			d.updates.OnChanged(position, 1, d.payloadProvider(position))
		}
	}
}
