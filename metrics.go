package pagedlist

// Direction names a dispatch direction.
type Direction string

const (
	DirectionInitial Direction = "initial"
	DirectionBefore  Direction = "before"
	DirectionAfter   Direction = "after"
)

// Edge names a boundary callback.
type Edge string

const (
	EdgeZero  Edge = "zero"
	EdgeFront Edge = "front"
	EdgeEnd   Edge = "end"
)

// Metrics receives PagedList events. A nil Metrics disables collection.
// Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveDispatch(direction Direction)
	ObservePage(resultType ResultType, loadedCount int)
	ObserveBoundary(edge Edge)
	ObserveDetach()
}
