package pagedlist

// ResultType identifies which load produced a PageResult.
type ResultType int

const (
	ResultInit ResultType = iota
	ResultAppend
	ResultPrepend
)

func (t ResultType) String() string {
	switch t {
	case ResultInit:
		return "init"
	case ResultAppend:
		return "append"
	case ResultPrepend:
		return "prepend"
	default:
		return "unknown"
	}
}

const invalidLoadedCount = -1

// PageResult is what a DataSource reports back to its PagedList once a load
// completes.
type PageResult struct {
	Type        ResultType
	LoadedCount int
}

// Invalid reports whether r is the sentinel sent by an invalidated DataSource.
func (r PageResult) Invalid() bool {
	return r.LoadedCount == invalidLoadedCount
}

func invalidResult(t ResultType) PageResult {
	return PageResult{Type: t, LoadedCount: invalidLoadedCount}
}

// pageReceiver consumes page results. It may be called from any goroutine.
type pageReceiver interface {
	onPageResult(result PageResult)
}
