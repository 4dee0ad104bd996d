// Package pagedlist provides an incremental paging engine that backs a
// scrollable list with data loaded page by page from an ordered collection.
//
// The engine is made of a few cooperating pieces:
//
//   - DataSource: a single-use, monotonically invalidatable loader. Two
//     variants exist: PageKeyedDataSource, where the loader hands back explicit
//     previous/next page keys, and ItemKeyedDataSource, where keys are derived
//     from the first/last loaded item.
//   - Storage: a window over an OrderedCollection that tracks a signed
//     position offset, shifted only by prepends.
//   - PagedList: the controller. LoadAround decides how much to prepend or
//     append, keeps at most one load in flight per direction and defers
//     BoundaryCallback notifications until access comes close to an edge.
//   - Differ: translates collection change sets into ordered insert, remove
//     and change range notifications for a list consumer.
//   - Pager: builds one PagedList/DataSource generation after another,
//     rebuilding whenever the current DataSource is invalidated.
//
// All PagedList state is owned by a single Executor. Loaders may call back
// from any goroutine; results are marshaled onto the executor before they are
// applied.
//
// A minimal setup:
//
//	cfg, err := pagedlist.NewConfigBuilder().SetPageSize(20).Build()
//	if err != nil {
//	    return err
//	}
//	source := pagedlist.NewPageKeyedDataSource[int, User](loader)
//	list := pagedlist.NewBuilder[int, User](collection, source, cfg).
//	    SetExecutor(looper).
//	    Build()
//	differ := pagedlist.NewDiffer(list, adapter)
package pagedlist
