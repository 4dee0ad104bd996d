package pagedlist

import "errors"

var (
	// ErrCallbackResolved is returned when a load callback is resolved more
	// than once.
	ErrCallbackResolved = errors.New("pagedlist: load callback already resolved")

	// ErrNegativeLoadedCount is returned when a load callback is resolved with
	// a negative item count other than the invalid sentinel.
	ErrNegativeLoadedCount = errors.New("pagedlist: negative loaded count")
)
