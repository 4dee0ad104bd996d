package fetch

import (
	"context"
	"strconv"
	"sync/atomic"
)

// rangeFetcher serves the integers [start, end) with numeric string cursors
// and counts its calls.
type rangeFetcher struct {
	start, end int
	step       int
	calls      atomic.Int32
}

func newRangeFetcher(start, end int) *rangeFetcher {
	return &rangeFetcher{start: start, end: end, step: 1}
}

func (r *rangeFetcher) Fetch(ctx context.Context, cursor string, limit int) (Page[string, int], error) {
	r.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return Page[string, int]{}, err
	}

	current := r.start
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return Page[string, int]{}, Permanent(err)
		}
		current = parsed
	}

	var items []int
	for len(items) < limit && current < r.end {
		items = append(items, current)
		current += r.step
	}
	page := Page[string, int]{Items: items, HasMore: current < r.end}
	if page.HasMore {
		page.Next = strconv.Itoa(current)
	}
	return page, nil
}
