package fetch

import (
	"container/heap"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor is returned by MergeFetcher for cursors it did not issue.
var ErrInvalidCursor = errors.New("fetch: invalid merge cursor")

// MergeFetcher merges several sorted shards into one paginated stream. Its
// cursor is opaque and carries every shard's cursor together with the items
// fetched from a shard but not yet returned.
type MergeFetcher[T any] struct {
	shards  []Fetcher[string, T]
	compare Comparator[T]
}

// NewMergeFetcher merges shards in the order defined by compare. Each shard
// must itself be sorted by compare. A nil compare interleaves the shards
// round-robin.
func NewMergeFetcher[T any](compare Comparator[T], shards ...Fetcher[string, T]) *MergeFetcher[T] {
	return &MergeFetcher[T]{shards: shards, compare: compare}
}

type mergeCursor struct {
	Cursors   []string          `json:"c"`
	Exhausted []bool            `json:"e"`
	Buffers   []json.RawMessage `json:"b,omitempty"`
}

type shardState[T any] struct {
	items     []T
	cursor    string
	exhausted bool
}

// Fetch implements Fetcher. A non-positive limit defaults to 10.
func (m *MergeFetcher[T]) Fetch(ctx context.Context, cursor string, limit int) (Page[string, T], error) {
	if limit <= 0 {
		limit = 10
	}
	if len(m.shards) == 0 {
		return Page[string, T]{}, nil
	}

	states, err := m.decode(cursor)
	if err != nil {
		return Page[string, T]{}, err
	}
	for i, s := range states {
		if err := m.fill(ctx, i, s, limit); err != nil {
			return Page[string, T]{}, err
		}
	}

	var items []T
	if m.compare == nil {
		items, err = m.roundRobin(ctx, states, limit)
	} else {
		items, err = m.heapMerge(ctx, states, limit)
	}
	if err != nil {
		return Page[string, T]{}, err
	}

	more := false
	for _, s := range states {
		if len(s.items) > 0 || !s.exhausted {
			more = true
			break
		}
	}
	if !more {
		return Page[string, T]{Items: items}, nil
	}
	next, err := encode(states)
	if err != nil {
		return Page[string, T]{}, err
	}
	return Page[string, T]{Items: items, Next: next, HasMore: true}, nil
}

// fill fetches the next page of shard i when its buffer ran dry.
func (m *MergeFetcher[T]) fill(ctx context.Context, i int, s *shardState[T], limit int) error {
	if len(s.items) > 0 || s.exhausted {
		return nil
	}
	page, err := m.shards[i].Fetch(ctx, s.cursor, limit)
	if err != nil {
		return fmt.Errorf("fetch shard %d: %w", i, err)
	}
	s.items = page.Items
	s.cursor = page.Next
	s.exhausted = !page.More()
	return nil
}

func (m *MergeFetcher[T]) roundRobin(ctx context.Context, states []*shardState[T], limit int) ([]T, error) {
	items := make([]T, 0, limit)
	for len(items) < limit {
		progressed := false
		for i, s := range states {
			if len(items) == limit {
				break
			}
			if err := m.fill(ctx, i, s, limit); err != nil {
				return nil, err
			}
			if len(s.items) == 0 {
				continue
			}
			items = append(items, s.items[0])
			s.items = s.items[1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return items, nil
}

func (m *MergeFetcher[T]) heapMerge(ctx context.Context, states []*shardState[T], limit int) ([]T, error) {
	items := make([]T, 0, limit)
	h := &shardHeap[T]{states: states, compare: m.compare}
	for i, s := range states {
		if len(s.items) > 0 {
			h.order = append(h.order, i)
		}
	}
	heap.Init(h)

	for len(items) < limit && h.Len() > 0 {
		i := heap.Pop(h).(int)
		s := states[i]
		items = append(items, s.items[0])
		s.items = s.items[1:]

		if err := m.fill(ctx, i, s, limit); err != nil {
			return nil, err
		}
		if len(s.items) > 0 {
			heap.Push(h, i)
		}
	}
	return items, nil
}

// shardHeap orders shard indexes by the head item of their buffers.
type shardHeap[T any] struct {
	states  []*shardState[T]
	order   []int
	compare Comparator[T]
}

func (h *shardHeap[T]) Len() int { return len(h.order) }

func (h *shardHeap[T]) Less(i, j int) bool {
	a, b := h.order[i], h.order[j]
	if r := h.compare(h.states[a].items[0], h.states[b].items[0]); r != 0 {
		return r < 0
	}
	return a < b
}

func (h *shardHeap[T]) Swap(i, j int) { h.order[i], h.order[j] = h.order[j], h.order[i] }

func (h *shardHeap[T]) Push(x any) { h.order = append(h.order, x.(int)) }

func (h *shardHeap[T]) Pop() any {
	n := len(h.order)
	i := h.order[n-1]
	h.order = h.order[:n-1]
	return i
}

func (m *MergeFetcher[T]) decode(cursor string) ([]*shardState[T], error) {
	states := make([]*shardState[T], len(m.shards))
	for i := range states {
		states[i] = &shardState[T]{}
	}
	if cursor == "" {
		return states, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var mc mergeCursor
	if err := json.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(mc.Cursors) != len(m.shards) || len(mc.Exhausted) != len(m.shards) {
		return nil, fmt.Errorf("%w: cursor covers %d shards, have %d", ErrInvalidCursor, len(mc.Cursors), len(m.shards))
	}

	for i, s := range states {
		s.cursor = mc.Cursors[i]
		s.exhausted = mc.Exhausted[i]
		if i < len(mc.Buffers) && len(mc.Buffers[i]) > 0 {
			if err := json.Unmarshal(mc.Buffers[i], &s.items); err != nil {
				return nil, fmt.Errorf("%w: shard %d buffer: %v", ErrInvalidCursor, i, err)
			}
		}
	}
	return states, nil
}

func encode[T any](states []*shardState[T]) (string, error) {
	mc := mergeCursor{
		Cursors:   make([]string, len(states)),
		Exhausted: make([]bool, len(states)),
		Buffers:   make([]json.RawMessage, len(states)),
	}
	for i, s := range states {
		mc.Cursors[i] = s.cursor
		mc.Exhausted[i] = s.exhausted
		if len(s.items) == 0 {
			mc.Buffers[i] = json.RawMessage("null")
			continue
		}
		data, err := json.Marshal(s.items)
		if err != nil {
			return "", fmt.Errorf("encode shard %d buffer: %w", i, err)
		}
		mc.Buffers[i] = data
	}
	data, err := json.Marshal(mc)
	if err != nil {
		return "", fmt.Errorf("encode merge cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}
