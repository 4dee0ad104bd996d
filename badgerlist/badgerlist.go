// Package badgerlist provides an observable OrderedCollection persisted in
// BadgerDB.
//
// Items are stored as JSON under position keys, so the list survives a
// restart and can back a cached data source. Reads are served from an
// in-memory mirror that is loaded on Open.
package badgerlist

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/zhangzqs/pagedlist-go"
)

// Key namespace:
//
//	"i:" + 8-byte position   item (JSON)
//	"m:head"                 position of the first item (8 bytes)
//	"m:tail"                 position after the last item (8 bytes)
//	"m:updated"              last Replace/Append/Prepend, unix nanoseconds
//
// Positions are stored with the sign bit flipped so that prepended
// (negative) positions sort before appended ones.
const prefixItem = "i:"

var (
	keyHead    = []byte("m:head")
	keyTail    = []byte("m:tail")
	keyUpdated = []byte("m:updated")
)

var (
	// ErrClosed is returned when using a list after Close.
	ErrClosed = errors.New("badgerlist: list closed")
	// ErrCorrupt is returned by Open when stored items and metadata disagree.
	ErrCorrupt = errors.New("badgerlist: corrupt list")
)

func keyItem(pos int64) []byte {
	key := make([]byte, len(prefixItem)+8)
	copy(key, prefixItem)
	binary.BigEndian.PutUint64(key[len(prefixItem):], uint64(pos)^(1<<63))
	return key
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(buf []byte) (int64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("%w: want 8 bytes, got %d", ErrCorrupt, len(buf))
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

// Option configures a List.
type Option func(*options)

type options struct {
	inMemory bool
	executor pagedlist.Executor
	now      func() time.Time
	logger   zerolog.Logger
}

// InMemory keeps the database in memory only. The directory passed to Open
// is ignored.
func InMemory() Option {
	return func(o *options) { o.inMemory = true }
}

// WithExecutor delivers change sets on executor.
func WithExecutor(executor pagedlist.Executor) Option {
	return func(o *options) { o.executor = executor }
}

// WithClock overrides the clock used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger routes badger's own logs to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// List is a persistent, observable list. It is safe for concurrent use.
type List[V any] struct {
	db     *badger.DB
	logger zerolog.Logger
	now    func() time.Time
	feed   *pagedlist.ChangeFeed

	publishMu sync.Mutex
	mu        sync.RWMutex
	items     []V
	head      int64
	updated   time.Time
	closed    bool
}

// Open opens or creates the list stored in dir.
func Open[V any](dir string, opts ...Option) (*List[V], error) {
	o := options{now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	bopts := badger.DefaultOptions(dir).WithLogger(&badgerLogger{logger: o.logger})
	if o.inMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	l := &List[V]{
		db:     db,
		logger: o.logger,
		now:    o.now,
		feed:   pagedlist.NewChangeFeed(o.executor),
	}
	if err := l.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.logger.Debug().Int("items", len(l.items)).Int64("head", l.head).Msg("list loaded")
	return l, nil
}

func (l *List[V]) load() error {
	return l.db.View(func(txn *badger.Txn) error {
		head, err := readInt64(txn, keyHead)
		if err != nil {
			return err
		}
		tail, err := readInt64(txn, keyTail)
		if err != nil {
			return err
		}
		updated, err := readInt64(txn, keyUpdated)
		if err != nil {
			return err
		}
		if tail < head {
			return fmt.Errorf("%w: head %d after tail %d", ErrCorrupt, head, tail)
		}

		items := make([]V, 0, tail-head)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixItem)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(keyItem(head)); it.ValidForPrefix(opts.Prefix); it.Next() {
			var item V
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("%w: decode item: %v", ErrCorrupt, err)
			}
			items = append(items, item)
		}
		if int64(len(items)) != tail-head {
			return fmt.Errorf("%w: %d items stored, metadata says %d", ErrCorrupt, len(items), tail-head)
		}

		l.items = items
		l.head = head
		if updated != 0 {
			l.updated = time.Unix(0, updated)
		}
		return nil
	})
}

func readInt64(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		var decErr error
		v, decErr = decodeInt64(val)
		return decErr
	})
	return v, err
}

func (l *List[V]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *List[V]) At(index int) (V, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.items) {
		var zero V
		return zero, false
	}
	return l.items[index], true
}

func (l *List[V]) IsValid() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.closed
}

func (l *List[V]) Subscribe(fn func(pagedlist.ChangeSet)) func() {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()
	return l.feed.Subscribe(l.Len(), fn)
}

// Items returns a copy of the current items.
func (l *List[V]) Items() []V {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]V(nil), l.items...)
}

// LastUpdated returns the time of the last write, or the zero time for a
// list that was never written.
func (l *List[V]) LastUpdated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updated
}

// Append stores items after the last one.
func (l *List[V]) Append(items ...V) error {
	return l.write(func(txn *badger.Txn, now time.Time) (pagedlist.ChangeSet, func(), error) {
		tail := l.head + int64(len(l.items))
		if err := putItems(txn, tail, items); err != nil {
			return pagedlist.ChangeSet{}, nil, err
		}
		if err := putMeta(txn, l.head, tail+int64(len(items)), now); err != nil {
			return pagedlist.ChangeSet{}, nil, err
		}
		start := len(l.items)
		return insertion(start, len(items)), func() {
			l.items = append(l.items, items...)
		}, nil
	})
}

// Prepend stores items before the first one.
func (l *List[V]) Prepend(items ...V) error {
	return l.write(func(txn *badger.Txn, now time.Time) (pagedlist.ChangeSet, func(), error) {
		head := l.head - int64(len(items))
		if err := putItems(txn, head, items); err != nil {
			return pagedlist.ChangeSet{}, nil, err
		}
		if err := putMeta(txn, head, l.head+int64(len(l.items)), now); err != nil {
			return pagedlist.ChangeSet{}, nil, err
		}
		return insertion(0, len(items)), func() {
			l.items = append(append(make([]V, 0, len(items)+len(l.items)), items...), l.items...)
			l.head = head
		}, nil
	})
}

// Replace swaps the stored items for items.
func (l *List[V]) Replace(items ...V) error {
	return l.write(func(txn *badger.Txn, now time.Time) (pagedlist.ChangeSet, func(), error) {
		if err := deleteItems(txn, l.head, len(l.items)); err != nil {
			return pagedlist.ChangeSet{}, nil, err
		}
		if err := putItems(txn, 0, items); err != nil {
			return pagedlist.ChangeSet{}, nil, err
		}
		if err := putMeta(txn, 0, int64(len(items)), now); err != nil {
			return pagedlist.ChangeSet{}, nil, err
		}

		cs := pagedlist.ChangeSet{}
		if n := len(l.items); n > 0 {
			cs.Deletions = []pagedlist.Range{{Start: 0, Length: n}}
		}
		if n := len(items); n > 0 {
			cs.Insertions = []pagedlist.Range{{Start: 0, Length: n}}
		}
		return cs, func() {
			l.items = append([]V(nil), items...)
			l.head = 0
		}, nil
	})
}

// Clear removes every item.
func (l *List[V]) Clear() error {
	return l.Replace()
}

// Close releases the database. The list reports itself invalid afterwards.
func (l *List[V]) Close() error {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// write runs fn in a read-write transaction. fn returns the change set and a
// commit hook that updates the mirror once the transaction succeeded.
func (l *List[V]) write(fn func(txn *badger.Txn, now time.Time) (pagedlist.ChangeSet, func(), error)) error {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	now := l.now()
	var (
		cs     pagedlist.ChangeSet
		commit func()
	)
	err := l.db.Update(func(txn *badger.Txn) error {
		var err error
		cs, commit, err = fn(txn, now)
		return err
	})
	if err != nil {
		l.mu.Unlock()
		l.logger.Error().Err(err).Msg("list write failed")
		return fmt.Errorf("badgerlist: write: %w", err)
	}
	commit()
	l.updated = now
	l.mu.Unlock()

	l.feed.Publish(cs)
	return nil
}

func putItems[V any](txn *badger.Txn, from int64, items []V) error {
	for i, item := range items {
		val, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode item: %w", err)
		}
		if err := txn.Set(keyItem(from+int64(i)), val); err != nil {
			return err
		}
	}
	return nil
}

func deleteItems(txn *badger.Txn, from int64, count int) error {
	for i := range count {
		if err := txn.Delete(keyItem(from + int64(i))); err != nil {
			return err
		}
	}
	return nil
}

func putMeta(txn *badger.Txn, head, tail int64, updated time.Time) error {
	if err := txn.Set(keyHead, encodeInt64(head)); err != nil {
		return err
	}
	if err := txn.Set(keyTail, encodeInt64(tail)); err != nil {
		return err
	}
	return txn.Set(keyUpdated, encodeInt64(updated.UnixNano()))
}

func insertion(start, length int) pagedlist.ChangeSet {
	if length == 0 {
		return pagedlist.ChangeSet{}
	}
	return pagedlist.ChangeSet{Insertions: []pagedlist.Range{{Start: start, Length: length}}}
}

// badgerLogger implements badger.Logger on zerolog. Badger is chatty at
// info level, so info is demoted to debug.
type badgerLogger struct {
	logger zerolog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error().Str("component", "badger").Msgf(format, args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn().Str("component", "badger").Msgf(format, args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debug().Str("component", "badger").Msgf(format, args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Trace().Str("component", "badger").Msgf(format, args...)
}
