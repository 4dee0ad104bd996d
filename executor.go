package pagedlist

import (
	"context"
	"errors"
	"sync"
)

// ErrLooperClosed is returned by Looper.Call after Close.
var ErrLooperClosed = errors.New("pagedlist: looper closed")

// Executor runs tasks on the context that owns PagedList state. Tasks posted
// from one goroutine must run in the order they were posted.
type Executor interface {
	Post(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Post(task func()) { f(task) }

// Immediate runs tasks inline on the posting goroutine. It is only safe when
// every load callback resolves on the owner's goroutine.
type Immediate struct{}

func (Immediate) Post(task func()) { task() }

// Looper is a single-goroutine task queue. Tasks are posted from any
// goroutine and run in FIFO order by Run or RunPending.
type Looper struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewLooper returns an idle looper.
func NewLooper() *Looper {
	return &Looper{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues task. Tasks posted after Close are dropped.
func (l *Looper) Post(task func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call posts fn and waits for it to run. It must not be called from a task
// or from the goroutine driving the looper: fn cannot run until the caller
// returns, so Call blocks until ctx is done.
func (l *Looper) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})

	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrLooperClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is done or the looper is closed.
func (l *Looper) Run(ctx context.Context) error {
	for {
		l.RunPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// RunPending runs queued tasks, including tasks they post, until the queue
// is empty. It returns the number of tasks run. It must not be called
// concurrently with Run.
func (l *Looper) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task()
		n++
	}
}

// Pending returns the number of queued tasks.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops Run and drops queued tasks.
func (l *Looper) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}
