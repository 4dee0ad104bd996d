package cached

import (
	"sync"
	"sync/atomic"
)

// RequestType identifies the kind of load a request performs. At most one
// request of each type runs at a time.
type RequestType int

const (
	RequestInitial RequestType = iota
	RequestBefore
	RequestAfter

	requestTypes = 3
)

func (t RequestType) String() string {
	switch t {
	case RequestInitial:
		return "initial"
	case RequestBefore:
		return "before"
	case RequestAfter:
		return "after"
	default:
		return "unknown"
	}
}

// RequestStatus is the state of the latest request of a type.
type RequestStatus int

const (
	StatusIdle RequestStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s RequestStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request performs a load and reports its outcome through done exactly once.
// It may finish asynchronously.
type Request func(done *RequestCallback)

// RequestCallback reports the outcome of one Request run. Only the first
// report counts.
type RequestCallback struct {
	helper   *RequestHelper
	kind     RequestType
	request  Request
	reported atomic.Bool
}

// RecordSuccess marks the request as succeeded.
func (c *RequestCallback) RecordSuccess() {
	if c.reported.CompareAndSwap(false, true) {
		c.helper.record(c, nil)
	}
}

// RecordFailure marks the request as failed. It will run again on
// RetryAllFailed.
func (c *RequestCallback) RecordFailure(err error) {
	if c.reported.CompareAndSwap(false, true) {
		c.helper.record(c, err)
	}
}

type requestState struct {
	status  RequestStatus
	running *RequestCallback
	failed  *RequestCallback
	err     error
}

// RequestHelper deduplicates loads per RequestType and remembers failed
// ones so that they can be retried together. It is safe for concurrent use.
type RequestHelper struct {
	mu     sync.Mutex
	states [requestTypes]requestState
}

// NewRequestHelper returns an idle helper.
func NewRequestHelper() *RequestHelper {
	return &RequestHelper{}
}

// RunIfNotRunning runs request unless a request of the same type is still
// running. It reports whether request was started.
func (h *RequestHelper) RunIfNotRunning(kind RequestType, request Request) bool {
	h.mu.Lock()
	state := &h.states[kind]
	if state.running != nil {
		h.mu.Unlock()
		return false
	}
	cb := &RequestCallback{helper: h, kind: kind, request: request}
	state.running = cb
	state.failed = nil
	state.status = StatusRunning
	state.err = nil
	h.mu.Unlock()

	request(cb)
	return true
}

// RetryAllFailed runs again the latest failed request of every type that is
// not running. It reports whether any request was restarted.
func (h *RequestHelper) RetryAllFailed() bool {
	h.mu.Lock()
	var retry []*RequestCallback
	for i := range h.states {
		state := &h.states[i]
		if state.failed == nil || state.running != nil {
			continue
		}
		cb := &RequestCallback{helper: h, kind: state.failed.kind, request: state.failed.request}
		state.running = cb
		state.failed = nil
		state.status = StatusRunning
		state.err = nil
		retry = append(retry, cb)
	}
	h.mu.Unlock()

	for _, cb := range retry {
		cb.request(cb)
	}
	return len(retry) > 0
}

// Status returns the state of the latest request of kind and its error, if
// it failed.
func (h *RequestHelper) Status(kind RequestType) (RequestStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.states[kind].status, h.states[kind].err
}

// RecordResult overrides the state of kind as if a request had finished with
// err. A nil err clears any pending failure. It does not affect a running
// request.
func (h *RequestHelper) RecordResult(kind RequestType, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := &h.states[kind]
	if state.running != nil {
		return
	}
	state.err = err
	if err == nil {
		state.status = StatusSucceeded
		state.failed = nil
	} else {
		state.status = StatusFailed
	}
}

func (h *RequestHelper) record(cb *RequestCallback, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := &h.states[cb.kind]
	if state.running != cb {
		return
	}
	state.running = nil
	state.err = err
	if err != nil {
		state.status = StatusFailed
		state.failed = cb
		return
	}
	state.status = StatusSucceeded
}
