package cached

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestHelperRunIfNotRunning(t *testing.T) {
	h := NewRequestHelper()

	var pending *RequestCallback
	require.True(t, h.RunIfNotRunning(RequestAfter, func(done *RequestCallback) { pending = done }))
	assert.False(t, h.RunIfNotRunning(RequestAfter, func(*RequestCallback) { t.Fatal("ran twice") }))

	// Other types are independent.
	assert.True(t, h.RunIfNotRunning(RequestInitial, func(done *RequestCallback) { done.RecordSuccess() }))

	status, _ := h.Status(RequestAfter)
	assert.Equal(t, StatusRunning, status)

	pending.RecordSuccess()
	pending.RecordFailure(errors.New("late"))
	status, err := h.Status(RequestAfter)
	assert.Equal(t, StatusSucceeded, status)
	assert.NoError(t, err)

	assert.True(t, h.RunIfNotRunning(RequestAfter, func(done *RequestCallback) { done.RecordSuccess() }))
}

func TestRequestHelperRetryAllFailed(t *testing.T) {
	h := NewRequestHelper()
	boom := errors.New("boom")

	attempts := 0
	request := func(done *RequestCallback) {
		attempts++
		if attempts < 3 {
			done.RecordFailure(boom)
			return
		}
		done.RecordSuccess()
	}

	h.RunIfNotRunning(RequestInitial, request)
	status, err := h.Status(RequestInitial)
	assert.Equal(t, StatusFailed, status)
	assert.ErrorIs(t, err, boom)

	assert.True(t, h.RetryAllFailed())
	assert.True(t, h.RetryAllFailed())
	assert.False(t, h.RetryAllFailed())
	assert.Equal(t, 3, attempts)

	status, err = h.Status(RequestInitial)
	assert.Equal(t, StatusSucceeded, status)
	assert.NoError(t, err)
}

func TestRequestHelperRecordResult(t *testing.T) {
	h := NewRequestHelper()

	h.RunIfNotRunning(RequestBefore, func(done *RequestCallback) { done.RecordFailure(errors.New("x")) })
	h.RecordResult(RequestBefore, nil)
	assert.False(t, h.RetryAllFailed())

	h.RecordResult(RequestInitial, errors.New("y"))
	status, _ := h.Status(RequestInitial)
	assert.Equal(t, StatusFailed, status)
	// A recorded failure without a request has nothing to rerun.
	assert.False(t, h.RetryAllFailed())

	var pending *RequestCallback
	h.RunIfNotRunning(RequestAfter, func(done *RequestCallback) { pending = done })
	h.RecordResult(RequestAfter, nil)
	status, _ = h.Status(RequestAfter)
	assert.Equal(t, StatusRunning, status)
	pending.RecordSuccess()
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "initial", RequestInitial.String())
	assert.Equal(t, "after", RequestAfter.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "next_page", KindNextPage.String())
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
