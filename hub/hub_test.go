package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/kuix/eventregistry"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallBlocksUntilSetResponse(t *testing.T) {
	h := New()
	pid := process.ID("p1")

	done := make(chan struct{})
	var result any
	var callErr error
	go func() {
		result, callErr = h.Call(context.Background(), pid, "ping", []any{1}, nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := h.GetCall(pid)
		if ok {
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	h.SetResponse(pid, "pong", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Call did not unblock")
	}
	require.NoError(t, callErr)
	assert.Equal(t, "pong", result)
}

func TestGetCallDrainsRequestOnce(t *testing.T) {
	h := New()
	pid := process.ID("p1")
	go h.Call(context.Background(), pid, "m", nil, nil)

	var req Request
	var ok bool
	require.Eventually(t, func() bool {
		req, ok = h.GetCall(pid)
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, "m", req.Method)

	_, ok = h.GetCall(pid)
	assert.False(t, ok, "request slot should be empty after one GetCall")

	h.SetResponse(pid, nil, nil)
}

func TestConcurrentCallOnSameProcessIsRejected(t *testing.T) {
	h := New()
	pid := process.ID("p1")

	started := make(chan struct{})
	go func() {
		close(started)
		h.Call(context.Background(), pid, "slow", nil, nil)
	}()
	<-started
	require.Eventually(t, func() bool {
		_, ok := h.GetCall(pid)
		return ok
	}, time.Second, time.Millisecond)

	_, err := h.Call(context.Background(), pid, "other", nil, nil)
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindTransport, kxerrors.ReasonProcessBusy))

	h.SetResponse(pid, nil, nil)
}

func TestCallPropagatesFailure(t *testing.T) {
	h := New()
	pid := process.ID("p1")

	done := make(chan error, 1)
	go func() {
		_, err := h.Call(context.Background(), pid, "boom", nil, nil)
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, ok := h.GetCall(pid)
		return ok
	}, time.Second, time.Millisecond)

	failure := &kxerrors.Failure{
		Kind:     kxerrors.KindLookup,
		Reason:   kxerrors.ReasonUnknownComponent,
		Message:  "no such component",
		Contexts: []string{"host.callWorkerComponent"},
	}
	h.SetResponse(pid, nil, failure)

	err := <-done
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindLookup, kxerrors.ReasonUnknownComponent))
}

func TestCallCancelledByContext(t *testing.T) {
	h := New()
	pid := process.ID("p1")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Call(ctx, pid, "never answered", nil, nil)
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindTransport, kxerrors.ReasonCallCancelled))

	// A second call is accepted once the first has been abandoned.
	done := make(chan struct{})
	go func() {
		h.Call(context.Background(), pid, "second", nil, nil)
		close(done)
	}()
	require.Eventually(t, func() bool {
		_, ok := h.GetCall(pid)
		return ok
	}, time.Second, time.Millisecond)
	h.SetResponse(pid, "ok", nil)
	<-done
}

func TestSetResponseWithoutWaiterIsDropped(t *testing.T) {
	h := New()
	pid := process.ID("p1")
	h.SetResponse(pid, "nobody home", nil) // must not panic or block
}

func TestSubscribeTriggerGetEvents(t *testing.T) {
	h := New()
	pid := process.ID("p1")

	require.NoError(t, h.Subscribe(pid, eventregistry.WorkerStarted))

	h.Trigger(eventregistry.WorkerStarted, nil, map[string]any{"processId": "h1", "workerId": "w1"})
	h.Trigger(eventregistry.WorkerStarted, nil, map[string]any{"processId": "h1", "workerId": "w2"})
	h.Trigger(eventregistry.WorkerStopped, nil, map[string]any{"processId": "h1", "workerId": "w1"})

	events := h.GetEvents(pid, eventregistry.WorkerStarted)
	require.Len(t, events, 2)
	assert.Equal(t, "w1", events[0].Kwargs["workerId"])
	assert.Equal(t, "w2", events[1].Kwargs["workerId"])

	assert.Empty(t, h.GetEvents(pid, eventregistry.WorkerStarted), "queue should drain")
	assert.Empty(t, h.GetEvents(pid, eventregistry.WorkerStopped), "never subscribed to this event")
}

func TestSubscribeRejectsUnknownEvent(t *testing.T) {
	h := New()
	err := h.Subscribe(process.ID("p1"), eventregistry.Name("bogus"))
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindSubscription, kxerrors.ReasonUnknownEvent))
}

func TestUnsubscribeDropsQueue(t *testing.T) {
	h := New()
	pid := process.ID("p1")
	require.NoError(t, h.Subscribe(pid, eventregistry.ProcessCreated))
	h.Trigger(eventregistry.ProcessCreated, nil, map[string]any{"processId": "h1"})
	h.Unsubscribe(pid, eventregistry.ProcessCreated)
	assert.Empty(t, h.GetEvents(pid, eventregistry.ProcessCreated))
}

func TestClearProcessRejectsWhileCallInFlight(t *testing.T) {
	h := New()
	pid := process.ID("p1")
	go h.Call(context.Background(), pid, "slow", nil, nil)

	require.Eventually(t, func() bool {
		_, ok := h.GetCall(pid)
		return ok
	}, time.Second, time.Millisecond)

	err := h.ClearProcess(pid)
	require.Error(t, err)
	assert.True(t, kxerrors.Match(err, kxerrors.KindTransport, kxerrors.ReasonProcessBusy))

	h.SetResponse(pid, nil, nil)
}

func TestClearProcessRemovesState(t *testing.T) {
	h := New()
	pid := process.ID("p1")
	require.NoError(t, h.Subscribe(pid, eventregistry.ProcessCreated))
	h.Trigger(eventregistry.ProcessCreated, nil, map[string]any{"processId": "h1"})

	require.NoError(t, h.ClearProcess(pid))
	assert.Empty(t, h.GetEvents(pid, eventregistry.ProcessCreated))

	require.NoError(t, h.ClearProcess(process.ID("never-seen")))
}

func TestConcurrentCallsOnDistinctProcesses(t *testing.T) {
	h := New()
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		pid := process.ID(string(rune('a' + i)))
		wg.Add(1)
		go func(pid process.ID) {
			defer wg.Done()
			done := make(chan struct{})
			go func() {
				v, err := h.Call(context.Background(), pid, "m", nil, nil)
				assert.NoError(t, err)
				assert.Equal(t, "ack", v)
				close(done)
			}()
			require.Eventually(t, func() bool {
				_, ok := h.GetCall(pid)
				return ok
			}, time.Second, time.Millisecond)
			h.SetResponse(pid, "ack", nil)
			<-done
		}(pid)
	}
	wg.Wait()
}
