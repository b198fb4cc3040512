/*
Package hub implements SharedHub: the process-addressed mailbox store that
correlates cross-process calls and buffers pub/sub events. One request
slot and one response slot are kept per process, plus one event queue per
(process, event) pair with an active subscription.

Call installs a request and blocks until a matching SetResponse lands (or
ctx is done); GetCall/SetResponse are the non-blocking primitives the
listening side uses to service that request. A global semaphore
serializes the install and drain critical sections per the spec; the
waiter itself blocks outside of it.
*/
package hub

import (
	"context"
	"sync"

	"github.com/cuemby/kuix/eventregistry"
	"github.com/cuemby/kuix/internal/kuixlog"
	"github.com/cuemby/kuix/internal/metrics"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/process"
)

// Request is a correlated method invocation awaiting dispatch.
type Request struct {
	Method string
	Args   []any
	Kwargs map[string]any
}

// Response is the result of a Request: exactly one of Value/Failure is
// meaningful, discriminated by Failure != nil.
type Response struct {
	Value   any
	Failure *kxerrors.Failure
}

// EventTuple is one queued event posting.
type EventTuple struct {
	Args   []any
	Kwargs map[string]any
}

type procState struct {
	mu            sync.Mutex
	armed         bool // true while a Call has an outstanding response slot
	request       *Request
	respCh        chan Response
	subscriptions map[eventregistry.Name]bool
	queues        map[eventregistry.Name][]EventTuple
}

func newProcState() *procState {
	return &procState{
		respCh:        make(chan Response, 1),
		subscriptions: make(map[eventregistry.Name]bool),
		queues:        make(map[eventregistry.Name][]EventTuple),
	}
}

// SharedHub is the process-safe mailbox store shared by every host and the
// controller's own process.
type SharedHub struct {
	mu         sync.Mutex // guards procs
	installMu  sync.Mutex // the spec's "global semaphore" around install/drain
	procs      map[process.ID]*procState
}

// New constructs an empty SharedHub.
func New() *SharedHub {
	return &SharedHub{procs: make(map[process.ID]*procState)}
}

func (h *SharedHub) proc(pid process.ID) *procState {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.procs[pid]
	if !ok {
		p = newProcState()
		h.procs[pid] = p
	}
	return p
}

// Call blocks until a matching SetResponse lands on pid's response slot,
// or ctx is done first. Exactly one request and one response may be
// outstanding for pid at a time; a second concurrent Call on the same pid
// fails immediately with a Transport/ProcessBusy failure.
func (h *SharedHub) Call(ctx context.Context, pid process.ID, method string, args []any, kwargs map[string]any) (result any, err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil && kxerrors.Match(err, kxerrors.KindTransport, kxerrors.ReasonCallCancelled):
			outcome = "cancelled"
		case err != nil:
			outcome = "failure"
		}
		timer.ObserveDurationVec(metrics.CallDuration, method)
		metrics.CallsTotal.WithLabelValues(method, outcome).Inc()
	}()

	p := h.proc(pid)

	h.installMu.Lock()
	p.mu.Lock()
	if p.armed {
		p.mu.Unlock()
		h.installMu.Unlock()
		return nil, kxerrors.Newf(kxerrors.KindTransport, kxerrors.ReasonProcessBusy,
			"process %q already has a call in flight", pid)
	}
	p.armed = true
	p.request = &Request{Method: method, Args: args, Kwargs: kwargs}
	select {
	case <-p.respCh:
	default:
	}
	respCh := p.respCh
	p.mu.Unlock()
	h.installMu.Unlock()

	var resp Response
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		p.mu.Lock()
		p.armed = false
		p.mu.Unlock()
		return nil, kxerrors.Wrap(
			kxerrors.New(kxerrors.KindTransport, kxerrors.ReasonCallCancelled, ctx.Err().Error()),
			"hub.Call",
		)
	}

	h.installMu.Lock()
	p.mu.Lock()
	p.armed = false
	p.request = nil
	p.mu.Unlock()
	h.installMu.Unlock()

	if resp.Failure != nil {
		return nil, kxerrors.FromFailure(resp.Failure)
	}
	return resp.Value, nil
}

// GetCall returns and clears the currently pending request for pid, if
// any.
func (h *SharedHub) GetCall(pid process.ID) (Request, bool) {
	p := h.proc(pid)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.request == nil {
		return Request{}, false
	}
	req := *p.request
	p.request = nil
	return req, true
}

// SetResponse writes value/failure into pid's response slot and signals
// its waiter. If no Call is currently armed for pid, this is a no-op: late
// responses (after the caller gave up or was cancelled) are silently
// dropped, per spec.
func (h *SharedHub) SetResponse(pid process.ID, value any, failure *kxerrors.Failure) {
	p := h.proc(pid)
	p.mu.Lock()
	if !p.armed {
		p.mu.Unlock()
		kuixlog.Logger.Debug().Str("process_id", string(pid)).Msg("dropping late response: no waiter armed")
		return
	}
	respCh := p.respCh
	p.mu.Unlock()

	select {
	case <-respCh:
	default:
	}
	respCh <- Response{Value: value, Failure: failure}
}

// Subscribe registers pid's interest in event. Idempotent.
func (h *SharedHub) Subscribe(pid process.ID, event eventregistry.Name) error {
	if !eventregistry.Known(event) {
		return kxerrors.Newf(kxerrors.KindSubscription, kxerrors.ReasonUnknownEvent, "unknown event %q", string(event))
	}
	p := h.proc(pid)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[event] = true
	if _, ok := p.queues[event]; !ok {
		p.queues[event] = nil
	}
	return nil
}

// Unsubscribe removes pid's interest in event and drops its queue.
// Idempotent.
func (h *SharedHub) Unsubscribe(pid process.ID, event eventregistry.Name) {
	p := h.proc(pid)
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscriptions, event)
	delete(p.queues, event)
}

// Trigger appends (args, kwargs) to the queue of every process currently
// subscribed to event. FIFO per event; unordered across distinct events.
func (h *SharedHub) Trigger(event eventregistry.Name, args []any, kwargs map[string]any) {
	h.mu.Lock()
	procs := make([]*procState, 0, len(h.procs))
	for _, p := range h.procs {
		procs = append(procs, p)
	}
	h.mu.Unlock()

	depth := 0
	for _, p := range procs {
		p.mu.Lock()
		if p.subscriptions[event] {
			p.queues[event] = append(p.queues[event], EventTuple{Args: args, Kwargs: kwargs})
			depth += len(p.queues[event])
		}
		p.mu.Unlock()
	}
	metrics.EventQueueDepth.WithLabelValues(string(event)).Set(float64(depth))
}

// GetEvents atomically drains and returns all queued tuples for
// (pid, event). Returns nil if pid has no active subscription to event,
// even if triggers occurred before the subscription existed.
func (h *SharedHub) GetEvents(pid process.ID, event eventregistry.Name) []EventTuple {
	p := h.proc(pid)
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.queues[event]
	if len(q) == 0 {
		return nil
	}
	p.queues[event] = nil
	return q
}

// ClearProcess removes pid's call, response, and event-queue state.
// Fails with Transport/ProcessBusy if a Call is currently in flight for
// pid, since the source does not interlock this case and a correct
// implementation must reject rather than corrupt an in-flight call.
func (h *SharedHub) ClearProcess(pid process.ID) error {
	h.mu.Lock()
	p, ok := h.procs[pid]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	p.mu.Lock()
	armed := p.armed
	p.mu.Unlock()
	if armed {
		return kxerrors.Newf(kxerrors.KindTransport, kxerrors.ReasonProcessBusy,
			"process %q has a call in flight, close its connector first", pid)
	}

	h.mu.Lock()
	delete(h.procs, pid)
	h.mu.Unlock()
	return nil
}
