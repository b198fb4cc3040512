// Package connector implements the per-process listener: it drains a
// process's hub slots, dispatching incoming requests to the bound local
// capability and fanning queued events out to local subscribers.
package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/kuix/capability"
	"github.com/cuemby/kuix/eventregistry"
	"github.com/cuemby/kuix/hub"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/process"
	"github.com/rs/zerolog"
)

// Callback is a local event subscriber. Per-subscriber failures are
// logged and never propagated to the trigger site.
type Callback func(args []any, kwargs map[string]any)

// SubscriptionID identifies one Subscribe call, for Unsubscribe.
type SubscriptionID uint64

type subscriber struct {
	id SubscriptionID
	cb Callback
}

// DefaultPollInterval is the idle-sleep between drain passes, matching
// the spec's "microsecond scale" idle poll.
const DefaultPollInterval = 500 * time.Microsecond

// Connector is the listener bound to one process id.
type Connector struct {
	pid    process.ID
	hub    *hub.SharedHub
	local  capability.API
	logger zerolog.Logger

	// PollInterval is the idle-sleep between drain passes. Defaults to
	// DefaultPollInterval; exported so tests can tighten it.
	PollInterval time.Duration

	mu          sync.Mutex
	subscribers map[eventregistry.Name][]subscriber
	nextSubID   SubscriptionID

	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Connector bound to pid, dispatching requests to local.
func New(pid process.ID, h *hub.SharedHub, local capability.API, logger zerolog.Logger) *Connector {
	return &Connector{
		pid:          pid,
		hub:          h,
		local:        local,
		logger:       logger.With().Str("process_id", string(pid)).Logger(),
		PollInterval: DefaultPollInterval,
		subscribers:  make(map[eventregistry.Name][]subscriber),
		stopCh:       make(chan struct{}),
	}
}

// Start spawns the listener goroutine. Registration with the hub is
// implicit: the hub creates a process's slots lazily on first use.
func (c *Connector) Start() {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return
	}
	c.wg.Add(1)
	go c.loop()
}

// Close stops the listener and waits for it to exit. Pending hub slots
// are not drained; a caller still blocked on hub.Call unblocks only if
// something produces a late response or the call was cancelled.
func (c *Connector) Close() {
	if !c.signalStop() {
		return
	}
	c.wg.Wait()
}

// CloseAsync signals the listener to stop without waiting for it to exit.
// A dispatched call (e.g. a host's "close"/"kill" method) runs on the
// listener's own loop goroutine; calling Close from there would deadlock
// in wg.Wait against itself. CloseAsync lets that goroutine request its
// own shutdown and return, leaving the loop to observe stopCh and exit on
// its own next iteration.
func (c *Connector) CloseAsync() {
	c.signalStop()
}

func (c *Connector) signalStop() bool {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return false
	}
	close(c.stopCh)
	return true
}

func (c *Connector) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		c.pumpEvents()
		c.pumpCall()
		select {
		case <-c.stopCh:
			return
		case <-time.After(c.PollInterval):
		}
	}
}

func (c *Connector) pumpEvents() {
	c.mu.Lock()
	events := make([]eventregistry.Name, 0, len(c.subscribers))
	for event := range c.subscribers {
		events = append(events, event)
	}
	c.mu.Unlock()

	for _, event := range events {
		for _, tuple := range c.hub.GetEvents(c.pid, event) {
			c.mu.Lock()
			subs := append([]subscriber(nil), c.subscribers[event]...)
			c.mu.Unlock()
			for _, s := range subs {
				go c.deliver(event, s, tuple)
			}
		}
	}
}

func (c *Connector) deliver(event eventregistry.Name, s subscriber, tuple hub.EventTuple) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("event", string(event)).
				Interface("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	s.cb(tuple.Args, tuple.Kwargs)
}

func (c *Connector) pumpCall() {
	req, ok := c.hub.GetCall(c.pid)
	if !ok {
		return
	}
	result, err := c.local.Call(context.Background(), req.Method, req.Args, req.Kwargs)
	if err != nil {
		c.logger.Debug().Str("method", req.Method).Err(err).Msg("dispatched call failed")
		c.hub.SetResponse(c.pid, nil, kxerrors.ToFailure(err))
		return
	}
	c.hub.SetResponse(c.pid, result, nil)
}

// Subscribe validates that cb is callable and that paramNames — the
// kwargs names cb actually reads off its callback's kwargs map — are a
// subset of event's declared parameter set, per the §4.4 subscription
// contract, then registers cb as a local subscriber, telling the hub to
// begin buffering on the first local subscriber for this event.
func (c *Connector) Subscribe(event eventregistry.Name, paramNames []string, cb Callback) (SubscriptionID, error) {
	if cb == nil {
		return 0, kxerrors.New(kxerrors.KindSubscription, kxerrors.ReasonNotCallable, "subscriber callback must not be nil")
	}
	if err := eventregistry.Validate(event, paramNames); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	first := len(c.subscribers[event]) == 0
	c.nextSubID++
	id := c.nextSubID
	c.subscribers[event] = append(c.subscribers[event], subscriber{id: id, cb: cb})
	if first {
		if err := c.hub.Subscribe(c.pid, event); err != nil {
			// unreachable given the Validate call above, but keep the
			// subscriber table consistent if it ever does happen.
			c.subscribers[event] = c.subscribers[event][:len(c.subscribers[event])-1]
			return 0, err
		}
	}
	return id, nil
}

// Unsubscribe removes one subscriber. When it was the last local
// subscriber for event, the hub is told to stop buffering it.
func (c *Connector) Unsubscribe(event eventregistry.Name, id SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subscribers[event]
	for i, s := range subs {
		if s.id == id {
			c.subscribers[event] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(c.subscribers[event]) == 0 {
		delete(c.subscribers, event)
		c.hub.Unsubscribe(c.pid, event)
	}
}
