package workerkit

import (
	"context"
	"sync"

	"github.com/cuemby/kuix/internal/kuixlog"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/lifecycle"
)

// Component is a lifecycle-governed sub-unit owned by a worker or by the
// controller. Call is the component's own domain dispatch table, reached
// through host.callWorkerComponent / controller.callKuixComponent.
type Component interface {
	OnOpen(ctx context.Context) error
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	OnClose(ctx context.Context) error
	Call(method string, args []any, kwargs map[string]any) (any, error)
}

// ComponentHandle is the engine-owned wrapper around a user Component:
// identifier, lifecycle machine, and the component itself.
type ComponentHandle struct {
	ID        string
	Component Component
	Machine   *lifecycle.Machine
}

func newComponentHandle(id string, c Component) *ComponentHandle {
	return &ComponentHandle{ID: id, Component: c, Machine: lifecycle.New()}
}

func (ch *ComponentHandle) Open(ctx context.Context) error  { return ch.Machine.Open(ctx, ch.Component.OnOpen) }
func (ch *ComponentHandle) Start(ctx context.Context) error { return ch.Machine.Start(ctx, ch.Component.OnStart) }
func (ch *ComponentHandle) Stop(ctx context.Context) error  { return ch.Machine.Stop(ctx, ch.Component.OnStop) }
func (ch *ComponentHandle) Close(ctx context.Context) error { return ch.Machine.Close(ctx, ch.Component.OnClose) }

// ComponentSet is the mutex-guarded id -> ComponentHandle registry shared
// by worker handles and the controller's own controller-local components
// (spec.md §4.6's addComponent/.../closeComponent bullet list).
type ComponentSet struct {
	mu         sync.Mutex
	components map[string]*ComponentHandle
}

// NewComponentSet returns an empty ComponentSet.
func NewComponentSet() *ComponentSet {
	return &ComponentSet{components: make(map[string]*ComponentHandle)}
}

// Add registers a new component under id.
func (s *ComponentSet) Add(id string, c Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.components[id]; ok {
		return kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonWorkerAlreadyAdded, "component %q already added", id)
	}
	s.components[id] = newComponentHandle(id, c)
	return nil
}

// Remove deletes id, requiring it be INIT or CLOSED, mirroring the
// worker-removal guard in spec.md §4.5.
func (s *ComponentSet) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.components[id]
	if !ok {
		return kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonUnknownComponent, "unknown component %q", id)
	}
	switch ch.Machine.Snapshot() {
	case lifecycle.Init, lifecycle.Closed:
		delete(s.components, id)
		return nil
	default:
		return kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonWorkerState,
			"component %q must be INIT or CLOSED to remove, is %s", id, ch.Machine.Snapshot())
	}
}

// Get returns the handle for id, or an UnknownComponent failure.
func (s *ComponentSet) Get(id string) (*ComponentHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.components[id]
	if !ok {
		return nil, kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonUnknownComponent, "unknown component %q", id)
	}
	return ch, nil
}

// Call resolves id and dispatches method on it, per
// host.callWorkerComponent / controller.callKuixComponent.
func (s *ComponentSet) Call(id, method string, args []any, kwargs map[string]any) (any, error) {
	ch, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return ch.Component.Call(method, args, kwargs)
}

// Snapshot returns a copy of the registry for traversal (used by KillAll),
// in no particular order.
func (s *ComponentSet) Snapshot() []*ComponentHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ComponentHandle, 0, len(s.components))
	for _, ch := range s.components {
		out = append(out, ch)
	}
	return out
}

// KillAll best-effort stops (if RUNNING) then closes (if OPENED) every
// owned component, swallowing guard failures, logging hook failures,
// never letting a child failure abort the traversal.
func (s *ComponentSet) KillAll(ctx context.Context) {
	for _, ch := range s.Snapshot() {
		if ch.Machine.Snapshot() == lifecycle.Running {
			if err := ch.Stop(ctx); err != nil {
				kuixlog.Logger.Warn().Str("component_id", ch.ID).Err(err).Msg("component stop failed during kill")
			}
		}
		if ch.Machine.Snapshot() == lifecycle.Opened {
			if err := ch.Close(ctx); err != nil {
				kuixlog.Logger.Warn().Str("component_id", ch.ID).Err(err).Msg("component close failed during kill")
			}
		}
	}
}
