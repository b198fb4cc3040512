// Package lifecycle implements the four-state machine shared by workers
// and components: INIT -> OPENED -> RUNNING <-> OPENED -> CLOSED, with
// CLOSED absorbing. Guards run before the caller's hook; a failing guard
// or hook never mutates state.
package lifecycle

import (
	"context"
	"sync"

	"github.com/cuemby/kuix/kxerrors"
)

// State is one of the four lifecycle states.
type State int

const (
	Init State = iota
	Opened
	Running
	Closed
)

// String renders State for logs, matching the spec's event naming.
func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Opened:
		return "OPENED"
	case Running:
		return "RUNNING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Hook is a user-supplied callback run as part of a composite operation.
// A nil hook is treated as a no-op that always succeeds.
type Hook func(ctx context.Context) error

// Machine is a mutex-guarded INIT/OPENED/RUNNING/CLOSED state holder. The
// zero value is in the INIT state, the same as one returned by New.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a Machine in the INIT state.
func New() *Machine {
	return &Machine{state: Init}
}

// Snapshot returns the current state without mutating it.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func runHook(ctx context.Context, which string, hook Hook) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx); err != nil {
		return kxerrors.WrapCause(which, err)
	}
	return nil
}

// Open requires INIT and transitions to OPENED after hook succeeds.
func (m *Machine) Open(ctx context.Context, hook Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Init {
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonAlreadyOpened, "already opened")
	}
	if err := runHook(ctx, "open", hook); err != nil {
		return err
	}
	m.state = Opened
	return nil
}

// Start requires OPENED and transitions to RUNNING after hook succeeds.
func (m *Machine) Start(ctx context.Context, hook Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Init:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonNotOpened, "not opened")
	case Running:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonAlreadyRunning, "already running")
	case Closed:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonClosed, "closed")
	}
	if err := runHook(ctx, "start", hook); err != nil {
		return err
	}
	m.state = Running
	return nil
}

// Stop requires RUNNING and transitions back to OPENED after hook succeeds.
func (m *Machine) Stop(ctx context.Context, hook Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Init, Opened:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonNotRunning, "not running")
	case Closed:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonClosed, "closed")
	}
	if err := runHook(ctx, "stop", hook); err != nil {
		return err
	}
	m.state = Opened
	return nil
}

// Close requires OPENED and transitions to CLOSED after hook succeeds.
func (m *Machine) Close(ctx context.Context, hook Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Init:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonNeverOpened, "never opened")
	case Running:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonStillRunning, "still running")
	case Closed:
		return kxerrors.New(kxerrors.KindState, kxerrors.ReasonClosed, "closed")
	}
	if err := runHook(ctx, "close", hook); err != nil {
		return err
	}
	m.state = Closed
	return nil
}
