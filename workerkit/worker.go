// Package workerkit implements the lifecycle-governed Worker/Component
// layer: user objects wrapped with an engine-owned lifecycle machine, a
// component registry, and — for workers whose body also implements
// Runner — a supervised execution goroutine.
package workerkit

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/kuix/capability"
	"github.com/cuemby/kuix/internal/kuixlog"
	"github.com/cuemby/kuix/lifecycle"
)

// Worker is the user-implemented object a Host owns.
type Worker interface {
	OnOpen(ctx context.Context) error
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	OnClose(ctx context.Context) error
}

// Runner is the optional interface a Worker may additionally implement to
// run a body goroutine while RUNNING. A Worker that doesn't implement
// Runner is a legitimate, common case — e.g. a pure component container —
// and Start simply flips the lifecycle state with no body goroutine.
type Runner interface {
	Run(ctx context.Context, stop <-chan struct{}) error
}

// StopTimeout bounds how long Stop waits for a Runner's body goroutine to
// observe the stop signal before leaking it with a warning, per the
// source's documented behavior for dangling worker threads.
const StopTimeout = 5 * time.Second

// Handle is the engine-owned wrapper around a user Worker: lifecycle
// state, component registry, the bound host/controller capability the
// worker can call back through, and (while RUNNING, for a Runner) the
// body goroutine's lifetime.
type Handle struct {
	ID         string
	Worker     Worker
	HostCap    capability.API
	Machine    *lifecycle.Machine
	Components *ComponentSet

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHandle wraps w, bound to hostCap for callbacks into the owning
// host/controller.
func NewHandle(id string, w Worker, hostCap capability.API) *Handle {
	return &Handle{
		ID:         id,
		Worker:     w,
		HostCap:    hostCap,
		Machine:    lifecycle.New(),
		Components: NewComponentSet(),
	}
}

// Open runs the worker's OnOpen hook under the INIT->OPENED guard.
func (h *Handle) Open(ctx context.Context) error {
	return h.Machine.Open(ctx, h.Worker.OnOpen)
}

// Start runs the worker's OnStart hook under the OPENED->RUNNING guard
// and, if the worker implements Runner, spawns its body goroutine.
func (h *Handle) Start(ctx context.Context) error {
	return h.Machine.Start(ctx, func(ctx context.Context) error {
		if err := h.Worker.OnStart(ctx); err != nil {
			return err
		}
		runner, ok := h.Worker.(Runner)
		if !ok {
			return nil
		}
		h.mu.Lock()
		h.stopCh = make(chan struct{})
		stopCh := h.stopCh
		h.mu.Unlock()
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := runner.Run(ctx, stopCh); err != nil {
				kuixlog.Logger.Error().Str("worker_id", h.ID).Err(err).Msg("worker body exited with error")
			}
		}()
		return nil
	})
}

// Stop signals the body goroutine (if any), runs OnStop, and waits up to
// StopTimeout for the body to exit, leaking it with a warning on timeout
// rather than force-terminating it.
func (h *Handle) Stop(ctx context.Context) error {
	return h.Machine.Stop(ctx, func(ctx context.Context) error {
		// Clear h.stopCh before closing it, not after: a retried Stop (a
		// failed StopWorker followed by KillWorker, or two StopWorker
		// calls) must never see the same channel twice, whether or not
		// OnStop below succeeds.
		h.mu.Lock()
		stopCh := h.stopCh
		h.stopCh = nil
		h.mu.Unlock()
		if stopCh != nil {
			close(stopCh)
		}
		hookErr := h.Worker.OnStop(ctx)
		if stopCh != nil {
			if !h.waitBody(StopTimeout) {
				kuixlog.Logger.Warn().Str("worker_id", h.ID).Msg("worker body did not exit before stop timeout; leaking goroutine")
			}
		}
		return hookErr
	})
}

func (h *Handle) waitBody(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close runs the worker's OnClose hook under the OPENED->CLOSED guard.
func (h *Handle) Close(ctx context.Context) error {
	return h.Machine.Close(ctx, h.Worker.OnClose)
}

// KillComponents best-effort stops and closes every owned component so a
// killed worker never leaves orphaned running components behind.
func (h *Handle) KillComponents(ctx context.Context) {
	h.Components.KillAll(ctx)
}
