// Package host implements the worker container: a process-local registry
// of workers exposed as a capability, reachable from the controller
// either in-process or through capability.Remote bound to the host's
// process id.
package host

import (
	"context"
	"sync"

	"github.com/cuemby/kuix/capability"
	"github.com/cuemby/kuix/connector"
	"github.com/cuemby/kuix/eventregistry"
	"github.com/cuemby/kuix/hub"
	"github.com/cuemby/kuix/internal/kuixlog"
	"github.com/cuemby/kuix/internal/metrics"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/lifecycle"
	"github.com/cuemby/kuix/process"
	"github.com/cuemby/kuix/workerkit"
)

// Host owns a registry of workers for one process id, with a connector
// bridging it to the shared hub and a bound Remote capability pointed at
// the controller's own process so components can call back symmetrically.
type Host struct {
	ID        process.ID
	Hub       *hub.SharedHub
	Connector *connector.Connector
	// MainCap is the host's bound remote capability to the controller's
	// process, named "main" in spec.md §4.5's last paragraph.
	MainCap *capability.Remote

	mu      sync.Mutex
	workers map[string]*workerkit.Handle
}

// New constructs a Host bound to pid, wiring its own capability.Local and
// connector.Connector, plus the bound callback capability to process.Main.
func New(pid process.ID, h *hub.SharedHub) *Host {
	host := &Host{
		ID:      pid,
		Hub:     h,
		MainCap: capability.NewRemote(process.Main, h),
		workers: make(map[string]*workerkit.Handle),
	}
	local := capability.NewLocal(host.methodTable())
	host.Connector = connector.New(pid, h, local, kuixlog.WithProcess(string(pid)))
	return host
}

func (h *Host) methodTable() map[string]capability.Method {
	return map[string]capability.Method{
		"addWorker": func(args []any, _ map[string]any) (any, error) {
			id := args[0].(string)
			w := args[1].(workerkit.Worker)
			_, err := h.AddWorker(id, w)
			return nil, err
		},
		"removeWorker": func(args []any, _ map[string]any) (any, error) {
			return nil, h.removeWorker(args[0].(string))
		},
		"openWorker": func(args []any, _ map[string]any) (any, error) {
			return nil, h.openWorker(context.Background(), args[0].(string))
		},
		"startWorker": func(args []any, _ map[string]any) (any, error) {
			return nil, h.startWorker(context.Background(), args[0].(string))
		},
		"stopWorker": func(args []any, _ map[string]any) (any, error) {
			return nil, h.stopWorker(context.Background(), args[0].(string))
		},
		"closeWorker": func(args []any, _ map[string]any) (any, error) {
			return nil, h.closeWorker(context.Background(), args[0].(string))
		},
		"killWorker": func(args []any, _ map[string]any) (any, error) {
			return nil, h.killWorker(context.Background(), args[0].(string))
		},
		"callWorkerComponent": func(args []any, kwargs map[string]any) (any, error) {
			workerID := args[0].(string)
			componentID := args[1].(string)
			method := args[2].(string)
			callArgs, _ := args[3].([]any)
			callKwargs, _ := args[4].(map[string]any)
			return h.callWorkerComponent(workerID, componentID, method, callArgs, callKwargs)
		},
		"close": func([]any, map[string]any) (any, error) {
			return nil, h.close(context.Background(), false)
		},
		"kill": func([]any, map[string]any) (any, error) {
			return nil, h.close(context.Background(), true)
		},
	}
}

// Start launches the host's connector listener. Call once after New.
func (h *Host) Start() {
	h.Connector.Start()
	h.Hub.Trigger(eventregistry.ProcessCreated, nil, map[string]any{"processId": string(h.ID)})
}

// AddWorker registers w under id, failing if id is already present. Also
// reachable through the capability table as "addWorker", since the hub
// is in-memory and can carry a live Worker value as an argument.
func (h *Host) AddWorker(id string, w workerkit.Worker) (*workerkit.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.workers[id]; ok {
		return nil, kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonWorkerAlreadyAdded, "worker %q already added", id)
	}
	handle := workerkit.NewHandle(id, w, h.MainCap)
	h.workers[id] = handle
	metrics.WorkersTotal.WithLabelValues(string(h.ID)).Inc()
	h.Hub.Trigger(eventregistry.WorkerAdded, nil, map[string]any{"processId": string(h.ID), "workerId": id})
	return handle, nil
}

func (h *Host) get(id string) (*workerkit.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.workers[id]
	if !ok {
		return nil, kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonUnknownWorker, "unknown worker %q", id)
	}
	return handle, nil
}

// removeWorker requires the worker be INIT or CLOSED.
func (h *Host) removeWorker(id string) error {
	handle, err := h.get(id)
	if err != nil {
		return err
	}
	switch handle.Machine.Snapshot() {
	case lifecycle.Init, lifecycle.Closed:
	default:
		return kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonWorkerState,
			"worker %q must be INIT or CLOSED to remove, is %s", id, handle.Machine.Snapshot())
	}

	h.mu.Lock()
	delete(h.workers, id)
	h.mu.Unlock()
	metrics.WorkersTotal.WithLabelValues(string(h.ID)).Dec()
	h.Hub.Trigger(eventregistry.WorkerRemoved, nil, map[string]any{"processId": string(h.ID), "workerId": id})
	return nil
}

func (h *Host) openWorker(ctx context.Context, id string) error {
	return h.transition(ctx, id, "open", eventregistry.WorkerOpened, (*workerkit.Handle).Open)
}

func (h *Host) startWorker(ctx context.Context, id string) error {
	return h.transition(ctx, id, "start", eventregistry.WorkerStarted, (*workerkit.Handle).Start)
}

func (h *Host) stopWorker(ctx context.Context, id string) error {
	return h.transition(ctx, id, "stop", eventregistry.WorkerStopped, (*workerkit.Handle).Stop)
}

func (h *Host) closeWorker(ctx context.Context, id string) error {
	return h.transition(ctx, id, "close", eventregistry.WorkerClosed, (*workerkit.Handle).Close)
}

func (h *Host) transition(ctx context.Context, id, name string, event eventregistry.Name, op func(*workerkit.Handle, context.Context) error) error {
	handle, err := h.get(id)
	if err != nil {
		return err
	}
	if err := op(handle, ctx); err != nil {
		metrics.WorkerLifecycleTransitions.WithLabelValues(name, "failure").Inc()
		return err
	}
	metrics.WorkerLifecycleTransitions.WithLabelValues(name, "ok").Inc()
	h.Hub.Trigger(event, nil, map[string]any{"processId": string(h.ID), "workerId": id})
	return nil
}

// killWorker best-effort stops (if RUNNING), closes (if OPENED), then
// removes the worker, swallowing lifecycle guard failures other than
// UnknownWorker.
func (h *Host) killWorker(ctx context.Context, id string) error {
	handle, err := h.get(id)
	if err != nil {
		return err
	}

	if handle.Machine.Snapshot() == lifecycle.Running {
		if err := handle.Stop(ctx); err != nil {
			kuixlog.Logger.Warn().Str("worker_id", id).Err(err).Msg("worker stop failed during kill")
		}
	}
	if handle.Machine.Snapshot() == lifecycle.Opened {
		if err := handle.Close(ctx); err != nil {
			kuixlog.Logger.Warn().Str("worker_id", id).Err(err).Msg("worker close failed during kill")
		}
	}
	handle.KillComponents(ctx)

	h.mu.Lock()
	delete(h.workers, id)
	h.mu.Unlock()
	metrics.WorkersTotal.WithLabelValues(string(h.ID)).Dec()
	h.Hub.Trigger(eventregistry.WorkerRemoved, nil, map[string]any{"processId": string(h.ID), "workerId": id})
	return nil
}

// callWorkerComponent resolves workerId then componentId and dispatches
// method synchronously.
func (h *Host) callWorkerComponent(workerID, componentID, method string, args []any, kwargs map[string]any) (any, error) {
	handle, err := h.get(workerID)
	if err != nil {
		return nil, err
	}
	return handle.Components.Call(componentID, method, args, kwargs)
}

// close iterates a snapshot of workers, stopping and closing each;
// failures are aggregated into one MethodCall failure unless kill is
// true, in which case they are swallowed and logged. On completion it
// emits ProcessClosed, signals the connector to stop, and clears the hub
// entry. When close is dispatched through the hub, the caller's in-flight
// Call keeps the entry armed, so ClearProcess fails with ProcessBusy, the
// failure is logged, and the entry is left in the hub.
func (h *Host) close(ctx context.Context, kill bool) error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.workers))
	for id := range h.workers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var aggregate error
	for _, id := range ids {
		handle, err := h.get(id)
		if err != nil {
			continue
		}
		if handle.Machine.Snapshot() == lifecycle.Running {
			if err := handle.Stop(ctx); err != nil {
				if kill {
					kuixlog.Logger.Warn().Str("worker_id", id).Err(err).Msg("worker stop failed during host kill")
				} else {
					aggregate = accumulate(aggregate, err)
				}
			}
		}
		if handle.Machine.Snapshot() == lifecycle.Opened {
			if err := handle.Close(ctx); err != nil {
				if kill {
					kuixlog.Logger.Warn().Str("worker_id", id).Err(err).Msg("worker close failed during host kill")
				} else {
					aggregate = accumulate(aggregate, err)
				}
			}
		}
		handle.KillComponents(ctx)
	}

	h.mu.Lock()
	h.workers = make(map[string]*workerkit.Handle)
	h.mu.Unlock()

	h.Hub.Trigger(eventregistry.ProcessClosed, nil, map[string]any{"processId": string(h.ID)})
	// CloseAsync, not Close: this method runs on the connector's own
	// listener goroutine when dispatched via the hub (controller -> hub.Call
	// -> pumpCall -> here), and Close's wg.Wait would deadlock against that
	// same goroutine. CloseAsync only signals; the loop observes stopCh and
	// exits on its own next iteration.
	h.Connector.CloseAsync()
	if err := h.Hub.ClearProcess(h.ID); err != nil {
		kuixlog.Logger.Warn().Str("process_id", string(h.ID)).Err(err).Msg("clearing host process from hub")
	}

	if aggregate != nil && !kill {
		return kxerrors.WrapCause("close", aggregate)
	}
	return nil
}

func accumulate(aggregate, err error) error {
	if aggregate == nil {
		return err
	}
	return kxerrors.WithSecondaryError(aggregate, err)
}
