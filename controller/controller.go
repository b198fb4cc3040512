// Package controller implements the facade that creates hosts, tracks
// worker residency, and addresses components either locally or through
// the owning host's remote capability.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/kuix/capability"
	"github.com/cuemby/kuix/connector"
	"github.com/cuemby/kuix/eventregistry"
	"github.com/cuemby/kuix/host"
	"github.com/cuemby/kuix/hub"
	"github.com/cuemby/kuix/internal/config"
	"github.com/cuemby/kuix/internal/kuixlog"
	"github.com/cuemby/kuix/internal/metrics"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/process"
	"github.com/cuemby/kuix/workerkit"
	"github.com/rs/zerolog"
)

// controllerState is the controller's own small state machine, deliberately
// distinct from lifecycle.State: Configure/Setup/Close gate different
// operations than Open/Start/Stop/Close wrapping a user hook.
type controllerState int

const (
	stateInit controllerState = iota
	stateConfigured
	stateSetup
	stateClosed
)

func (s controllerState) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateConfigured:
		return "CONFIGURED"
	case stateSetup:
		return "SETUP"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ProcessLaunchTimeout bounds how long CreateProcess waits for a host's
// ProcessCreated readiness event before failing.
const ProcessLaunchTimeout = 5 * time.Second

type hostRecord struct {
	id     process.ID
	remote *capability.Remote
	host   *host.Host
}

// Controller is the orchestration facade.
type Controller struct {
	cfg    config.Config
	logger zerolog.Logger

	stateMu sync.Mutex
	state   controllerState

	hub           *hub.SharedHub
	mainConnector *connector.Connector
	components    *workerkit.ComponentSet

	tableMu   sync.Mutex
	hosts     map[process.ID]*hostRecord
	hostOrder []process.ID
	residency map[string]process.ID

	readyMu   sync.Mutex
	ready     map[process.ID]chan struct{}
	demuxStop chan struct{}

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Controller in the INIT state.
func New(cfg config.Config) *Controller {
	c := &Controller{
		cfg:        cfg,
		logger:     kuixlog.WithComponent("controller"),
		hub:        hub.New(),
		components: workerkit.NewComponentSet(),
		hosts:      make(map[process.ID]*hostRecord),
		residency:  make(map[string]process.ID),
		ready:      make(map[process.ID]chan struct{}),
		demuxStop:  make(chan struct{}),
		locks:      make(map[string]*sync.Mutex),
	}
	local := capability.NewLocal(c.mainMethodTable())
	c.mainConnector = connector.New(process.Main, c.hub, local, c.logger)
	return c
}

func (c *Controller) mainMethodTable() map[string]capability.Method {
	return map[string]capability.Method{
		"callKuixComponent": func(args []any, _ map[string]any) (any, error) {
			id := args[0].(string)
			method := args[1].(string)
			callArgs, _ := args[2].([]any)
			callKwargs, _ := args[3].(map[string]any)
			return c.CallKuixComponent(context.Background(), id, method, callArgs, callKwargs)
		},
	}
}

func (c *Controller) lockFor(method string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[method]
	if !ok {
		l = &sync.Mutex{}
		c.locks[method] = l
	}
	return l
}

// Configure transitions INIT -> CONFIGURED.
func (c *Controller) Configure() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != stateInit {
		return kxerrors.New(kxerrors.KindController, kxerrors.ReasonAlreadyConfigured, "controller already configured")
	}
	c.state = stateConfigured
	return nil
}

// Setup transitions CONFIGURED -> SETUP, starting the controller's own
// hub connector and subscribing to ProcessCreated for the readiness
// future CreateProcess waits on.
func (c *Controller) Setup() error {
	c.stateMu.Lock()
	if c.state != stateConfigured {
		c.stateMu.Unlock()
		return kxerrors.New(kxerrors.KindController, kxerrors.ReasonNotConfigured, "controller not configured")
	}
	c.state = stateSetup
	c.stateMu.Unlock()

	c.mainConnector.Start()
	if err := c.hub.Subscribe(process.Main, eventregistry.ProcessCreated); err != nil {
		return err
	}
	go c.demuxReadiness()
	return nil
}

func (c *Controller) requireSetup() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch c.state {
	case stateClosed:
		return kxerrors.New(kxerrors.KindController, kxerrors.ReasonControllerClosed, "controller closed")
	case stateSetup:
		return nil
	default:
		return kxerrors.New(kxerrors.KindController, kxerrors.ReasonNotSetup, "controller not set up")
	}
}

// demuxReadiness drains ProcessCreated tuples posted to the controller's
// own process and wakes whichever CreateProcess call is waiting for that
// host's id — the readiness future replacing the source's "poll until an
// event arrives" pattern.
func (c *Controller) demuxReadiness() {
	for {
		select {
		case <-c.demuxStop:
			return
		default:
		}
		for _, tuple := range c.hub.GetEvents(process.Main, eventregistry.ProcessCreated) {
			pidStr, _ := tuple.Kwargs["processId"].(string)
			c.readyMu.Lock()
			if ch, ok := c.ready[process.ID(pidStr)]; ok {
				close(ch)
				delete(c.ready, process.ID(pidStr))
			}
			c.readyMu.Unlock()
		}
		select {
		case <-c.demuxStop:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *Controller) registerReady(pid process.ID) chan struct{} {
	ch := make(chan struct{})
	c.readyMu.Lock()
	c.ready[pid] = ch
	c.readyMu.Unlock()
	return ch
}

func (c *Controller) forgetReady(pid process.ID) {
	c.readyMu.Lock()
	delete(c.ready, pid)
	c.readyMu.Unlock()
}

// CreateProcess spawns a new host, blocking for its ProcessCreated
// readiness event (bounded by ProcessLaunchTimeout composed with ctx).
// An empty pid generates a fresh host id.
func (c *Controller) CreateProcess(ctx context.Context, pid process.ID) (process.ID, error) {
	lock := c.lockFor("createProcess")
	lock.Lock()
	defer lock.Unlock()

	if err := c.requireSetup(); err != nil {
		return "", err
	}
	if pid == "" {
		pid = process.NewHostID()
	}
	if pid.IsMain() {
		return "", kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonReservedProcessID, "process id %q is reserved", pid)
	}

	c.tableMu.Lock()
	_, exists := c.hosts[pid]
	c.tableMu.Unlock()
	if exists {
		return "", kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonProcessAlreadyExists, "process %q already exists", pid)
	}

	timer := metrics.NewTimer()
	readyCh := c.registerReady(pid)
	h := host.New(pid, c.hub)
	h.Start()

	waitCtx, cancel := context.WithTimeout(ctx, ProcessLaunchTimeout)
	defer cancel()
	select {
	case <-readyCh:
	case <-waitCtx.Done():
		c.forgetReady(pid)
		return "", kxerrors.Wrap(
			kxerrors.New(kxerrors.KindTransport, kxerrors.ReasonProcessLaunch, "timed out waiting for ProcessCreated"),
			"controller.CreateProcess",
		)
	}

	remote := capability.NewRemote(pid, c.hub)
	c.tableMu.Lock()
	c.hosts[pid] = &hostRecord{id: pid, remote: remote, host: h}
	c.hostOrder = append(c.hostOrder, pid)
	c.tableMu.Unlock()

	metrics.HostsTotal.Inc()
	timer.ObserveDuration(metrics.ProcessLaunchDuration)
	return pid, nil
}

func (c *Controller) lookupHost(pid process.ID) (*hostRecord, error) {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()
	rec, ok := c.hosts[pid]
	if !ok {
		return nil, kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonUnknownHost, "unknown host %q", pid)
	}
	return rec, nil
}

func (c *Controller) residentHost(workerID string) (*hostRecord, error) {
	c.tableMu.Lock()
	pid, ok := c.residency[workerID]
	c.tableMu.Unlock()
	if !ok {
		return nil, kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonUnknownWorker, "unknown worker %q", workerID)
	}
	return c.lookupHost(pid)
}

func (c *Controller) removeHostBookkeeping(pid process.ID) {
	c.tableMu.Lock()
	delete(c.hosts, pid)
	for i, id := range c.hostOrder {
		if id == pid {
			c.hostOrder = append(c.hostOrder[:i], c.hostOrder[i+1:]...)
			break
		}
	}
	for workerID, hostPid := range c.residency {
		if hostPid == pid {
			delete(c.residency, workerID)
		}
	}
	c.tableMu.Unlock()
	metrics.HostsTotal.Dec()
}

// CloseProcess closes or kills the host bound to pid and drops its
// HostRecord and every residency entry it owned.
func (c *Controller) CloseProcess(ctx context.Context, pid process.ID, kill bool) error {
	lock := c.lockFor("closeProcess")
	lock.Lock()
	defer lock.Unlock()

	if err := c.requireSetup(); err != nil {
		return err
	}
	rec, err := c.lookupHost(pid)
	if err != nil {
		return err
	}

	method := "close"
	if kill {
		method = "kill"
	}
	_, callErr := rec.remote.Call(ctx, method, nil, nil)
	c.removeHostBookkeeping(pid)
	return callErr
}

// AddWorker constructs w on the host bound to pid and records residency.
func (c *Controller) AddWorker(ctx context.Context, pid process.ID, workerID string, w workerkit.Worker) error {
	lock := c.lockFor("addWorker")
	lock.Lock()
	defer lock.Unlock()

	if err := c.requireSetup(); err != nil {
		return err
	}
	rec, err := c.lookupHost(pid)
	if err != nil {
		return err
	}
	if _, err := rec.remote.Call(ctx, "addWorker", []any{workerID, w}, nil); err != nil {
		return err
	}
	c.tableMu.Lock()
	c.residency[workerID] = pid
	c.tableMu.Unlock()
	return nil
}

func (c *Controller) residentOp(ctx context.Context, lockName, workerID, remoteMethod string, dropResidency bool) error {
	lock := c.lockFor(lockName)
	lock.Lock()
	defer lock.Unlock()

	if err := c.requireSetup(); err != nil {
		return err
	}
	rec, err := c.residentHost(workerID)
	if err != nil {
		return err
	}
	_, callErr := rec.remote.Call(ctx, remoteMethod, []any{workerID}, nil)
	if callErr != nil {
		return callErr
	}
	if dropResidency {
		c.tableMu.Lock()
		delete(c.residency, workerID)
		c.tableMu.Unlock()
	}
	return nil
}

// RemoveWorker forwards removeWorker to the owning host and drops residency.
func (c *Controller) RemoveWorker(ctx context.Context, workerID string) error {
	return c.residentOp(ctx, "removeWorker", workerID, "removeWorker", true)
}

// OpenWorker forwards open to the owning host.
func (c *Controller) OpenWorker(ctx context.Context, workerID string) error {
	return c.residentOp(ctx, "openWorker", workerID, "openWorker", false)
}

// StartWorker forwards start to the owning host.
func (c *Controller) StartWorker(ctx context.Context, workerID string) error {
	return c.residentOp(ctx, "startWorker", workerID, "startWorker", false)
}

// StopWorker forwards stop to the owning host.
func (c *Controller) StopWorker(ctx context.Context, workerID string) error {
	return c.residentOp(ctx, "stopWorker", workerID, "stopWorker", false)
}

// CloseWorker forwards close to the owning host.
func (c *Controller) CloseWorker(ctx context.Context, workerID string) error {
	return c.residentOp(ctx, "closeWorker", workerID, "closeWorker", false)
}

// KillWorker forwards kill to the owning host and drops residency.
func (c *Controller) KillWorker(ctx context.Context, workerID string) error {
	return c.residentOp(ctx, "killWorker", workerID, "killWorker", true)
}

// CallWorkerComponent resolves workerID's host and dispatches method on
// componentID, owned by that worker.
func (c *Controller) CallWorkerComponent(ctx context.Context, workerID, componentID, method string, args []any, kwargs map[string]any) (any, error) {
	rec, err := c.residentHost(workerID)
	if err != nil {
		return nil, err
	}
	return rec.remote.Call(ctx, "callWorkerComponent", []any{workerID, componentID, method, args, kwargs}, nil)
}

// AddComponent registers a controller-local component.
func (c *Controller) AddComponent(id string, comp workerkit.Component) error {
	return c.components.Add(id, comp)
}

// RemoveComponent unregisters a controller-local component.
func (c *Controller) RemoveComponent(id string) error {
	return c.components.Remove(id)
}

func (c *Controller) localComponentOp(id string, op func(*workerkit.ComponentHandle) error) error {
	ch, err := c.components.Get(id)
	if err != nil {
		return err
	}
	return op(ch)
}

// OpenComponent opens a controller-local component.
func (c *Controller) OpenComponent(ctx context.Context, id string) error {
	return c.localComponentOp(id, func(ch *workerkit.ComponentHandle) error { return ch.Open(ctx) })
}

// StartComponent starts a controller-local component.
func (c *Controller) StartComponent(ctx context.Context, id string) error {
	return c.localComponentOp(id, func(ch *workerkit.ComponentHandle) error { return ch.Start(ctx) })
}

// StopComponent stops a controller-local component.
func (c *Controller) StopComponent(ctx context.Context, id string) error {
	return c.localComponentOp(id, func(ch *workerkit.ComponentHandle) error { return ch.Stop(ctx) })
}

// CloseComponent closes a controller-local component.
func (c *Controller) CloseComponent(ctx context.Context, id string) error {
	return c.localComponentOp(id, func(ch *workerkit.ComponentHandle) error { return ch.Close(ctx) })
}

// CallKuixComponent dispatches method on a controller-local component,
// resolved without going through the hub.
func (c *Controller) CallKuixComponent(_ context.Context, id, method string, args []any, kwargs map[string]any) (any, error) {
	return c.components.Call(id, method, args, kwargs)
}

// Close closes every host in registration order, aggregating failures
// into one MethodCall failure, then tears down the controller's own hub
// presence.
func (c *Controller) Close(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == stateClosed {
		c.stateMu.Unlock()
		return kxerrors.New(kxerrors.KindController, kxerrors.ReasonControllerClosed, "controller already closed")
	}
	c.state = stateClosed
	c.stateMu.Unlock()

	c.tableMu.Lock()
	order := append([]process.ID(nil), c.hostOrder...)
	c.tableMu.Unlock()

	var aggregate error
	for _, pid := range order {
		rec, err := c.lookupHost(pid)
		if err != nil {
			continue
		}
		if _, err := rec.remote.Call(ctx, "close", nil, nil); err != nil {
			aggregate = accumulate(aggregate, err)
		}
		c.removeHostBookkeeping(pid)
	}

	close(c.demuxStop)
	c.mainConnector.Close()
	if err := c.hub.ClearProcess(process.Main); err != nil {
		c.logger.Warn().Err(err).Msg("clearing controller main process from hub")
	}

	if aggregate != nil {
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
