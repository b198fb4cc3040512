// Package capability implements the Controller/Host proxy model: an API
// can be dispatched locally, straight to an in-process target, or
// remotely, by marshalling every call through the hub to whichever
// connector is listening on the bound process. The source's runtime
// method-rewriting is replaced here with an explicit per-instance method
// table built once at construction — a typed remote proxy, not reflect
// magic.
package capability

import (
	"context"

	"github.com/cuemby/kuix/hub"
	"github.com/cuemby/kuix/kxerrors"
	"github.com/cuemby/kuix/process"
)

// Method is one forwardable operation: positional args, keyword args, a
// result.
type Method func(args []any, kwargs map[string]any) (any, error)

// API is the capability surface shared by local and remote dispatch: one
// call per named method plus the raw escape hatch for methods registered
// only at the remote side.
type API interface {
	Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error)
	RawCall(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error)
}

// Local dispatches directly to an in-process method table. The table is
// built once, at construction, from whatever methods the owner chose to
// expose — this is the capability's public surface; anything not added to
// the table is not forwardable, matching the source's "housekeeping
// fields are excluded from rewriting" rule.
type Local struct {
	methods map[string]Method
}

// NewLocal constructs a Local capability from an explicit method table.
func NewLocal(methods map[string]Method) *Local {
	m := make(map[string]Method, len(methods))
	for k, v := range methods {
		m[k] = v
	}
	return &Local{methods: m}
}

// Call dispatches to the named method in the local table.
func (l *Local) Call(_ context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	fn, ok := l.methods[method]
	if !ok {
		return nil, kxerrors.Newf(kxerrors.KindLookup, kxerrors.ReasonUnknownMethod, "unknown method %q", method)
	}
	return fn(args, kwargs)
}

// RawCall always fails for a Local capability: the ad-hoc dispatch path
// only makes sense for a capability bound to a remote process, since it
// exists to reach methods the remote side registered dynamically.
func (l *Local) RawCall(_ context.Context, method string, _ []any, _ map[string]any) (any, error) {
	return nil, kxerrors.Newf(kxerrors.KindTransport, kxerrors.ReasonNotRemote,
		"%q is not callable: capability is in local mode", method)
}

// Remote forwards every call through the hub to whatever connector is
// listening on ProcessID. Capabilities are not reusable across processes:
// a Remote is bound to one process id for its lifetime.
type Remote struct {
	ProcessID process.ID
	Hub       *hub.SharedHub
}

// NewRemote constructs a Remote capability bound to pid.
func NewRemote(pid process.ID, h *hub.SharedHub) *Remote {
	return &Remote{ProcessID: pid, Hub: h}
}

// Call marshals method+args through the hub and blocks for the matching
// response, re-raising a remote failure in the caller's context.
func (r *Remote) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	result, err := r.Hub.Call(ctx, r.ProcessID, method, args, kwargs)
	if err != nil {
		return nil, kxerrors.Wrapf(err, "call on %s", r.ProcessID)
	}
	return result, nil
}

// RawCall is the escape hatch for methods the remote side registered
// dynamically; it performs the identical marshalling as Call.
func (r *Remote) RawCall(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	return r.Call(ctx, method, args, kwargs)
}
