// Package eventregistry is the typed catalog of events the hub's pub/sub
// layer can carry: for each event name it declares the set of parameter
// names a subscribing callback may use, so a subscription with an
// incompatible signature is refused before it ever reaches the hub.
package eventregistry

import (
	"github.com/cuemby/kuix/kxerrors"
)

// Name identifies an event in the catalog.
type Name string

const (
	ProcessCreated Name = "ProcessCreated"
	ProcessClosed  Name = "ProcessClosed"
	WorkerAdded    Name = "WorkerAdded"
	WorkerRemoved  Name = "WorkerRemoved"
	WorkerOpened   Name = "WorkerOpened"
	WorkerStarted  Name = "WorkerStarted"
	WorkerStopped  Name = "WorkerStopped"
	WorkerClosed   Name = "WorkerClosed"
)

// catalog maps every known event to its permitted callback parameter
// names, per the spec's event table.
var catalog = map[Name]map[string]bool{
	ProcessCreated: set("processId"),
	ProcessClosed:  set("processId"),
	WorkerAdded:    set("processId", "workerId"),
	WorkerRemoved:  set("processId", "workerId"),
	WorkerOpened:   set("processId", "workerId"),
	WorkerStarted:  set("processId", "workerId"),
	WorkerStopped:  set("processId", "workerId"),
	WorkerClosed:   set("processId", "workerId"),
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Known reports whether name is a registered event.
func Known(name Name) bool {
	_, ok := catalog[name]
	return ok
}

// Params returns the permitted callback parameter names for name, in no
// particular order.
func Params(name Name) []string {
	allowed, ok := catalog[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(allowed))
	for p := range allowed {
		out = append(out, p)
	}
	return out
}

// Validate checks that name is a known event and that paramNames is a
// subset of its declared parameter set. It fails closed: an unknown event
// or an out-of-set parameter name is a Subscription failure.
func Validate(name Name, paramNames []string) error {
	allowed, ok := catalog[name]
	if !ok {
		return kxerrors.Newf(kxerrors.KindSubscription, kxerrors.ReasonUnknownEvent,
			"unknown event %q", string(name))
	}
	for _, p := range paramNames {
		if !allowed[p] {
			return kxerrors.Newf(kxerrors.KindSubscription, kxerrors.ReasonBadSignature,
				"callback parameter %q is not declared for event %q", p, string(name))
		}
	}
	return nil
}
