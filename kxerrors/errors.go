// Package kxerrors implements the structured failure chain described by
// the orchestration engine's error handling design: every failure carries
// a Kind, a short machine-matchable Reason, a human Message, an ordered
// list of Contexts (breadcrumbs added as the error crosses layers), and an
// optional wrapped Cause. It is built on top of cockroachdb/errors for
// stack traces, Is/As interoperability, and secondary-error aggregation,
// following the re-export idiom used elsewhere in the ecosystem for that
// library.
package kxerrors

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
)

// Kind classifies a failure per the error taxonomy.
type Kind string

const (
	KindState      Kind = "state"            // lifecycle guard violation
	KindMethodCall Kind = "method_call"       // a user hook raised
	KindLookup     Kind = "lookup"            // unknown host/worker/component/method
	KindSubscription Kind = "subscription"    // bad callback or event signature
	KindTransport  Kind = "transport"         // hub/wire level failure
	KindController Kind = "controller_lifecycle"
)

// Reason codes. Grouped by the Kind they're normally paired with, though
// nothing enforces that pairing beyond convention.
const (
	ReasonAlreadyOpened  = "already_opened"
	ReasonNotOpened      = "not_opened"
	ReasonAlreadyRunning = "already_running"
	ReasonNotRunning     = "not_running"
	ReasonStillRunning   = "still_running"
	ReasonClosed         = "closed"
	ReasonNeverOpened    = "never_opened"

	ReasonUnknownHost        = "unknown_host"
	ReasonUnknownWorker      = "unknown_worker"
	ReasonUnknownComponent   = "unknown_component"
	ReasonUnknownMethod      = "unknown_method"
	ReasonWorkerAlreadyAdded = "worker_already_added"
	ReasonWorkerState        = "worker_state"

	ReasonNotCallable  = "not_callable"
	ReasonBadSignature = "bad_signature"
	ReasonUnknownEvent = "unknown_event"

	ReasonUnknownRequestKind   = "unknown_request_kind"
	ReasonUnknownCorrelation   = "unknown_correlation_id"
	ReasonMalformedPayload     = "malformed_payload"
	ReasonCallCancelled        = "call_cancelled"
	ReasonProcessBusy          = "process_busy"
	ReasonNotRemote            = "not_remote"
	ReasonProcessLaunch        = "process_launch"
	ReasonReservedProcessID    = "reserved_process_id"
	ReasonProcessAlreadyExists = "process_already_exists"

	ReasonNotConfigured     = "not_configured"
	ReasonAlreadyConfigured = "already_configured"
	ReasonNotSetup          = "not_setup"
	ReasonControllerClosed  = "controller_closed"
)

// tagged is the leaf carrier attached to every kuix-originated failure.
type tagged struct {
	kind    Kind
	reason  string
	message string
	cause   error
}

func (t *tagged) Error() string {
	if t.message != "" {
		return t.message
	}
	return string(t.kind) + ": " + t.reason
}

func (t *tagged) Unwrap() error { return t.cause }

// withContext is a breadcrumb added as a failure crosses a layer boundary.
type withContext struct {
	context string
	cause   error
}

func (w *withContext) Error() string { return w.context + ": " + w.cause.Error() }
func (w *withContext) Unwrap() error { return w.cause }

// New creates a leaf failure of the given kind and reason, with a stack
// trace attached.
func New(kind Kind, reason, message string) error {
	return cerrors.WithStack(&tagged{kind: kind, reason: reason, message: message})
}

// Newf is New with a formatted message.
func Newf(kind Kind, reason, format string, args ...any) error {
	return New(kind, reason, fmt.Sprintf(format, args...))
}

// WrapCause wraps a failing user hook (open/start/stop/close) as a
// MethodCall failure naming which operation failed, preserving the
// original cause for inspection via Unwrap/As.
func WrapCause(which string, cause error) error {
	return cerrors.WithStack(&tagged{
		kind:    KindMethodCall,
		reason:  which,
		message: fmt.Sprintf("%s hook failed", which),
		cause:   cause,
	})
}

// Wrap adds a one-line breadcrumb context to err without losing its kind,
// reason, or cause. Breadcrumbs accrue as each layer adds its own context,
// forming the ordered Contexts chain.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return &withContext{context: context, cause: err}
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// KindOf recovers the Kind tagged onto err or any error it wraps.
func KindOf(err error) (Kind, bool) {
	var t *tagged
	if cerrors.As(err, &t) {
		return t.kind, true
	}
	return "", false
}

// ReasonOf recovers the reason code tagged onto err or any error it wraps.
func ReasonOf(err error) (string, bool) {
	var t *tagged
	if cerrors.As(err, &t) {
		return t.reason, true
	}
	return "", false
}

// Contexts returns the ordered breadcrumb trail added by Wrap, outermost
// first.
func Contexts(err error) []string {
	var ctxs []string
	for err != nil {
		wc, ok := err.(*withContext)
		if !ok {
			break
		}
		ctxs = append(ctxs, wc.context)
		err = wc.cause
	}
	return ctxs
}

// leafMessage returns the tagged leaf's own message, ignoring any
// breadcrumb contexts wrapped around it.
func leafMessage(err error) string {
	var t *tagged
	if cerrors.As(err, &t) {
		return t.Error()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// HasKind reports whether err is, or wraps, a failure of the given kind.
func HasKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Match reports whether err is, or wraps, a failure of the given kind and
// reason.
func Match(err error, kind Kind, reason string) bool {
	if !HasKind(err, kind) {
		return false
	}
	r, _ := ReasonOf(err)
	return r == reason
}

// Is and As forward to cockroachdb/errors so callers can pattern-match
// against sentinel values or concrete types through kxerrors wrapping.
var (
	Is = cerrors.Is
	As = cerrors.As
)

// WithSecondaryError attaches a subordinate failure to the primary one,
// used by Close to aggregate child failures while still returning the
// first as the primary error.
var WithSecondaryError = cerrors.WithSecondaryError

// Failure is the wire-safe representation of a failure crossing the hub's
// response slot: a plain value, not a live error chain, since the hub is
// an in-memory data structure rather than a byte stream.
type Failure struct {
	Kind     Kind
	Reason   string
	Message  string
	Contexts []string
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" {
		msg = string(f.Kind) + ": " + f.Reason
	}
	for i := len(f.Contexts) - 1; i >= 0; i-- {
		msg = f.Contexts[i] + ": " + msg
	}
	return msg
}

// ToFailure flattens err into its wire-safe representation. Returns nil
// for a nil err.
func ToFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	kind, _ := KindOf(err)
	reason, _ := ReasonOf(err)
	return &Failure{
		Kind:     kind,
		Reason:   reason,
		Message:  leafMessage(err),
		Contexts: Contexts(err),
	}
}

// FromFailure reconstructs an error chain from a wire-safe Failure,
// re-raising it in the caller's context. The reconstructed error preserves
// Kind, Reason, and the Contexts breadcrumb trail, satisfying the spec's
// "re-raises them in its own context, preserving kind and message".
func FromFailure(f *Failure) error {
	if f == nil {
		return nil
	}
	var err error = &tagged{kind: f.Kind, reason: f.Reason, message: f.Message}
	for i := len(f.Contexts) - 1; i >= 0; i-- {
		err = Wrap(err, f.Contexts[i])
	}
	return err
}
