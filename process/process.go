// Package process defines the ProcessID type shared by the hub, capability,
// connector, host, and controller packages: the opaque, unique name a
// logical execution context is addressed by.
package process

import "github.com/google/uuid"

// ID is an opaque, unique process identifier.
type ID string

// Main is the reserved id of the controller's own process.
const Main ID = "main"

// IsMain reports whether id names the controller's own process.
func (id ID) IsMain() bool { return id == Main }

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// NewHostID generates a fresh, unique host process id.
func NewHostID() ID {
	return ID("kuix-host-" + uuid.NewString())
}
