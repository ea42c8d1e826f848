// Package proxyerr collects the sentinel error kinds shared across the proxy
// core, module lifecycle, and command system, so callers can classify a
// failure with errors.Is instead of string matching.
package proxyerr

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is returned when registering a module or command whose
	// name already exists in the owning registry.
	ErrDuplicateName = errors.New("proxyerr: duplicate name")

	// ErrUnknownName is returned on a lookup miss for a module, command, or
	// hook.
	ErrUnknownName = errors.New("proxyerr: unknown name")

	// ErrInvalidState is returned for operations that are not legal in the
	// caller's current state: loading an already-loaded module, unloading an
	// unloaded one, reloading a module with no known origin path, or
	// unloading the core module outside a reload.
	ErrInvalidState = errors.New("proxyerr: invalid state")

	// ErrReloadFailure wraps an import or traversal-depth failure during a
	// module reload. The old module remains loaded; the new one is discarded.
	ErrReloadFailure = errors.New("proxyerr: reload failed")

	// ErrMalformedGraph is returned by command graph serialization given a
	// Literal/Argument node missing its required fields, or by
	// deserialization given an out-of-range index.
	ErrMalformedGraph = errors.New("proxyerr: malformed command graph")

	// ErrConnectionLost marks a transport-level end/error event that the
	// proxy connection state machine escalates to teardown.
	ErrConnectionLost = errors.New("proxyerr: connection lost")
)

// Wrap annotates err with a message while preserving errors.Is matching
// against the sentinel kinds above.
func Wrap(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}
