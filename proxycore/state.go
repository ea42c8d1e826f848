// Package proxycore implements the dual-connection proxy state machine:
// accepting one client at a time, dialing the configured upstream,
// and pumping packets through the hook pipeline in both directions. The
// keepalive timers for both legs are run by the core module (package
// coremodule), not by this package. Grounded in the teacher's pkg/proxy.Handler/Server accept-loop
// idiom, generalized from raw byte copying to packet-decoded forwarding.
package proxycore

import "fmt"

// State is the proxy's single-client connection state machine.
type State int

const (
	IDLE State = iota
	ClientConnected
	Authenticating
	ConnectingUpstream
	Connected
	Proxying
	Teardown
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case ClientConnected:
		return "CLIENT_CONNECTED"
	case Authenticating:
		return "AUTHENTICATING"
	case ConnectingUpstream:
		return "CONNECTING_UPSTREAM"
	case Connected:
		return "CONNECTED"
	case Proxying:
		return "PROXYING"
	case Teardown:
		return "TEARDOWN"
	default:
		return "UNKNOWN"
	}
}

// validTransitions enumerates the legal state machine edges, matching the
// diagram: IDLE -> CLIENT_CONNECTED -> AUTHENTICATING -> CONNECTING_UPSTREAM
// -> CONNECTED -> PROXYING -> TEARDOWN -> IDLE, plus the
// CONNECTING_UPSTREAM -> IDLE failure shortcut.
var validTransitions = map[State][]State{
	IDLE:               {ClientConnected},
	ClientConnected:    {Authenticating},
	Authenticating:     {ConnectingUpstream},
	ConnectingUpstream: {Connected, IDLE},
	Connected:          {Proxying},
	Proxying:           {Teardown},
	Teardown:           {IDLE},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type stateTransitionError struct {
	from, to State
}

func (e *stateTransitionError) Error() string {
	return fmt.Sprintf("proxycore: illegal state transition %s -> %s", e.from, e.to)
}
