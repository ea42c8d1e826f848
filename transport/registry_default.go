package transport

import "proxycore/hooks"

// DefaultRegistry builds a Registry pre-populated with the packet set this
// proxy understands: the handshake/status/login handshake family plus the
// Play-state packets the core module and hook pipeline act on directly.
// Packet ids match the teacher's PacketType constants for the types it
// already knew about; keep_alive and declare_commands are new.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Handshake, hooks.ClientToServer, 0x00, handshakeCodec{})

	r.Register(Status, hooks.ClientToServer, 0x00, statusRequestCodec{})
	r.Register(Status, hooks.ServerToClient, 0x00, statusResponseCodec{})

	r.Register(Login, hooks.ClientToServer, 0x00, loginStartCodec{})
	r.Register(Login, hooks.ServerToClient, 0x02, loginSuccessCodec{})

	r.Register(Play, hooks.ClientToServer, 0x07, chatCodec{})
	r.Register(Play, hooks.ServerToClient, 0x07, chatCodec{})
	r.Register(Play, hooks.ClientToServer, 0x1A, playerMoveCodec{})
	r.Register(Play, hooks.ClientToServer, 0x24, playerActionCodec{})
	r.Register(Play, hooks.ClientToServer, 0x12, customPayloadCodec{})
	r.Register(Play, hooks.ServerToClient, 0x12, customPayloadCodec{})

	r.Register(Play, hooks.ClientToServer, 0x1D, keepAliveCodec{})
	r.Register(Play, hooks.ServerToClient, 0x26, keepAliveCodec{})

	r.Register(Play, hooks.ServerToClient, 0x11, declareCommandsCodec{})

	return r
}
