package proxycore

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"proxycore/auth"
	"proxycore/hooks"
	"proxycore/logger"
	"proxycore/proxyerr"
	"proxycore/stats"
	"proxycore/transport"
)

type pipeDialer struct {
	conn net.Conn
	err  error
}

func (d *pipeDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func newTestCore(dialer Dialer) *Core {
	return New(transport.DefaultRegistry(), "upstream:25565", dialer, auth.NewStaticProvider("tester"), logger.New(logger.ERROR, nil, "test"), stats.NewStats())
}

// driveClientHandshake plays the client side of the handshake+login_start
// exchange Core.handshakeClient expects before it will move past
// CLIENT_CONNECTED, as a real Minecraft client would before the proxy
// dials upstream.
func driveClientHandshake(t *testing.T, reg *transport.Registry, conn net.Conn, username string) {
	t.Helper()
	hsID, ok := reg.IDFor(transport.Handshake, hooks.ClientToServer, "handshake")
	if !ok {
		t.Errorf("no id registered for handshake")
		return
	}
	if err := reg.WritePacket(conn, &transport.Packet{
		Name: "handshake", ID: hsID, State: transport.Handshake, Dir: hooks.ClientToServer,
		Fields: transport.Fields{
			"protocol_version": int32(754),
			"server_address":   "play.example.com",
			"server_port":      uint16(25565),
			"next_state":       int32(2),
		},
	}); err != nil {
		t.Errorf("write handshake: %v", err)
		return
	}

	loginID, ok := reg.IDFor(transport.Login, hooks.ClientToServer, "login_start")
	if !ok {
		t.Errorf("no id registered for login_start")
		return
	}
	if err := reg.WritePacket(conn, &transport.Packet{
		Name: "login_start", ID: loginID, State: transport.Login, Dir: hooks.ClientToServer,
		Fields: transport.Fields{"username": username, "uuid": [16]byte{}},
	}); err != nil {
		t.Errorf("write login_start: %v", err)
	}
}

// driveUpstreamLogin plays the upstream server side: read the proxy's own
// handshake+login_start, then answer with login_success, as a real
// upstream server would once CONNECTING_UPSTREAM begins.
func driveUpstreamLogin(t *testing.T, reg *transport.Registry, conn net.Conn, username string) {
	t.Helper()
	if _, err := reg.ReadPacket(conn, transport.Handshake, hooks.ClientToServer); err != nil {
		t.Errorf("read upstream handshake: %v", err)
		return
	}
	if _, err := reg.ReadPacket(conn, transport.Login, hooks.ClientToServer); err != nil {
		t.Errorf("read upstream login_start: %v", err)
		return
	}

	successID, ok := reg.IDFor(transport.Login, hooks.ServerToClient, "login_success")
	if !ok {
		t.Errorf("no id registered for login_success")
		return
	}
	if err := reg.WritePacket(conn, &transport.Packet{
		Name: "login_success", ID: successID, State: transport.Login, Dir: hooks.ServerToClient,
		Fields: transport.Fields{"uuid": [16]byte{}, "username": username},
	}); err != nil {
		t.Errorf("write login_success: %v", err)
	}
}

func TestStateTransitionsAreEnforced(t *testing.T) {
	s := IDLE
	if !s.canTransitionTo(ClientConnected) {
		t.Fatal("IDLE should allow transition to CLIENT_CONNECTED")
	}
	if s.canTransitionTo(Proxying) {
		t.Fatal("IDLE should not allow direct transition to PROXYING")
	}
}

// TestAcceptRejectsSecondClient covers the IDLE "too many connections" edge
// case: a second Accept call while a client is already attached must be
// rejected without disturbing the first session's state.
func TestAcceptRejectsSecondClient(t *testing.T) {
	upstreamSrv, upstreamCli := net.Pipe()
	defer upstreamSrv.Close()
	defer upstreamCli.Close()

	core := newTestCore(&pipeDialer{conn: upstreamCli})

	clientSrv, clientCli := net.Pipe()
	defer clientCli.Close()

	go func() {
		_ = core.Accept(context.Background(), clientSrv)
	}()
	go driveClientHandshake(t, core.Registry, clientCli, "alice")
	go driveUpstreamLogin(t, core.Registry, upstreamSrv, "alice")

	// net.Pipe is unbuffered: the proxy cannot leave CONNECTING_UPSTREAM
	// until the login_success it relays to the client has been read.
	if _, err := core.Registry.ReadPacket(clientCli, transport.Login, hooks.ServerToClient); err != nil {
		t.Fatalf("read relayed login_success: %v", err)
	}

	waitForState(t, core, Proxying)

	secondPeer, secondCli := net.Pipe()
	defer secondPeer.Close()
	defer secondCli.Close()
	// Read the one-byte rejection Accept writes, so its write does not block.
	go func() { _, _ = secondPeer.Read(make([]byte, 1)) }()
	err := core.Accept(context.Background(), secondCli)
	if !errors.Is(err, proxyerr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for second connection, got %v", err)
	}
}

// TestConnectUpstreamAuthenticatesClientBeforeDialing covers the review's
// core requirement: the upstream connection is only opened after the
// client's presented username has gone through AuthProvider.Authenticate,
// and the resulting session name is what the proxy logs into upstream with.
func TestConnectUpstreamAuthenticatesClientBeforeDialing(t *testing.T) {
	upstreamSrv, upstreamCli := net.Pipe()
	defer upstreamSrv.Close()
	defer upstreamCli.Close()

	core := newTestCore(&pipeDialer{conn: upstreamCli})

	clientSrv, clientCli := net.Pipe()
	defer clientCli.Close()

	done := make(chan error, 1)
	go func() { done <- core.Accept(context.Background(), clientSrv) }()
	go driveClientHandshake(t, core.Registry, clientCli, "someone-else")

	// The upstream side should receive a login_start carrying the
	// AuthProvider's session username ("tester", from newTestCore),
	// not the raw client-presented "someone-else".
	hsPkt, err := core.Registry.ReadPacket(upstreamSrv, transport.Handshake, hooks.ClientToServer)
	if err != nil {
		t.Fatalf("read upstream handshake: %v", err)
	}
	if hsPkt.Fields["protocol_version"] != int32(754) {
		t.Fatalf("expected client's protocol_version relayed upstream, got %v", hsPkt.Fields["protocol_version"])
	}

	loginPkt, err := core.Registry.ReadPacket(upstreamSrv, transport.Login, hooks.ClientToServer)
	if err != nil {
		t.Fatalf("read upstream login_start: %v", err)
	}
	if loginPkt.Fields["username"] != "tester" {
		t.Fatalf("expected upstream login_start to use the authenticated session username, got %v", loginPkt.Fields["username"])
	}

	successID, _ := core.Registry.IDFor(transport.Login, hooks.ServerToClient, "login_success")
	if err := core.Registry.WritePacket(upstreamSrv, &transport.Packet{
		Name: "login_success", ID: successID, State: transport.Login, Dir: hooks.ServerToClient,
		Fields: transport.Fields{"uuid": [16]byte{}, "username": "tester"},
	}); err != nil {
		t.Fatalf("write login_success: %v", err)
	}

	relayed, err := core.Registry.ReadPacket(clientCli, transport.Login, hooks.ServerToClient)
	if err != nil {
		t.Fatalf("read login_success relayed to client: %v", err)
	}
	if relayed.Name != "login_success" {
		t.Fatalf("expected login_success relayed to client, got %q", relayed.Name)
	}

	waitForState(t, core, Proxying)

	clientCli.Close()
	upstreamCli.Close()
	<-done
}

// TestConnectUpstreamFailsWhenUpstreamRejectsLogin covers the
// CONNECTING_UPSTREAM -> IDLE failure shortcut when the dial itself
// succeeds but the upstream login exchange does not.
func TestConnectUpstreamFailsWhenUpstreamRejectsLogin(t *testing.T) {
	upstreamSrv, upstreamCli := net.Pipe()
	defer upstreamSrv.Close()

	core := newTestCore(&pipeDialer{conn: upstreamCli})

	clientSrv, clientCli := net.Pipe()
	defer clientCli.Close()

	done := make(chan error, 1)
	go func() { done <- core.Accept(context.Background(), clientSrv) }()
	go driveClientHandshake(t, core.Registry, clientCli, "alice")

	// Close the upstream server's half of the pipe without ever answering,
	// simulating a rejected/aborted upstream login.
	if _, err := core.Registry.ReadPacket(upstreamSrv, transport.Handshake, hooks.ClientToServer); err != nil {
		t.Fatalf("read upstream handshake: %v", err)
	}
	upstreamSrv.Close()

	err := <-done
	if err == nil {
		t.Fatal("expected connectUpstream to report an upstream login failure, got nil")
	}
	waitForState(t, core, IDLE)
}

func waitForState(t *testing.T, core *Core, anyOf ...State) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cur := core.CurrentState()
		for _, s := range anyOf {
			if cur == s {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state in %v, last seen %v", anyOf, core.CurrentState())
}

// TestPumpForwardsAllowedPacketAndSuppressesCancelled exercises the packet
// pump end to end over real net.Pipe connections with a hook that cancels
// one named packet type and lets others through.
func TestPumpForwardsAllowedPacketAndSuppressesCancelled(t *testing.T) {
	upstreamSrv, upstreamCli := net.Pipe()
	defer upstreamSrv.Close()

	core := newTestCore(&pipeDialer{conn: upstreamCli})

	var cancelledSeen, chatSeen bool
	core.Hooks().RegisterDefault(hooks.ClientToServer, "custom_payload", func(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
		cancelledSeen = true
		return hooks.Cancel, nil
	}, "test")
	core.Hooks().RegisterDefault(hooks.ClientToServer, "chat", func(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
		chatSeen = true
		return hooks.Continue, nil
	}, "test")

	clientSrv, clientCli := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- core.Accept(context.Background(), clientSrv) }()
	go driveClientHandshake(t, core.Registry, clientCli, "alice")
	go driveUpstreamLogin(t, core.Registry, upstreamSrv, "alice")

	// Drain the login_success the proxy relays to the client before the
	// test starts exercising Play-state packets on the same pipe; net.Pipe
	// is unbuffered, so the proxy cannot reach PROXYING until it is read.
	if _, err := core.Registry.ReadPacket(clientCli, transport.Login, hooks.ServerToClient); err != nil {
		t.Fatalf("read relayed login_success: %v", err)
	}

	waitForState(t, core, Proxying)

	chatPkt := &transport.Packet{
		Name: "chat", ID: 0x07, State: transport.Play, Dir: hooks.ClientToServer,
		Fields: transport.Fields{"message": "hi", "timestamp": time.UnixMilli(0), "salt": int64(0), "signature": []byte(nil)},
	}
	if err := core.Registry.WritePacket(clientCli, chatPkt); err != nil {
		t.Fatalf("write chat packet: %v", err)
	}

	gotOnUpstream, err := core.Registry.ReadPacket(upstreamSrv, transport.Play, hooks.ClientToServer)
	if err != nil {
		t.Fatalf("read forwarded packet: %v", err)
	}
	if gotOnUpstream.Name != "chat" {
		t.Fatalf("expected chat packet forwarded, got %q", gotOnUpstream.Name)
	}

	payloadPkt := &transport.Packet{
		Name: "custom_payload", ID: 0x12, State: transport.Play, Dir: hooks.ClientToServer,
		Fields: transport.Fields{"channel": "x", "data": []byte("y")},
	}
	if err := core.Registry.WritePacket(clientCli, payloadPkt); err != nil {
		t.Fatalf("write payload packet: %v", err)
	}

	// Next packet on the upstream side should not be the cancelled one;
	// send a second chat so we can confirm the pump kept advancing.
	chatPkt2 := &transport.Packet{
		Name: "chat", ID: 0x07, State: transport.Play, Dir: hooks.ClientToServer,
		Fields: transport.Fields{"message": "still alive", "timestamp": time.UnixMilli(0), "salt": int64(0), "signature": []byte(nil)},
	}
	if err := core.Registry.WritePacket(clientCli, chatPkt2); err != nil {
		t.Fatalf("write second chat packet: %v", err)
	}

	got2, err := core.Registry.ReadPacket(upstreamSrv, transport.Play, hooks.ClientToServer)
	if err != nil {
		t.Fatalf("read second forwarded packet: %v", err)
	}
	if got2.Fields["message"] != "still alive" {
		t.Fatalf("expected second chat to arrive, cancelled packet should not have been forwarded, got %+v", got2.Fields)
	}
	if !cancelledSeen || !chatSeen {
		t.Fatal("expected both hooks to have observed their packets")
	}

	clientCli.Close()
	upstreamCli.Close()
	<-done
}
