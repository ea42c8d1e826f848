package proxycore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"proxycore/auth"
	commonnet "proxycore/common/net"
	"proxycore/commands"
	"proxycore/hooks"
	"proxycore/logger"
	"proxycore/module"
	"proxycore/proxyerr"
	"proxycore/stats"
	"proxycore/transport"
)

// Dialer opens the upstream connection. Exists as an interface so tests can
// substitute an in-memory pipe instead of a real net.Dial.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

type netDialer struct{ timeout time.Duration }

func (d netDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

// NewNetDialer returns a Dialer that opens real TCP connections.
func NewNetDialer(timeout time.Duration) Dialer { return netDialer{timeout: timeout} }

// Core is the single-client proxy connection core: it owns the Hook
// Pipeline, Command Registry, and Module Registry the spec assigns to the
// proxy, and drives the state machine and packet pump for the one client
// it is currently serving.
type Core struct {
	Registry  *transport.Registry
	UpstreamAddr string
	Dialer    Dialer
	AuthProvider auth.Provider
	Log       *logger.Logger
	Stats     *stats.Stats

	hooks    *hooks.Pipeline
	commands *commands.Registry
	modules  *module.Registry

	mu              sync.Mutex
	state           State
	clientConn      net.Conn
	serverConn      net.Conn
	session         auth.Session
	protocolVersion int32
	cancelPump      context.CancelFunc
}

// New creates a Core ready to accept one client at a time.
func New(registry *transport.Registry, upstreamAddr string, dialer Dialer, authProvider auth.Provider, log *logger.Logger, st *stats.Stats) *Core {
	c := &Core{
		Registry:     registry,
		UpstreamAddr: upstreamAddr,
		Dialer:       dialer,
		AuthProvider: authProvider,
		Log:          log,
		Stats:        st,
		hooks:        hooks.New(),
		state:        IDLE,
	}
	c.commands = commands.New("/p:")
	return c
}

// SetModules wires the module registry after construction, since the
// module.Registry needs a module.Proxy (this Core) to build.
func (c *Core) SetModules(m *module.Registry) { c.modules = m }

func (c *Core) Hooks() *hooks.Pipeline             { return c.hooks }
func (c *Core) Commands() *commands.Registry       { return c.commands }
func (c *Core) Modules() *module.Registry          { return c.modules }
func (c *Core) TransportRegistry() *transport.Registry { return c.Registry }

func (c *Core) setState(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.canTransitionTo(next) {
		return &stateTransitionError{from: c.state, to: next}
	}
	c.state = next
	return nil
}

// CurrentState returns the proxy's current state, used by tests and the
// admin introspection surface.
func (c *Core) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Accept takes ownership of a newly-dialed client connection. If a client
// is already attached, it is rejected and the existing session continues
// undisturbed, per the spec's "too many connections" edge case.
func (c *Core) Accept(ctx context.Context, conn net.Conn) error {
	c.mu.Lock()
	if c.state != IDLE {
		c.mu.Unlock()
		if c.Stats != nil {
			c.Stats.IncrementFailedConnections()
		}
		_ = writeRejection(conn)
		conn.Close()
		return proxyerr.Wrap(proxyerr.ErrInvalidState, "too many connections")
	}
	c.clientConn = conn
	c.mu.Unlock()

	if c.Stats != nil {
		c.Stats.IncrementConnections()
	}

	if err := commonnet.OptimizeTCPConn(conn); err != nil {
		c.Log.Warn("optimize client connection: %v", err)
	}

	if err := c.setState(ClientConnected); err != nil {
		return err
	}

	if err := c.handshakeClient(ctx, conn); err != nil {
		c.mu.Lock()
		c.state = IDLE
		c.clientConn = nil
		c.mu.Unlock()
		if c.Stats != nil {
			c.Stats.DecrementConnections()
			c.Stats.IncrementFailedConnections()
			c.Stats.IncrementConnectionErrors()
		}
		conn.Close()
		return fmt.Errorf("proxycore: client handshake: %w", err)
	}

	if _, err := c.hooks.Execute(ctx, hooks.Local, "clientConnected", conn.RemoteAddr()); err != nil {
		c.Log.Error("clientConnected hook failed: %v", err)
		if c.Stats != nil {
			c.Stats.IncrementErrors()
		}
	}

	if err := c.setState(Authenticating); err != nil {
		return err
	}
	if _, err := c.hooks.Execute(ctx, hooks.Local, "beforeServerConnect", nil); err != nil {
		c.Log.Error("beforeServerConnect hook failed: %v", err)
	}

	return c.connectUpstream(ctx)
}

func writeRejection(conn net.Conn) error {
	_, err := conn.Write([]byte{0x00})
	return err
}

// handshakeClient reads the client's handshake and login_start packets and
// authenticates the presented username against AuthProvider, storing the
// resulting Session and reported protocol version for use when the proxy
// in turn logs into upstream.
func (c *Core) handshakeClient(ctx context.Context, conn net.Conn) error {
	hsPkt, err := c.Registry.ReadPacket(conn, transport.Handshake, hooks.ClientToServer)
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	protocolVersion, _ := hsPkt.Fields["protocol_version"].(int32)
	transport.ReleaseFrame(hsPkt)

	loginPkt, err := c.Registry.ReadPacket(conn, transport.Login, hooks.ClientToServer)
	if err != nil {
		return fmt.Errorf("read login_start: %w", err)
	}
	username, _ := loginPkt.Fields["username"].(string)
	transport.ReleaseFrame(loginPkt)

	var session auth.Session
	if c.AuthProvider != nil {
		session, err = c.AuthProvider.Authenticate(ctx, username, "")
		if err != nil {
			return fmt.Errorf("authenticate %q: %w", username, err)
		}
	} else {
		session = auth.Session{Username: username}
	}
	if session.Username == "" {
		session.Username = username
	}

	c.mu.Lock()
	c.session = session
	c.protocolVersion = protocolVersion
	c.mu.Unlock()
	return nil
}

func (c *Core) connectUpstream(ctx context.Context) error {
	if err := c.setState(ConnectingUpstream); err != nil {
		return err
	}

	upstream, err := c.Dialer.Dial(ctx, c.UpstreamAddr)
	if err != nil {
		c.mu.Lock()
		c.state = IDLE
		c.clientConn = nil
		c.mu.Unlock()
		if c.Stats != nil {
			c.Stats.DecrementConnections()
			c.Stats.IncrementFailedConnections()
			c.Stats.IncrementConnectionErrors()
		}
		if _, hookErr := c.hooks.Execute(ctx, hooks.Local, "serverDisconnected", err); hookErr != nil {
			c.Log.Error("serverDisconnected hook failed: %v", hookErr)
		}
		return fmt.Errorf("proxycore: dial upstream %s: %w", c.UpstreamAddr, err)
	}

	if err := commonnet.OptimizeTCPConn(upstream); err != nil {
		c.Log.Warn("optimize upstream connection: %v", err)
	}

	if err := c.loginUpstream(upstream); err != nil {
		c.mu.Lock()
		c.state = IDLE
		c.clientConn = nil
		c.mu.Unlock()
		if c.Stats != nil {
			c.Stats.DecrementConnections()
			c.Stats.IncrementFailedConnections()
			c.Stats.IncrementConnectionErrors()
		}
		upstream.Close()
		if _, hookErr := c.hooks.Execute(ctx, hooks.Local, "serverDisconnected", err); hookErr != nil {
			c.Log.Error("serverDisconnected hook failed: %v", hookErr)
		}
		return fmt.Errorf("proxycore: upstream login: %w", err)
	}

	c.mu.Lock()
	c.serverConn = upstream
	c.mu.Unlock()

	if err := c.setState(Connected); err != nil {
		return err
	}
	if _, err := c.hooks.Execute(ctx, hooks.Local, "serverConnected", upstream.RemoteAddr()); err != nil {
		c.Log.Error("serverConnected hook failed: %v", err)
	}

	if err := c.setState(Proxying); err != nil {
		return err
	}

	return c.runPumps(ctx)
}

// loginUpstream performs the proxy's own handshake/login_start exchange
// against upstream on behalf of the already-authenticated client, then
// relays the resulting login_success back to the real client. This is the
// "upstream login succeeds" transition trigger into CONNECTED: a failure
// here (dial succeeded but login did not) is reported the same way a dial
// failure is, via the CONNECTING_UPSTREAM -> IDLE shortcut.
func (c *Core) loginUpstream(upstream net.Conn) error {
	c.mu.Lock()
	session := c.session
	protocolVersion := c.protocolVersion
	clientConn := c.clientConn
	c.mu.Unlock()

	host, port := splitUpstreamAddr(c.UpstreamAddr)

	if err := c.writeNamed(upstream, transport.Handshake, hooks.ClientToServer, "handshake", transport.Fields{
		"protocol_version": protocolVersion,
		"server_address":   host,
		"server_port":      port,
		"next_state":       int32(2),
	}); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	if err := c.writeNamed(upstream, transport.Login, hooks.ClientToServer, "login_start", transport.Fields{
		"username": session.Username,
		"uuid":     [16]byte(session.UUID),
	}); err != nil {
		return fmt.Errorf("write login_start: %w", err)
	}

	successPkt, err := c.Registry.ReadPacket(upstream, transport.Login, hooks.ServerToClient)
	if err != nil {
		return fmt.Errorf("read login_success: %w", err)
	}
	defer transport.ReleaseFrame(successPkt)

	if successPkt.Name != "login_success" {
		return fmt.Errorf("unexpected upstream response %q to login_start", successPkt.Name)
	}

	if clientConn != nil {
		if err := c.Registry.WritePacket(clientConn, successPkt); err != nil {
			return fmt.Errorf("relay login_success to client: %w", err)
		}
	}
	return nil
}

// writeNamed looks up the packet id the registry associates with name for
// (state, dir) and writes it, so callers never have to hardcode ids that
// DefaultRegistry already knows.
func (c *Core) writeNamed(w net.Conn, state transport.ProtocolState, dir hooks.Direction, name string, fields transport.Fields) error {
	id, ok := c.Registry.IDFor(state, dir, name)
	if !ok {
		return fmt.Errorf("no id registered for %s/%s/%s", state, dir, name)
	}
	return c.Registry.WritePacket(w, &transport.Packet{Name: name, ID: id, State: state, Dir: dir, Fields: fields})
}

// splitUpstreamAddr splits a "host:port" string into a hostname and
// uint16 port for the handshake packet, falling back to the default
// Minecraft port if the address can't be parsed (should not happen for a
// config-validated UpstreamAddr).
func splitUpstreamAddr(addr string) (string, uint16) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 25565
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, 25565
	}
	return host, uint16(port)
}

// runPumps drives both directions concurrently and blocks until either
// side disconnects, then tears down. Two goroutines are required because
// Go's net.Conn.Read blocks; the pipeline traversal within each direction
// stays strictly sequential as the spec requires. Cancelling pumpCtx alone
// cannot interrupt a pump blocked on net.Conn.Read, so a third goroutine
// closes both connections the moment cancellation fires — otherwise the
// idle side's pump would never return, wg.Wait would never return, and
// teardown (the only place that closes these conns) would never run.
func (c *Core) runPumps(ctx context.Context) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelPump = cancel
	client, server := c.clientConn, c.serverConn
	c.mu.Unlock()
	defer cancel()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errs <- c.pump(pumpCtx, client, server, hooks.ClientToServer)
	}()
	go func() {
		defer wg.Done()
		errs <- c.pump(pumpCtx, server, client, hooks.ServerToClient)
	}()

	go func() {
		<-pumpCtx.Done()
		client.Close()
		server.Close()
	}()

	var firstErr error
	select {
	case firstErr = <-errs:
		cancel()
	case <-pumpCtx.Done():
		firstErr = pumpCtx.Err()
	}
	wg.Wait()

	if firstErr != nil && c.Stats != nil {
		c.Stats.IncrementConnectionErrors()
	}

	c.teardown(ctx)
	return firstErr
}

// pump reads packets from src, runs them through the hook pipeline, and
// writes forwarded ones to dst. The direction's protocol state starts at
// Play: handshakeClient and loginUpstream already carried both legs
// through Handshake/Login while the state machine was in CLIENT_CONNECTED/
// CONNECTING_UPSTREAM, so by the time PROXYING starts both sides are in
// Play.
func (c *Core) pump(ctx context.Context, src, dst net.Conn, dir hooks.Direction) error {
	state := transport.Play
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := c.Registry.ReadPacket(src, state, dir)
		if err != nil {
			return proxyerr.Wrap(proxyerr.ErrConnectionLost, fmt.Sprintf("read from %s: %v", dir, err))
		}

		if c.Stats != nil {
			c.Stats.IncrementPacketsReceived()
			c.Stats.AddBytesReceived(uint64(len(pkt.Raw)))
		}

		forward, err := c.hooks.Execute(ctx, dir, pkt.Name, pkt)
		if err != nil {
			c.Log.Error("hook execute failed for %s/%s: %v", dir, pkt.Name, err)
			if c.Stats != nil {
				c.Stats.IncrementPacketErrors()
			}
			continue
		}
		if !forward {
			if c.Stats != nil {
				c.Stats.RecordCancelled(dir.String(), pkt.Name)
			}
			transport.ReleaseFrame(pkt)
			continue
		}

		if err := c.Registry.WritePacket(dst, pkt); err != nil {
			return proxyerr.Wrap(proxyerr.ErrConnectionLost, fmt.Sprintf("write to %s: %v", dir.String(), err))
		}
		if c.Stats != nil {
			c.Stats.IncrementPacketsSent(pkt.Name)
			c.Stats.RecordForwarded(dir.String(), pkt.Name)
			c.Stats.AddBytesSent(uint64(len(pkt.Raw)))
		}
		transport.ReleaseFrame(pkt)
	}
}

// InjectClient writes a synthetic packet directly to the client,
// bypassing the hook pipeline. Hooks that want to emit a packet toward the
// client instead of forwarding the original must use this and cancel the
// original event.
func (c *Core) InjectClient(pkt *transport.Packet) error {
	c.mu.Lock()
	conn := c.clientConn
	c.mu.Unlock()
	if conn == nil {
		return proxyerr.Wrap(proxyerr.ErrConnectionLost, "no client connection to inject into")
	}
	return c.Registry.WritePacket(conn, pkt)
}

// InjectServer writes a synthetic packet directly to the upstream server,
// bypassing the hook pipeline.
func (c *Core) InjectServer(pkt *transport.Packet) error {
	c.mu.Lock()
	conn := c.serverConn
	c.mu.Unlock()
	if conn == nil {
		return proxyerr.Wrap(proxyerr.ErrConnectionLost, "no server connection to inject into")
	}
	return c.Registry.WritePacket(conn, pkt)
}

// RefreshGauges recomputes the hook/command/module lifecycle gauges from
// their respective registries. The admin HTTP surface calls this before
// serving a snapshot so the counts never go stale between connections.
func (c *Core) RefreshGauges() {
	if c.Stats == nil {
		return
	}
	c.Stats.SetHooksRegistered(c.hooks.Total())
	c.Stats.SetCommandsRegistered(c.commands.Count())
	if c.modules != nil {
		c.Stats.SetModulesLoaded(c.modules.Count())
	}
}

func (c *Core) teardown(ctx context.Context) {
	if err := c.setState(Teardown); err != nil {
		c.Log.Error("teardown transition: %v", err)
	}

	c.mu.Lock()
	client := c.clientConn
	server := c.serverConn
	c.clientConn = nil
	c.serverConn = nil
	c.mu.Unlock()

	if client != nil {
		if c.Stats != nil {
			c.Stats.DecrementConnections()
		}
		if _, err := c.hooks.Execute(ctx, hooks.Local, "clientDisconnected", nil); err != nil {
			c.Log.Error("clientDisconnected hook failed: %v", err)
			if c.Stats != nil {
				c.Stats.IncrementErrors()
			}
		}
		client.Close()
	}
	if server != nil {
		if _, err := c.hooks.Execute(ctx, hooks.Local, "serverDisconnected", nil); err != nil {
			c.Log.Error("serverDisconnected hook failed: %v", err)
			if c.Stats != nil {
				c.Stats.IncrementErrors()
			}
		}
		server.Close()
	}

	if err := c.setState(IDLE); err != nil {
		c.Log.Error("teardown -> idle transition: %v", err)
	}
}
