// Package coremodule implements the one module.Module the proxy loads
// unconditionally at startup: command dispatch on chat, the dual keepalive
// timers, server-declared command graph merging, and a built-in "module"
// command surfacing the module lifecycle itself.
package coremodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"proxycore/commandgraph"
	"proxycore/commands"
	"proxycore/hooks"
	"proxycore/module"
	"proxycore/proxyerr"
	"proxycore/transport"
)

const (
	clientKeepAliveInterval = 15 * time.Second
	clientKeepAliveTimeout  = 20 * time.Second
	serverKeepAliveTimeout  = 30 * time.Second
)

// Proxy is the surface CoreModule needs beyond the bare module.Proxy
// contract: injection primitives, the transport registry (to build
// keep_alive/declare_commands packets), and the module registry itself
// (the built-in "module" command operates on it).
type Proxy interface {
	module.Proxy
	InjectClient(pkt *transport.Packet) error
	InjectServer(pkt *transport.Packet) error
	TransportRegistry() *transport.Registry
	Modules() *module.Registry
}

// CoreModule is always loaded and, outside of a reload, must never be
// unloaded: module.Registry.Unload rejects module.CoreModuleName with
// ErrInvalidState, so the only way to replace this module's instance is
// through Registry.Reload.
type CoreModule struct {
	module.Base

	proxy Proxy

	mu                  sync.Mutex
	clientKeepAliveTimer *time.Timer
	clientKeepAliveDeadline *time.Timer
	lastSentHigh, lastSentLow int32
	keepAliveOutstanding bool
	serverKeepAliveDeadline *time.Timer

	// *At fields track the absolute deadline each corresponding *time.Timer
	// above is armed against. A reload cannot carry the *time.Timer itself
	// across (the old instance's timer is stopped in OnUnload, and its
	// callback closure captures the old receiver), so MigrateState copies
	// these instead and OnLoad re-arms fresh timers from them.
	clientKeepAliveNextAt     time.Time
	clientKeepAliveDeadlineAt time.Time
	serverKeepAliveDeadlineAt time.Time

	serverGraph       *commandgraph.CommandGraph
	localCommandNodes map[*commandgraph.CommandNode]struct{}

	moduleCmd *commands.Command
}

// Name is the reserved module name the registry and admin surface use to
// identify this module. Kept equal to module.CoreModuleName, the constant
// Registry.Unload actually guards against.
const Name = module.CoreModuleName

// New constructs the core module bound to proxy. Factory wiring (for the
// module.FactoryRegistry) is the caller's responsibility; this module has
// no meaningful reload path of its own since it never comes from an
// external module_path.
func New(proxy Proxy) *CoreModule {
	m := &CoreModule{proxy: proxy, localCommandNodes: make(map[*commandgraph.CommandNode]struct{})}
	m.Base.Init(proxy, Name, "", nil)
	return m
}

func (m *CoreModule) OnLoad(ctx context.Context, reloading bool) error {
	m.RegisterHook(hooks.ClientToServer, "chat", m.onClientChat, 50)

	m.RegisterHook(hooks.Local, "clientConnected", m.onClientConnected, 100)
	m.RegisterHook(hooks.Local, "clientDisconnected", m.onClientDisconnected, 100)
	m.RegisterHook(hooks.Local, "serverConnected", m.onServerConnected, 100)
	m.RegisterHook(hooks.Local, "serverDisconnected", m.onServerDisconnected, 100)

	m.RegisterHook(hooks.ClientToServer, "keep_alive", m.onClientKeepAlive, 100)
	m.RegisterHook(hooks.ServerToClient, "keep_alive", m.onServerKeepAlive, 100)

	m.RegisterHook(hooks.ServerToClient, "declare_commands", m.onDeclareCommands, 100)

	cmd, err := m.RegisterCommand(commands.Descriptor{
		Name:         "module",
		Description:  "manage loaded modules",
		Autocomplete: buildModuleAutocomplete(),
		Handler:      m.handleModuleCommand,
	})
	if err != nil {
		return err
	}
	m.moduleCmd = cmd

	if reloading {
		m.rearmKeepAlive()
	}

	return nil
}

// rearmKeepAlive resumes whichever of the three keepalive timers were
// running at unload time, using the absolute deadlines MigrateState copied
// in from the old instance. A timer whose *At field is zero was not armed
// and stays unarmed across the reload.
func (m *CoreModule) rearmKeepAlive() {
	m.mu.Lock()
	nextAt := m.clientKeepAliveNextAt
	clientDeadlineAt := m.clientKeepAliveDeadlineAt
	serverDeadlineAt := m.serverKeepAliveDeadlineAt
	if m.localCommandNodes == nil {
		m.localCommandNodes = make(map[*commandgraph.CommandNode]struct{})
	}
	m.mu.Unlock()

	if !nextAt.IsZero() {
		m.mu.Lock()
		m.clientKeepAliveTimer = time.AfterFunc(rearmDelay(nextAt), module.BindCallback(m, func(target module.Module) {
			if cm, ok := target.(*CoreModule); ok {
				cm.sendClientKeepAlive()
			}
		}))
		m.mu.Unlock()
	}
	if !clientDeadlineAt.IsZero() {
		m.mu.Lock()
		m.clientKeepAliveDeadline = time.AfterFunc(rearmDelay(clientDeadlineAt), module.BindCallback(m, func(target module.Module) {
			if cm, ok := target.(*CoreModule); ok {
				cm.clientKeepAliveExpired()
			}
		}))
		m.mu.Unlock()
	}
	if !serverDeadlineAt.IsZero() {
		m.mu.Lock()
		m.serverKeepAliveDeadline = time.AfterFunc(rearmDelay(serverDeadlineAt), module.BindCallback(m, func(target module.Module) {
			if cm, ok := target.(*CoreModule); ok {
				cm.serverKeepAliveExpired()
			}
		}))
		m.mu.Unlock()
	}
}

// rearmDelay clamps an already-past deadline to fire on the next tick
// rather than handing time.AfterFunc a non-positive duration, which would
// otherwise fire it synchronously from within the reload itself.
func rearmDelay(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// StatePreserveKeys names the keepalive timing and command-graph state a
// reload must carry across, per §4.F: reloading the core module must not
// reset in-flight keepalive timing or drop the merged command graph.
func (m *CoreModule) StatePreserveKeys() []string {
	return []string{
		"serverGraph",
		"localCommandNodes",
		"lastSentHigh",
		"lastSentLow",
		"keepAliveOutstanding",
		"clientKeepAliveNextAt",
		"clientKeepAliveDeadlineAt",
		"serverKeepAliveDeadlineAt",
	}
}

// MigrateState copies the fields StatePreserveKeys names from old into m.
// Called after old's OnUnload has already stopped its timers, so the *At
// deadlines (never touched by OnUnload) are still the values last armed.
func (m *CoreModule) MigrateState(old module.Module) {
	prev, ok := old.(*CoreModule)
	if !ok {
		return
	}

	prev.mu.Lock()
	serverGraph := prev.serverGraph
	localCommandNodes := prev.localCommandNodes
	lastSentHigh, lastSentLow := prev.lastSentHigh, prev.lastSentLow
	keepAliveOutstanding := prev.keepAliveOutstanding
	clientNextAt := prev.clientKeepAliveNextAt
	clientDeadlineAt := prev.clientKeepAliveDeadlineAt
	serverDeadlineAt := prev.serverKeepAliveDeadlineAt
	prev.mu.Unlock()

	m.mu.Lock()
	m.serverGraph = serverGraph
	m.localCommandNodes = localCommandNodes
	m.lastSentHigh, m.lastSentLow = lastSentHigh, lastSentLow
	m.keepAliveOutstanding = keepAliveOutstanding
	m.clientKeepAliveNextAt = clientNextAt
	m.clientKeepAliveDeadlineAt = clientDeadlineAt
	m.serverKeepAliveDeadlineAt = serverDeadlineAt
	m.mu.Unlock()
}

func (m *CoreModule) OnUnload(ctx context.Context, reloading bool) error {
	m.mu.Lock()
	stopTimer(m.clientKeepAliveTimer)
	stopTimer(m.clientKeepAliveDeadline)
	stopTimer(m.serverKeepAliveDeadline)
	m.mu.Unlock()
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func buildModuleAutocomplete() *commandgraph.CommandNode {
	g := commandgraph.NewGraph()
	root := g.NewLiteral("module")

	load := g.NewLiteral("load")
	loadName := g.NewArgument("name", "brigadier:string")
	loadName.Executable = true
	load.AddChild(loadName)

	unload := g.NewLiteral("unload")
	unloadName := g.NewArgument("name", "brigadier:string")
	unloadName.Executable = true
	unload.AddChild(unloadName)

	reload := g.NewLiteral("reload")
	reloadName := g.NewArgument("name", "brigadier:string")
	reloadName.Executable = true
	reload.AddChild(reloadName)

	importLit := g.NewLiteral("import")
	importPath := g.NewArgument("path", "brigadier:string")
	importPath.Executable = true
	importLit.AddChild(importPath)

	root.AddChild(load)
	root.AddChild(unload)
	root.AddChild(reload)
	root.AddChild(importLit)
	return root
}

// onClientChat implements §4.F's chat hook: if the command registry
// recognizes the message as a proxy command, cancel forwarding to the
// upstream server.
func (m *CoreModule) onClientChat(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	pkt, ok := e.Data.(*transport.Packet)
	if !ok || pkt.Fields == nil {
		return hooks.Continue, nil
	}
	message, _ := pkt.Fields["message"].(string)

	handled, err := m.proxy.Commands().Execute(ctx, message, m.reply, m.sendServer)
	if err != nil {
		return hooks.Continue, err
	}
	if handled {
		return hooks.Cancel, nil
	}
	return hooks.Continue, nil
}

func (m *CoreModule) reply(message string) {
	_ = m.proxy.InjectClient(&transport.Packet{
		Name: "chat", ID: 0x07, State: transport.Play, Dir: hooks.ServerToClient,
		Fields: transport.Fields{"message": message, "timestamp": time.Now(), "salt": int64(0), "signature": []byte(nil)},
	})
}

func (m *CoreModule) sendServer(message string) {
	_ = m.proxy.InjectServer(&transport.Packet{
		Name: "chat", ID: 0x07, State: transport.Play, Dir: hooks.ClientToServer,
		Fields: transport.Fields{"message": message, "timestamp": time.Now(), "salt": int64(0), "signature": []byte(nil)},
	})
}

func (m *CoreModule) onClientConnected(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	m.mu.Lock()
	m.clientKeepAliveTimer = time.AfterFunc(clientKeepAliveInterval, module.BindCallback(m, func(target module.Module) {
		if cm, ok := target.(*CoreModule); ok {
			cm.sendClientKeepAlive()
		}
	}))
	m.clientKeepAliveNextAt = time.Now().Add(clientKeepAliveInterval)
	graph := m.serverGraph
	m.mu.Unlock()

	if graph != nil {
		fields, err := transport.EncodeGraph(graph)
		if err == nil {
			_ = m.proxy.InjectClient(&transport.Packet{Name: "declare_commands", ID: 0x11, State: transport.Play, Dir: hooks.ServerToClient, Fields: fields})
		}
	}
	return hooks.Continue, nil
}

func (m *CoreModule) onClientDisconnected(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	m.mu.Lock()
	stopTimer(m.clientKeepAliveTimer)
	stopTimer(m.clientKeepAliveDeadline)
	m.clientKeepAliveTimer = nil
	m.clientKeepAliveDeadline = nil
	m.clientKeepAliveNextAt = time.Time{}
	m.clientKeepAliveDeadlineAt = time.Time{}
	m.mu.Unlock()
	return hooks.Continue, nil
}

func (m *CoreModule) onServerConnected(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	return hooks.Continue, nil
}

func (m *CoreModule) onServerDisconnected(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	m.mu.Lock()
	stopTimer(m.serverKeepAliveDeadline)
	m.serverKeepAliveDeadline = nil
	m.serverKeepAliveDeadlineAt = time.Time{}
	m.serverGraph = nil
	m.localCommandNodes = make(map[*commandgraph.CommandNode]struct{})
	m.mu.Unlock()
	return hooks.Continue, nil
}

func (m *CoreModule) sendClientKeepAlive() {
	high, low := transport.SplitTimestamp64(time.Now().UnixMilli())

	now := time.Now()
	m.mu.Lock()
	m.lastSentHigh, m.lastSentLow = high, low
	m.keepAliveOutstanding = true
	stopTimer(m.clientKeepAliveDeadline)
	m.clientKeepAliveDeadline = time.AfterFunc(clientKeepAliveTimeout, module.BindCallback(m, func(target module.Module) {
		if cm, ok := target.(*CoreModule); ok {
			cm.clientKeepAliveExpired()
		}
	}))
	m.clientKeepAliveDeadlineAt = now.Add(clientKeepAliveTimeout)
	m.clientKeepAliveTimer = time.AfterFunc(clientKeepAliveInterval, module.BindCallback(m, func(target module.Module) {
		if cm, ok := target.(*CoreModule); ok {
			cm.sendClientKeepAlive()
		}
	}))
	m.clientKeepAliveNextAt = now.Add(clientKeepAliveInterval)
	m.mu.Unlock()

	_ = m.proxy.InjectClient(&transport.Packet{
		Name: "keep_alive", ID: 0x26, State: transport.Play, Dir: hooks.ServerToClient,
		Fields: transport.Fields{"high": high, "low": low},
	})
}

func (m *CoreModule) clientKeepAliveExpired() {
	m.mu.Lock()
	outstanding := m.keepAliveOutstanding
	m.mu.Unlock()
	if outstanding {
		fmt.Println("coremodule: client keepalive timed out")
	}
}

// onClientKeepAlive implements the client-side keepalive echo check: the
// halves must match the last value sent, otherwise log and treat it as
// stale; always cancel forwarding since this is a proxy-terminated packet.
func (m *CoreModule) onClientKeepAlive(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	pkt, ok := e.Data.(*transport.Packet)
	if !ok || pkt.Fields == nil {
		return hooks.Cancel, nil
	}
	high, _ := pkt.Fields["high"].(int32)
	low, _ := pkt.Fields["low"].(int32)

	m.mu.Lock()
	expectedHigh, expectedLow := m.lastSentHigh, m.lastSentLow
	wasOutstanding := m.keepAliveOutstanding
	m.keepAliveOutstanding = false
	stopTimer(m.clientKeepAliveDeadline)
	m.clientKeepAliveDeadline = nil
	m.clientKeepAliveDeadlineAt = time.Time{}
	m.mu.Unlock()

	if !wasOutstanding {
		fmt.Println("coremodule: received keep_alive with none outstanding")
	} else if high != expectedHigh || low != expectedLow {
		fmt.Println("coremodule: keep_alive mismatch")
	}
	return hooks.Cancel, nil
}

// onServerKeepAlive implements the upstream-side echo: reflect the
// payload back immediately via inject_server, refresh the timeout, and
// cancel forwarding.
func (m *CoreModule) onServerKeepAlive(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	pkt, ok := e.Data.(*transport.Packet)
	if !ok || pkt.Fields == nil {
		return hooks.Cancel, nil
	}

	m.mu.Lock()
	stopTimer(m.serverKeepAliveDeadline)
	m.serverKeepAliveDeadline = time.AfterFunc(serverKeepAliveTimeout, module.BindCallback(m, func(target module.Module) {
		if cm, ok := target.(*CoreModule); ok {
			cm.serverKeepAliveExpired()
		}
	}))
	m.serverKeepAliveDeadlineAt = time.Now().Add(serverKeepAliveTimeout)
	m.mu.Unlock()

	_ = m.proxy.InjectServer(&transport.Packet{
		Name: "keep_alive", ID: 0x1D, State: transport.Play, Dir: hooks.ClientToServer,
		Fields: pkt.Fields,
	})
	return hooks.Cancel, nil
}

// serverKeepAliveExpired only logs the expired upstream keepalive; the
// upstream connection is not closed.
func (m *CoreModule) serverKeepAliveExpired() {
	fmt.Println("coremodule: server keepalive timed out")
}

// onDeclareCommands implements the graph merge of §4.B/§4.F: deserialize
// the server's graph, clear locally-added nodes, recompute and add the
// current command registry's autocomplete roots, cancel the original
// packet, and inject the merged graph to the client instead.
func (m *CoreModule) onDeclareCommands(ctx context.Context, e *hooks.Event) (hooks.EventAction, error) {
	pkt, ok := e.Data.(*transport.Packet)
	if !ok || pkt.Fields == nil {
		return hooks.Continue, nil
	}

	graph, err := transport.DecodeGraph(pkt.Fields)
	if err != nil {
		return hooks.Continue, proxyerr.Wrap(proxyerr.ErrMalformedGraph, fmt.Sprintf("decode server declare_commands: %v", err))
	}

	m.mu.Lock()
	for node := range m.localCommandNodes {
		graph.Root.RemoveChild(node)
	}
	m.localCommandNodes = make(map[*commandgraph.CommandNode]struct{})
	for _, node := range m.proxy.Commands().AutocompleteNodes() {
		graph.Root.AddChild(node)
		m.localCommandNodes[node] = struct{}{}
	}
	m.serverGraph = graph
	m.mu.Unlock()

	fields, err := transport.EncodeGraph(graph)
	if err != nil {
		return hooks.Cancel, err
	}

	if err := m.proxy.InjectClient(&transport.Packet{
		Name: "declare_commands", ID: 0x11, State: transport.Play, Dir: hooks.ServerToClient, Fields: fields,
	}); err != nil {
		return hooks.Cancel, err
	}

	return hooks.Cancel, nil
}

func (m *CoreModule) handleModuleCommand(ctx context.Context, cc *commands.Context) error {
	if len(cc.Args) < 2 {
		cc.Reply("usage: module <load|unload|reload|import> <name|path>")
		return nil
	}

	sub := cc.Args[1]
	if len(cc.Args) < 3 {
		cc.Reply(fmt.Sprintf("usage: module %s <name|path>", sub))
		return nil
	}
	target := cc.Args[2]
	modules := m.proxy.Modules()

	switch sub {
	case "load":
		if err := modules.Load(ctx, target); err != nil {
			cc.Reply(fmt.Sprintf("load failed: %v", err))
			return nil
		}
		cc.Reply(fmt.Sprintf("loaded %s", target))
	case "unload":
		if err := modules.Unload(ctx, target); err != nil {
			cc.Reply(fmt.Sprintf("unload failed: %v", err))
			return nil
		}
		cc.Reply(fmt.Sprintf("unloaded %s", target))
	case "reload":
		if _, err := modules.Reload(ctx, target); err != nil {
			cc.Reply(fmt.Sprintf("reload failed: %v", err))
			return nil
		}
		cc.Reply(fmt.Sprintf("reloaded %s", target))
	case "import":
		mod, err := modules.Import(target, nil)
		if err != nil {
			cc.Reply(fmt.Sprintf("import failed: %v", err))
			return nil
		}
		cc.Reply(fmt.Sprintf("imported %s from %s", mod.Name(), target))
	default:
		cc.Reply(fmt.Sprintf("unknown module subcommand %q", sub))
	}
	return nil
}
