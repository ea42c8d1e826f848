package coremodule

import (
	"context"
	"testing"

	"proxycore/commandgraph"
	"proxycore/commands"
	"proxycore/hooks"
	"proxycore/module"
	"proxycore/transport"
)

type fakeProxy struct {
	h        *hooks.Pipeline
	c        *commands.Registry
	reg      *transport.Registry
	modules  *module.Registry
	injected []*transport.Packet
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		h:   hooks.New(),
		c:   commands.New("/p:"),
		reg: transport.DefaultRegistry(),
	}
}

func (f *fakeProxy) Hooks() *hooks.Pipeline             { return f.h }
func (f *fakeProxy) Commands() *commands.Registry       { return f.c }
func (f *fakeProxy) TransportRegistry() *transport.Registry { return f.reg }
func (f *fakeProxy) Modules() *module.Registry          { return f.modules }

func (f *fakeProxy) InjectClient(pkt *transport.Packet) error {
	f.injected = append(f.injected, pkt)
	return nil
}

func (f *fakeProxy) InjectServer(pkt *transport.Packet) error {
	f.injected = append(f.injected, pkt)
	return nil
}

func newLoadedCoreModule(t *testing.T) (*CoreModule, *fakeProxy) {
	t.Helper()
	proxy := newFakeProxy()
	proxy.modules = module.New(proxy, module.NewFactoryRegistry())
	cm := New(proxy)
	if err := cm.OnLoad(context.Background(), false); err != nil {
		t.Fatalf("OnLoad: %v", err)
	}
	return cm, proxy
}

// TestChatCommandCancelsForwarding covers S1: a recognized proxy command
// typed in chat must suppress forwarding to the upstream server.
func TestChatCommandCancelsForwarding(t *testing.T) {
	cm, proxy := newLoadedCoreModule(t)

	pkt := &transport.Packet{
		Name: "chat", Fields: transport.Fields{"message": "/p:module load foo"},
	}
	event := &hooks.Event{Type: "chat", Direction: hooks.ClientToServer, Data: pkt}

	action, err := cm.onClientChat(context.Background(), event)
	if err != nil {
		t.Fatalf("onClientChat: %v", err)
	}
	if action != hooks.Cancel {
		t.Fatalf("expected Cancel, got %v", action)
	}
	if len(proxy.injected) == 0 {
		t.Fatal("expected a reply chat packet injected to the client")
	}
}

func TestChatNonCommandPassesThrough(t *testing.T) {
	cm, _ := newLoadedCoreModule(t)

	pkt := &transport.Packet{Name: "chat", Fields: transport.Fields{"message": "hello everyone"}}
	event := &hooks.Event{Type: "chat", Direction: hooks.ClientToServer, Data: pkt}

	action, err := cm.onClientChat(context.Background(), event)
	if err != nil {
		t.Fatalf("onClientChat: %v", err)
	}
	if action != hooks.Continue {
		t.Fatalf("expected Continue for ordinary chat, got %v", action)
	}
}

// TestKeepAliveRoundTripMatches covers the client keepalive echo check:
// sending back exactly the halves that were sent must not log a mismatch
// (tested indirectly by checking the outstanding flag clears cleanly).
func TestKeepAliveRoundTripMatches(t *testing.T) {
	cm, _ := newLoadedCoreModule(t)
	cm.sendClientKeepAlive()

	cm.mu.Lock()
	high, low := cm.lastSentHigh, cm.lastSentLow
	cm.mu.Unlock()

	pkt := &transport.Packet{Fields: transport.Fields{"high": high, "low": low}}
	event := &hooks.Event{Data: pkt}

	action, err := cm.onClientKeepAlive(context.Background(), event)
	if err != nil {
		t.Fatalf("onClientKeepAlive: %v", err)
	}
	if action != hooks.Cancel {
		t.Fatalf("expected Cancel, got %v", action)
	}

	cm.mu.Lock()
	outstanding := cm.keepAliveOutstanding
	cm.mu.Unlock()
	if outstanding {
		t.Fatal("expected keepalive no longer outstanding after matching echo")
	}

	// stop the next scheduled timer so the test doesn't leak a goroutine
	// past completion.
	cm.mu.Lock()
	stopTimer(cm.clientKeepAliveTimer)
	cm.mu.Unlock()
}

func TestServerKeepAliveEchoesBack(t *testing.T) {
	cm, proxy := newLoadedCoreModule(t)

	pkt := &transport.Packet{Fields: transport.Fields{"high": int32(1), "low": int32(2)}}
	event := &hooks.Event{Data: pkt}

	action, err := cm.onServerKeepAlive(context.Background(), event)
	if err != nil {
		t.Fatalf("onServerKeepAlive: %v", err)
	}
	if action != hooks.Cancel {
		t.Fatalf("expected Cancel, got %v", action)
	}
	if len(proxy.injected) != 1 {
		t.Fatalf("expected one injected echo packet, got %d", len(proxy.injected))
	}

	cm.mu.Lock()
	stopTimer(cm.serverKeepAliveDeadline)
	cm.mu.Unlock()
}

// TestDeclareCommandsMergeIsIdempotent covers the §4.B merge discipline:
// running the merge twice must not duplicate local command nodes under
// graph.Root.
func TestDeclareCommandsMergeIsIdempotent(t *testing.T) {
	cm, proxy := newLoadedCoreModule(t)

	g := commandgraph.NewGraph()
	serverLit := g.NewLiteral("spawn")
	serverLit.Executable = true
	g.Root.AddChild(serverLit)
	fields, err := transport.EncodeGraph(g)
	if err != nil {
		t.Fatalf("EncodeGraph: %v", err)
	}

	pkt := &transport.Packet{Fields: fields}
	event := &hooks.Event{Data: pkt}

	for i := 0; i < 2; i++ {
		action, err := cm.onDeclareCommands(context.Background(), event)
		if err != nil {
			t.Fatalf("onDeclareCommands iteration %d: %v", i, err)
		}
		if action != hooks.Cancel {
			t.Fatalf("expected Cancel, got %v", action)
		}
	}

	if len(proxy.injected) != 2 {
		t.Fatalf("expected two injected declare_commands packets, got %d", len(proxy.injected))
	}

	last := proxy.injected[len(proxy.injected)-1]
	decoded, err := transport.DecodeGraph(last.Fields)
	if err != nil {
		t.Fatalf("DecodeGraph: %v", err)
	}

	moduleChildren := 0
	for _, c := range decoded.Root.Children {
		if c.Name == "p:module" {
			moduleChildren++
		}
	}
	if moduleChildren != 1 {
		t.Fatalf("expected exactly one merged module command node, got %d", moduleChildren)
	}
}

func TestModuleCommandLoadUnload(t *testing.T) {
	cm, proxy := newLoadedCoreModule(t)

	fr := module.NewFactoryRegistry()
	fr.Register("path/x", func(p module.Proxy, _ string, path string, config any) (module.Module, error) {
		b := &stubModule{}
		b.Init(p, "x", path, config)
		return b, nil
	})
	proxy.modules = module.New(proxy, fr)

	if _, err := proxy.modules.Import("path/x", nil); err != nil {
		t.Fatalf("Import: %v", err)
	}

	var reply string
	cc := &commands.Context{Args: []string{"module", "load", "x"}, Reply: func(s string) { reply = s }}
	if err := cm.handleModuleCommand(context.Background(), cc); err != nil {
		t.Fatalf("handleModuleCommand load: %v", err)
	}
	if reply == "" {
		t.Fatal("expected a reply after load")
	}

	cc = &commands.Context{Args: []string{"module", "unload", "x"}, Reply: func(s string) { reply = s }}
	if err := cm.handleModuleCommand(context.Background(), cc); err != nil {
		t.Fatalf("handleModuleCommand unload: %v", err)
	}
}

type stubModule struct {
	module.Base
}

func (s *stubModule) OnLoad(context.Context, bool) error   { return nil }
func (s *stubModule) OnUnload(context.Context, bool) error { return nil }

// TestReloadPreservesKeepAliveAndCommandGraph exercises the same sequence
// module.Registry.Reload drives — old.OnUnload(true), new.MigrateState(old),
// new.OnLoad(true) — directly against two CoreModule instances, and checks
// that in-flight keepalive timing and the merged command graph survive.
func TestReloadPreservesKeepAliveAndCommandGraph(t *testing.T) {
	old, proxy := newLoadedCoreModule(t)
	ctx := context.Background()

	old.sendClientKeepAlive()

	serverPkt := &transport.Packet{Fields: transport.Fields{"high": int32(3), "low": int32(4)}}
	if _, err := old.onServerKeepAlive(ctx, &hooks.Event{Data: serverPkt}); err != nil {
		t.Fatalf("onServerKeepAlive: %v", err)
	}

	g := commandgraph.NewGraph()
	serverLit := g.NewLiteral("spawn")
	serverLit.Executable = true
	g.Root.AddChild(serverLit)
	fields, err := transport.EncodeGraph(g)
	if err != nil {
		t.Fatalf("EncodeGraph: %v", err)
	}
	if _, err := old.onDeclareCommands(ctx, &hooks.Event{Data: &transport.Packet{Fields: fields}}); err != nil {
		t.Fatalf("onDeclareCommands: %v", err)
	}

	old.mu.Lock()
	wantHigh, wantLow := old.lastSentHigh, old.lastSentLow
	wantOutstanding := old.keepAliveOutstanding
	wantGraph := old.serverGraph
	wantNextAt := old.clientKeepAliveNextAt
	wantClientDeadlineAt := old.clientKeepAliveDeadlineAt
	wantServerDeadlineAt := old.serverKeepAliveDeadlineAt
	wantLocalNodeCount := len(old.localCommandNodes)
	old.mu.Unlock()
	if wantGraph == nil {
		t.Fatal("expected serverGraph to be populated before reload")
	}
	if wantNextAt.IsZero() || wantClientDeadlineAt.IsZero() || wantServerDeadlineAt.IsZero() {
		t.Fatal("expected all three keepalive deadlines to be armed before reload")
	}

	if err := old.OnUnload(ctx, true); err != nil {
		t.Fatalf("OnUnload: %v", err)
	}
	old.ReleaseOwned()

	newMod := New(proxy)
	newMod.MigrateState(old)
	if err := newMod.OnLoad(ctx, true); err != nil {
		t.Fatalf("OnLoad: %v", err)
	}

	newMod.mu.Lock()
	defer newMod.mu.Unlock()
	if newMod.lastSentHigh != wantHigh || newMod.lastSentLow != wantLow {
		t.Fatalf("keepalive halves not migrated: got (%d,%d), want (%d,%d)", newMod.lastSentHigh, newMod.lastSentLow, wantHigh, wantLow)
	}
	if newMod.keepAliveOutstanding != wantOutstanding {
		t.Fatalf("keepAliveOutstanding not migrated: got %v, want %v", newMod.keepAliveOutstanding, wantOutstanding)
	}
	if newMod.serverGraph != wantGraph {
		t.Fatal("serverGraph not migrated across reload")
	}
	if len(newMod.localCommandNodes) != wantLocalNodeCount {
		t.Fatalf("localCommandNodes not migrated: got %d entries, want %d", len(newMod.localCommandNodes), wantLocalNodeCount)
	}
	if newMod.clientKeepAliveTimer == nil {
		t.Fatal("expected client keepalive send timer to be re-armed after reload")
	}
	if newMod.clientKeepAliveDeadline == nil {
		t.Fatal("expected client keepalive ack-deadline timer to be re-armed after reload")
	}
	if newMod.serverKeepAliveDeadline == nil {
		t.Fatal("expected server keepalive ack-deadline timer to be re-armed after reload")
	}

	stopTimer(newMod.clientKeepAliveTimer)
	stopTimer(newMod.clientKeepAliveDeadline)
	stopTimer(newMod.serverKeepAliveDeadline)
}
