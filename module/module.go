// Package module implements the hot-reloadable module lifecycle: import,
// load, unload, and state-preserving reload, generalized from the
// teacher's tag-keyed handler manager idiom into a name-keyed module
// registry with a reload pipeline on top.
package module

import (
	"context"
	"fmt"
	"sync"

	"proxycore/commands"
	"proxycore/hooks"
	"proxycore/proxyerr"
)

// Proxy is the narrow surface a Module needs from its owning proxy core,
// kept as an interface here so this package has no import-cycle dependency
// on proxycore.
type Proxy interface {
	Hooks() *hooks.Pipeline
	Commands() *commands.Registry
}

// Module is implemented by every loadable unit. OnLoad/OnUnload receive
// reloading=true when invoked as part of Registry.Reload rather than a
// bare Load/Unload.
type Module interface {
	Name() string
	OnLoad(ctx context.Context, reloading bool) error
	OnUnload(ctx context.Context, reloading bool) error
	// StatePreserveKeys names the fields a reload should migrate verbatim
	// from the old instance to the new one via MigrateState.
	StatePreserveKeys() []string
	// MigrateState copies the named keys from old into the receiver. Called
	// on the new instance with the previous one as old.
	MigrateState(old Module)
}

// Base is an embeddable helper that gives a Module its owned hook/command
// bookkeeping, mirroring the spec's register_hook/register_command/unload
// discipline. Concrete modules embed Base and call RegisterHook/
// RegisterCommand instead of talking to the Pipeline/Registry directly.
type Base struct {
	proxy Proxy

	mu       sync.Mutex
	ownHooks []*hooks.Hook
	ownCmds  []*commands.Command

	// Current points at the module that superseded this one via reload, nil
	// until that happens. Previous points back at the module this one
	// replaced. See Registry.Reload for the chain-collapsing discipline
	// that keeps this from growing unboundedly.
	Current  Module
	Previous Module

	name       string
	modulePath string
	config     any
}

// Init wires a Base to its owning proxy, name, and origin path. Concrete
// modules call this from their constructor or from Registry.Import.
func (b *Base) Init(proxy Proxy, name, modulePath string, config any) {
	b.proxy = proxy
	b.name = name
	b.modulePath = modulePath
	b.config = config
}

func (b *Base) Name() string         { return b.name }
func (b *Base) ModulePath() string   { return b.modulePath }
func (b *Base) Config() any          { return b.config }
func (b *Base) Proxy() Proxy         { return b.proxy }

// StatePreserveKeys defaults to none; modules with state to migrate across
// a reload override this.
func (b *Base) StatePreserveKeys() []string { return nil }

// MigrateState is a no-op default; modules override it alongside a
// non-empty StatePreserveKeys.
func (b *Base) MigrateState(Module) {}

// RegisterHook registers handler on the owning proxy's pipeline and
// remembers it so Unload can release it.
func (b *Base) RegisterHook(scope hooks.Direction, typ string, handler hooks.Handler, priority int) *hooks.Hook {
	h := b.proxy.Hooks().Register(scope, typ, handler, priority, b.name)
	b.mu.Lock()
	b.ownHooks = append(b.ownHooks, h)
	b.mu.Unlock()
	return h
}

// RegisterCommand registers desc on the owning proxy's command registry and
// remembers it so Unload can release it.
func (b *Base) RegisterCommand(desc commands.Descriptor) (*commands.Command, error) {
	cmd, err := b.proxy.Commands().Register(desc)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.ownCmds = append(b.ownCmds, cmd)
	b.mu.Unlock()
	return cmd, nil
}

// ReleaseOwned unregisters every hook and command this module has
// registered through RegisterHook/RegisterCommand. Called by Registry
// around OnUnload.
func (b *Base) ReleaseOwned() {
	b.mu.Lock()
	ownHooks := b.ownHooks
	ownCmds := b.ownCmds
	b.ownHooks = nil
	b.ownCmds = nil
	b.mu.Unlock()

	for _, h := range ownHooks {
		b.proxy.Hooks().Unregister(h)
	}
	for _, c := range ownCmds {
		_ = b.proxy.Commands().Unregister(c)
	}
}

// bindTarget resolves which module a bind_callback forward should dispatch
// to: the latest version in the Current chain, or the receiver itself.
func bindTarget(m Module) Module {
	base, ok := m.(interface{ current() Module })
	if !ok {
		return m
	}
	if cur := base.current(); cur != nil {
		return bindTarget(cur)
	}
	return m
}

func (b *Base) current() Module { return b.Current }

// BindCallback returns a zero-argument forwarder that, at invocation time,
// dispatches fn against whichever module is now current in this module's
// reload chain, so a timer scheduled against an old version transparently
// invokes the replacement's method.
func BindCallback(m Module, fn func(Module)) func() {
	return func() {
		fn(bindTarget(m))
	}
}

// Factory produces a fresh Module instance, given an origin path. It is the
// in-process substitute for the dynamic "import module code from path"
// step a scripting-language proxy would perform.
type Factory func(proxy Proxy, name, modulePath string, config any) (Module, error)

// FactoryRegistry maps an origin path to the Factory that knows how to
// build a Module from it, standing in for the filesystem code-loading
// cache the spec describes: Reload "invalidates" a path by simply
// re-invoking its Factory, since there is no cached bytecode to evict in a
// compiled target.
type FactoryRegistry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

// NewFactoryRegistry creates an empty FactoryRegistry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// Register associates path with factory, overwriting any prior
// registration (registering twice under the same path is how a module
// updates its own code in this in-process model).
func (fr *FactoryRegistry) Register(path string, factory Factory) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.factories[path] = factory
}

// Build invokes the factory registered for path.
func (fr *FactoryRegistry) Build(path string, proxy Proxy, name string, config any) (Module, error) {
	fr.mu.Lock()
	factory, ok := fr.factories[path]
	fr.mu.Unlock()
	if !ok {
		return nil, proxyerr.Wrap(proxyerr.ErrUnknownName, fmt.Sprintf("no factory registered for module path %q", path))
	}
	return factory(proxy, name, path, config)
}

// Invalidate is a deliberate no-op: a compiled Factory carries no stale
// cached bytecode to evict. It exists so Reload's call site reads the same
// as the spec's step 2 even though nothing needs to happen here; see
// DESIGN.md for the factory-table rationale.
func (fr *FactoryRegistry) Invalidate(path string) {}

// CoreModuleName is the name the always-loaded built-in core module
// registers itself under. It is named here, rather than imported from the
// coremodule package, because coremodule imports this package and a
// reverse import would cycle.
const CoreModuleName = "core"

type entry struct {
	mod        Module
	modulePath string
	loaded     bool
}

// Registry is the proxy-owned table of loaded modules, keyed by name.
type Registry struct {
	proxy     Proxy
	factories *FactoryRegistry

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Registry bound to proxy and factories.
func New(proxy Proxy, factories *FactoryRegistry) *Registry {
	return &Registry{
		proxy:     proxy,
		factories: factories,
		entries:   make(map[string]*entry),
	}
}

// Import builds a module from modulePath via the factory table and inserts
// it into the registry keyed by its self-declared name. Fails with
// ErrDuplicateName if that name is already registered.
func (r *Registry) Import(modulePath string, config any) (Module, error) {
	mod, err := r.factories.Build(modulePath, r.proxy, "", config)
	if err != nil {
		return nil, err
	}

	name := mod.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return nil, proxyerr.Wrap(proxyerr.ErrDuplicateName, fmt.Sprintf("module %q already registered", name))
	}
	r.entries[name] = &entry{mod: mod, modulePath: modulePath}
	return mod, nil
}

// Load calls OnLoad(false) on the named module. Fails with ErrUnknownName
// if absent, ErrInvalidState if the module is already loaded, and any
// error OnLoad returns propagates unwrapped.
func (r *Registry) Load(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return proxyerr.Wrap(proxyerr.ErrUnknownName, fmt.Sprintf("module %q not imported", name))
	}
	if e.loaded {
		r.mu.Unlock()
		return proxyerr.Wrap(proxyerr.ErrInvalidState, fmt.Sprintf("module %q is already loaded", name))
	}
	r.mu.Unlock()

	if err := e.mod.OnLoad(ctx, false); err != nil {
		return err
	}

	r.mu.Lock()
	e.loaded = true
	r.mu.Unlock()
	return nil
}

// Unload calls OnUnload(false) on the named module, then releases its
// owned hooks and commands if it embeds Base. Fails with ErrUnknownName if
// absent, ErrInvalidState if the module is not currently loaded, and
// ErrInvalidState if name is the core module — the core module can only be
// torn down as part of a reload (reloading=true), never unloaded outright.
func (r *Registry) Unload(ctx context.Context, name string) error {
	if name == CoreModuleName {
		return proxyerr.Wrap(proxyerr.ErrInvalidState, "core module cannot be unloaded outside a reload")
	}

	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return proxyerr.Wrap(proxyerr.ErrUnknownName, fmt.Sprintf("module %q not loaded", name))
	}
	if !e.loaded {
		r.mu.Unlock()
		return proxyerr.Wrap(proxyerr.ErrInvalidState, fmt.Sprintf("module %q is not loaded", name))
	}
	r.mu.Unlock()

	if err := e.mod.OnUnload(ctx, false); err != nil {
		return err
	}
	releaseOwned(e.mod)

	r.mu.Lock()
	e.loaded = false
	r.mu.Unlock()
	return nil
}

func releaseOwned(m Module) {
	if r, ok := m.(interface{ ReleaseOwned() }); ok {
		r.ReleaseOwned()
	}
}

const reloadChainDepthLimit = 64

// Reload re-imports the module named name from its original path,
// migrates state, swaps it into the registry, and rewires the version
// chain, per the spec's seven-step reload procedure.
func (r *Registry) Reload(ctx context.Context, name string) (Module, error) {
	r.mu.Lock()
	old, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, proxyerr.Wrap(proxyerr.ErrUnknownName, fmt.Sprintf("module %q not loaded", name))
	}
	if old.modulePath == "" {
		return nil, proxyerr.Wrap(proxyerr.ErrInvalidState, fmt.Sprintf("module %q has no known origin path", name))
	}

	depth := 0
	for p := old.mod; p != nil; {
		base, ok := p.(interface{ previousModule() Module })
		if !ok {
			break
		}
		p = base.previousModule()
		depth++
		if depth > reloadChainDepthLimit {
			return nil, proxyerr.Wrap(proxyerr.ErrReloadFailure, "reload chain traversal exceeded safety limit")
		}
	}

	r.factories.Invalidate(old.modulePath)

	var config any
	if cfgr, ok := old.mod.(interface{ Config() any }); ok {
		config = cfgr.Config()
	}

	newMod, err := r.factories.Build(old.modulePath, r.proxy, name, config)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.ErrReloadFailure, fmt.Sprintf("re-import of %q failed: %v", old.modulePath, err))
	}

	if err := old.mod.OnUnload(ctx, true); err != nil {
		return nil, proxyerr.Wrap(proxyerr.ErrReloadFailure, fmt.Sprintf("old instance unload failed: %v", err))
	}
	releaseOwned(old.mod)

	newMod.MigrateState(old.mod)

	if err := newMod.OnLoad(ctx, true); err != nil {
		releaseOwned(newMod)
		if restoreErr := old.mod.OnLoad(ctx, true); restoreErr != nil {
			return nil, proxyerr.Wrap(proxyerr.ErrReloadFailure, fmt.Sprintf("new instance load failed: %v; restoring old instance failed: %v", err, restoreErr))
		}
		return nil, proxyerr.Wrap(proxyerr.ErrReloadFailure, fmt.Sprintf("new instance load failed: %v", err))
	}

	linkReloadChain(old.mod, newMod)

	newName := newMod.Name()

	r.mu.Lock()
	if newName != name {
		delete(r.entries, name)
	}
	r.entries[newName] = &entry{mod: newMod, modulePath: old.modulePath, loaded: true}
	r.mu.Unlock()

	return newMod, nil
}

// linkReloadChain implements step 7: old.current = new; if old.previous
// exists, old.previous.current = new and old.previous = nil; new.previous
// = old. Clearing old.previous breaks the chain one hop back so earlier
// ancestors become unreachable and collectible, bounding chain length.
func linkReloadChain(old, new Module) {
	type chainer interface {
		setCurrent(Module)
		previousModule() Module
		setPrevious(Module)
	}
	oc, ok := old.(chainer)
	if !ok {
		return
	}
	nc, ok := new.(chainer)
	if !ok {
		return
	}

	oc.setCurrent(new)
	if prev := oc.previousModule(); prev != nil {
		if pc, ok := prev.(chainer); ok {
			pc.setCurrent(new)
		}
		oc.setPrevious(nil)
	}
	nc.setPrevious(old)
}

func (b *Base) setCurrent(m Module)     { b.Current = m }
func (b *Base) previousModule() Module  { return b.Previous }
func (b *Base) setPrevious(m Module)    { b.Previous = m }

// Get returns the currently registered module named name, if any.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.mod, true
}

// Names returns the names of every currently registered module.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Count returns the number of currently registered modules.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
