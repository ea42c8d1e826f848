// Package commands implements prefix-matched dispatch of chat-originated
// commands, and the autocomplete root set the core module merges into the
// server-declared command graph.
package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"proxycore/commandgraph"
	"proxycore/proxyerr"
)

// Context is the value handed to a command handler. Reply/SendServer are
// injected by the caller (the proxy core) so this package stays free of any
// dependency on the transport or proxy core packages.
type Context struct {
	Args        []string
	Reply       func(message string)
	SendServer  func(message string)
}

// Handler is invoked with the parsed command context.
type Handler func(ctx context.Context, cc *Context) error

// Descriptor is the caller-supplied definition of a command.
type Descriptor struct {
	Name         string
	Description  string
	Autocomplete *commandgraph.CommandNode // optional
	Handler      Handler
}

// Command is a registered Descriptor with a back-reference to its registry,
// returned by Register so the caller can later Unregister it.
type Command struct {
	Descriptor Descriptor
	registry   *Registry
}

// Registry is the command dispatch table for one proxy instance.
type Registry struct {
	mu       sync.Mutex
	commands map[string]*Command
	prefix   string
}

// New creates a Registry using prefix as the chat command prefix (default
// "/p:" per §6).
func New(prefix string) *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		prefix:   prefix,
	}
}

// SetPrefix updates the configured prefix, e.g. after a config reload.
func (r *Registry) SetPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix = prefix
}

// Prefix returns the currently configured command prefix.
func (r *Registry) Prefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// Register lowercases descriptor.Name and fails with ErrDuplicateName if a
// command with that name already exists. If the configured prefix begins
// with '/' and the autocomplete root's name does not already begin with the
// prefix's slash-stripped form, that form is prepended — so a command named
// "foo" under prefix "/p:" is advertised to the client as "p:foo".
func (r *Registry) Register(desc Descriptor) (*Command, error) {
	name := strings.ToLower(desc.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[name]; exists {
		return nil, proxyerr.Wrap(proxyerr.ErrDuplicateName, fmt.Sprintf("command %q already registered", name))
	}

	desc.Name = name

	if strings.HasPrefix(r.prefix, "/") && desc.Autocomplete != nil && desc.Autocomplete.Name != "" {
		stripped := r.prefix[1:]
		if !strings.HasPrefix(desc.Autocomplete.Name, stripped) {
			desc.Autocomplete.Name = stripped + desc.Autocomplete.Name
		}
	}

	cmd := &Command{Descriptor: desc, registry: r}
	r.commands[name] = cmd
	return cmd, nil
}

// Unregister removes cmd from r, failing with ErrUnknownName if it is not
// currently registered in r.
func (r *Registry) Unregister(cmd *Command) error {
	if cmd == nil || cmd.registry == nil {
		return proxyerr.Wrap(proxyerr.ErrUnknownName, "nil command")
	}
	if cmd.registry != r {
		return proxyerr.Wrap(proxyerr.ErrUnknownName, fmt.Sprintf("command %q not registered", cmd.Descriptor.Name))
	}

	reg := cmd.registry
	reg.mu.Lock()
	defer reg.mu.Unlock()

	existing, ok := reg.commands[cmd.Descriptor.Name]
	if !ok || existing != cmd {
		return proxyerr.Wrap(proxyerr.ErrUnknownName, fmt.Sprintf("command %q not registered", cmd.Descriptor.Name))
	}

	delete(reg.commands, cmd.Descriptor.Name)
	return nil
}

// NotFoundReply is the localized message sent back to the user when a
// prefixed chat message does not match any registered command.
var NotFoundReply = "Command not found"

// Execute reports whether message was a proxy command at all (i.e. it began
// with the configured prefix). When true, the caller must cancel forwarding
// the original chat packet to the upstream server, whether or not a
// matching command was found, and any matched handler has already run with
// reply/sendServer wired to the given callbacks (either may be nil, e.g. in
// tests that only care about the suppression boolean).
func (r *Registry) Execute(ctx context.Context, message string, reply, sendServer func(string)) (bool, error) {
	r.mu.Lock()
	prefix := r.prefix
	r.mu.Unlock()

	if !strings.HasPrefix(message, prefix) {
		return false, nil
	}

	args := strings.Split(message, " ")
	args[0] = strings.ToLower(strings.TrimPrefix(args[0], prefix))
	lookup := args[0]

	r.mu.Lock()
	cmd, ok := r.commands[lookup]
	r.mu.Unlock()

	if !ok {
		if reply != nil {
			reply(NotFoundReply)
		}
		return true, nil
	}

	cc := &Context{Args: args, Reply: reply, SendServer: sendServer}
	if err := cmd.Descriptor.Handler(ctx, cc); err != nil {
		if reply != nil {
			reply(fmt.Sprintf("command failed: %v", err))
		}
		return true, nil
	}
	return true, nil
}

// AutocompleteNodes returns the autocomplete roots of every registered
// command whose Autocomplete is set. If the configured prefix does not
// begin with '/', the client's autocomplete never fires on chat input, so
// this returns an empty set.
func (r *Registry) AutocompleteNodes() []*commandgraph.CommandNode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !strings.HasPrefix(r.prefix, "/") {
		return nil
	}

	var nodes []*commandgraph.CommandNode
	for _, cmd := range r.commands {
		if cmd.Descriptor.Autocomplete != nil {
			nodes = append(nodes, cmd.Descriptor.Autocomplete)
		}
	}
	return nodes
}

// Count returns the number of registered commands.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

// Names returns the sorted-by-nothing-in-particular list of registered
// command names, used by the admin introspection surface.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	return names
}
