// Package hooks implements the proxy's ordered, priority-sorted interception
// pipeline: packets and local lifecycle events are run through a chain of
// registered handlers before the proxy core forwards (or suppresses) them.
package hooks

import (
	"context"
	"fmt"
	"sync"
)

// Direction identifies which hook table a hook is attached to.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
	Local
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "ClientToServer"
	case ServerToClient:
		return "ServerToClient"
	case Local:
		return "Local"
	default:
		return "Unknown"
	}
}

// EventAction is produced by a handler and controls pipeline continuation
// and whether the packet is ultimately forwarded.
type EventAction int

const (
	// Continue advances the traversal to the next hook.
	Continue EventAction = iota
	// CancelHooks stops the traversal but still allows forwarding.
	CancelHooks
	// Cancel stops the traversal and suppresses forwarding.
	Cancel
)

func (a EventAction) String() string {
	switch a {
	case Continue:
		return "Continue"
	case CancelHooks:
		return "CancelHooks"
	case Cancel:
		return "Cancel"
	default:
		return "Unknown"
	}
}

// Event is the mutable value threaded through one pipeline traversal. Data
// is the structured packet payload (or, for Local events, whatever opaque
// value the lifecycle notification carries); mutating it in place is the
// supported way for a hook to rewrite what will be forwarded.
type Event struct {
	Type      string
	Direction Direction
	Data      any
}

// Handler is invoked once per traversal step. It may mutate the event's Data
// field and must return the action that determines whether the traversal
// continues.
type Handler func(ctx context.Context, event *Event) (EventAction, error)

const defaultPriority = 100

// Hook is a single registered interceptor. It belongs to exactly one
// hookList, identified by (scope, type), and forms a node of that list's
// intrusive doubly-linked chain.
//
// Unregister deliberately does not clear a removed hook's own next/prev: a
// handler that is mid-traversal may have already captured this node as its
// "next" pointer, and removal must not strand that traversal. Only the
// surviving neighbors are repointed. This mirrors the spec's requirement
// that the cursor used during a pass is captured before the handler runs,
// and tolerates arbitrary register/unregister calls from within a handler.
type Hook struct {
	Scope    Direction
	Type     string
	Priority int
	Handler  Handler
	Owner    string // module name that registered this hook, "" if none

	next, prev *Hook
	owningList *hookList
}

type hookList struct {
	head, tail *Hook
	len        int
}

func (l *hookList) insertBefore(h, mark *Hook) {
	if mark == nil {
		l.pushBack(h)
		return
	}
	h.next = mark
	h.prev = mark.prev
	if mark.prev != nil {
		mark.prev.next = h
	} else {
		l.head = h
	}
	mark.prev = h
	l.len++
}

func (l *hookList) pushBack(h *Hook) {
	h.prev = l.tail
	h.next = nil
	if l.tail != nil {
		l.tail.next = h
	} else {
		l.head = h
	}
	l.tail = h
	l.len++
}

func (l *hookList) remove(h *Hook) {
	if h.owningList != l {
		return
	}
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		l.head = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	} else {
		l.tail = h.prev
	}
	l.len--
	h.owningList = nil
	// h.next/h.prev intentionally left untouched, see Hook doc comment.
}

type tableKey struct {
	scope Direction
	typ   string
}

// Pipeline owns one HookTable: a map from (direction, packet type) to an
// ordered list of hooks. All mutation and traversal happens under a single
// mutex, matching the single-threaded cooperative model the spec assumes —
// the mutex exists only as a defensive belt over that assumption.
type Pipeline struct {
	mu     sync.Mutex
	tables map[tableKey]*hookList
}

// New creates an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{tables: make(map[tableKey]*hookList)}
}

// Register inserts a new hook into the list for (scope, type), creating the
// list if absent. The new hook is placed after all existing hooks of
// priority <= priority and before all hooks of priority > priority, so lower
// priority fires first and ties preserve registration order.
func (p *Pipeline) Register(scope Direction, typ string, handler Handler, priority int, owner string) *Hook {
	if priority == 0 {
		priority = defaultPriority
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := tableKey{scope, typ}
	l, ok := p.tables[key]
	if !ok {
		l = &hookList{}
		p.tables[key] = l
	}

	h := &Hook{Scope: scope, Type: typ, Priority: priority, Handler: handler, Owner: owner}

	var mark *Hook
	for cur := l.head; cur != nil; cur = cur.next {
		if cur.Priority > priority {
			mark = cur
			break
		}
	}

	l.insertBefore(h, mark)
	h.owningList = l
	return h
}

// RegisterDefault registers with the default priority (100).
func (p *Pipeline) RegisterDefault(scope Direction, typ string, handler Handler, owner string) *Hook {
	return p.Register(scope, typ, handler, defaultPriority, owner)
}

// Unregister removes a hook from its list in O(1).
func (p *Pipeline) Unregister(h *Hook) {
	if h == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h.owningList != nil {
		h.owningList.remove(h)
	}
}

// Execute constructs a fresh Event and traverses the hook list for
// (scope, type) head-to-tail, awaiting each handler sequentially. It returns
// true if the packet should be forwarded, false if it should be suppressed.
// A handler error aborts the traversal; the packet is treated as suppressed
// and the error propagates to the caller.
func (p *Pipeline) Execute(ctx context.Context, scope Direction, typ string, data any) (bool, error) {
	event := &Event{Type: typ, Direction: scope, Data: data}

	p.mu.Lock()
	l, ok := p.tables[tableKey{scope, typ}]
	var cursor *Hook
	if ok {
		cursor = l.head
	}
	p.mu.Unlock()

	for cursor != nil {
		p.mu.Lock()
		h := cursor
		next := cursor.next
		stillRegistered := h.owningList != nil
		p.mu.Unlock()

		if !stillRegistered {
			// h was unregistered by an earlier handler in this same pass
			// before we reached it; skip invoking it but keep walking the
			// chain via the pointer it still carries.
			cursor = next
			continue
		}

		action, err := h.Handler(ctx, event)
		if err != nil {
			return false, fmt.Errorf("hooks: handler for %s/%s failed: %w", scope, typ, err)
		}

		switch action {
		case Continue:
			cursor = next
		case CancelHooks:
			return true, nil
		case Cancel:
			return false, nil
		default:
			return false, fmt.Errorf("hooks: handler for %s/%s returned invalid action %v", scope, typ, action)
		}
	}

	return true, nil
}

// Count returns the number of hooks registered for (scope, type), used by
// the admin introspection surface and by tests.
func (p *Pipeline) Count(scope Direction, typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.tables[tableKey{scope, typ}]
	if !ok {
		return 0
	}
	return l.len
}

// Total returns the number of hooks registered across every (scope, type).
func (p *Pipeline) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, l := range p.tables {
		total += l.len
	}
	return total
}
