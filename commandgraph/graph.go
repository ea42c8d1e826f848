// Package commandgraph implements the recursive, redirect-capable
// autocomplete graph advertised to clients, along with its round-trip to a
// flat indexed wire form (declare_commands).
//
// In-process code links nodes through Children/Redirect pointers; integer
// indices exist only at the serialization boundary, where Serialize assigns
// them in BFS order and Deserialize resolves them back into pointers.
package commandgraph

import (
	"fmt"

	"proxycore/proxyerr"
)

// NodeKind is the kind of a CommandNode.
type NodeKind int

const (
	Root NodeKind = iota
	Literal
	Argument
)

// SuggestionProvider names a server-side suggestion source for an Argument
// node with custom suggestions (the CommandNodeSuggestions identifiers of
// the wire protocol).
type SuggestionProvider int

const (
	NoSuggestions SuggestionProvider = iota
	AskServer
	Recipes
	Sounds
	Entities
)

func (s SuggestionProvider) wireName() (string, bool) {
	switch s {
	case AskServer:
		return "ask_server", true
	case Recipes:
		return "minecraft:recipes", true
	case Sounds:
		return "minecraft:available_sounds", true
	case Entities:
		return "minecraft:summonable_entities", true
	default:
		return "", false
	}
}

// CommandNode is one node of the autocomplete DAG. Nodes may be shared by
// multiple parents, and cycles are permitted only via Redirect.
type CommandNode struct {
	Kind             NodeKind
	Name             string // required for Literal and Argument
	Parser           string // required for Argument, e.g. "brigadier:string"
	ParserProperties []byte // parser-specific blob, opaque to this package
	Suggestions      SuggestionProvider
	Executable       bool
	Redirect         *CommandNode
	Children         []*CommandNode

	graph *CommandGraph
	index int // -1 until the node has been added to a graph's arena
}

// AddChild appends child to n.Children if it is not already present
// (identity comparison), matching the merge discipline of §4.B: the same
// node object must never appear twice in one parent's child list.
func (n *CommandNode) AddChild(child *CommandNode) {
	for _, c := range n.Children {
		if c == child {
			return
		}
	}
	n.Children = append(n.Children, child)
}

// RemoveChild removes child from n.Children by identity, a no-op if absent.
func (n *CommandNode) RemoveChild(child *CommandNode) {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return
		}
	}
}

// CommandGraph owns a Root node of kind Root. Nodes made with
// NewLiteral/NewArgument are not recorded on the graph; nodes is filled only
// by Deserialize.
type CommandGraph struct {
	Root  *CommandNode
	nodes []*CommandNode
}

// NewGraph creates a graph with a fresh Root node.
func NewGraph() *CommandGraph {
	g := &CommandGraph{}
	g.Root = g.newNode(Root)
	return g
}

func (g *CommandGraph) newNode(kind NodeKind) *CommandNode {
	n := &CommandNode{Kind: kind, graph: g, index: -1}
	return n
}

// NewLiteral creates a Literal node named name, not yet attached to any
// parent.
func (g *CommandGraph) NewLiteral(name string) *CommandNode {
	n := g.newNode(Literal)
	n.Name = name
	return n
}

// NewArgument creates an Argument node named name parsed by parser, not yet
// attached to any parent.
func (g *CommandGraph) NewArgument(name, parser string) *CommandNode {
	n := g.newNode(Argument)
	n.Name = name
	n.Parser = parser
	return n
}

// SerializedNode is the flat, index-based wire representation of one
// CommandNode, matching §6's declare_commands bit layout.
type SerializedNode struct {
	NodeType             NodeKind
	HasCommand           bool // Executable
	HasRedirect          bool
	HasCustomSuggestions bool
	Children             []int
	Redirect             int // valid only if HasRedirect
	Name                 string
	Parser               string
	ParserProperties     []byte
	Suggestions          SuggestionProvider
}

// Flags packs the node into the single-byte layout from §6:
// bits [0:2]=node_type, bit 2=has_command, bit 3=has_redirect,
// bit 4=has_custom_suggestions, bits [5:7] reserved.
func (s SerializedNode) Flags() byte {
	var f byte
	f |= byte(s.NodeType) & 0x3
	if s.HasCommand {
		f |= 1 << 2
	}
	if s.HasRedirect {
		f |= 1 << 3
	}
	if s.HasCustomSuggestions {
		f |= 1 << 4
	}
	return f
}

// DecodeFlags unpacks a flags byte into its component bits.
func DecodeFlags(f byte) (nodeType NodeKind, hasCommand, hasRedirect, hasCustomSuggestions bool) {
	nodeType = NodeKind(f & 0x3)
	hasCommand = f&(1<<2) != 0
	hasRedirect = f&(1<<3) != 0
	hasCustomSuggestions = f&(1<<4) != 0
	return
}

// Serialize performs a breadth-first traversal from root, assigning each
// reachable node an index equal to its dequeue position, and emits one
// SerializedNode per reachable node. The traversal order is deterministic for a
// given graph (BFS from Root, children then redirect, in declaration order)
// but the client is only required to treat indices as opaque — any valid
// ordering would do.
func (g *CommandGraph) Serialize() (nodes []SerializedNode, rootIndex int, err error) {
	indices := make(map[*CommandNode]int)
	var order []*CommandNode

	queue := []*CommandNode{g.Root}
	indices[g.Root] = 0
	order = append(order, g.Root)

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		for _, c := range n.Children {
			if _, seen := indices[c]; seen {
				continue
			}
			indices[c] = len(order)
			order = append(order, c)
			queue = append(queue, c)
		}
		if n.Redirect != nil {
			if _, seen := indices[n.Redirect]; !seen {
				indices[n.Redirect] = len(order)
				order = append(order, n.Redirect)
				queue = append(queue, n.Redirect)
			}
		}
	}

	nodes = make([]SerializedNode, len(order))
	for i, n := range order {
		sn := SerializedNode{
			NodeType:   n.Kind,
			HasCommand: n.Executable,
		}

		switch n.Kind {
		case Literal:
			if n.Name == "" {
				return nil, 0, proxyerr.Wrap(proxyerr.ErrMalformedGraph, "literal node missing name")
			}
			sn.Name = n.Name
		case Argument:
			if n.Name == "" || n.Parser == "" {
				return nil, 0, proxyerr.Wrap(proxyerr.ErrMalformedGraph, "argument node missing name or parser")
			}
			sn.Name = n.Name
			sn.Parser = n.Parser
			sn.ParserProperties = n.ParserProperties
			if _, ok := n.Suggestions.wireName(); ok {
				sn.HasCustomSuggestions = true
				sn.Suggestions = n.Suggestions
			}
		}

		sn.Children = make([]int, len(n.Children))
		for j, c := range n.Children {
			idx, ok := indices[c]
			if !ok {
				return nil, 0, proxyerr.Wrap(proxyerr.ErrMalformedGraph, "child not reachable from root")
			}
			sn.Children[j] = idx
		}

		if n.Redirect != nil {
			idx, ok := indices[n.Redirect]
			if !ok {
				return nil, 0, proxyerr.Wrap(proxyerr.ErrMalformedGraph, "redirect target not reachable from root")
			}
			sn.HasRedirect = true
			sn.Redirect = idx
		}

		nodes[i] = sn
	}

	return nodes, 0, nil
}

// Deserialize materializes a CommandGraph from a flat node list and the
// index of the root. Every node is allocated before children/redirect
// references are resolved, so forward references and cycles are both
// handled correctly.
func Deserialize(serialized []SerializedNode, rootIndex int) (*CommandGraph, error) {
	if rootIndex < 0 || rootIndex >= len(serialized) {
		return nil, proxyerr.Wrap(proxyerr.ErrMalformedGraph, "root index out of range")
	}

	g := &CommandGraph{}
	nodes := make([]*CommandNode, len(serialized))
	for i, sn := range serialized {
		nodes[i] = &CommandNode{
			Kind:             sn.NodeType,
			Name:             sn.Name,
			Parser:           sn.Parser,
			ParserProperties: sn.ParserProperties,
			Suggestions:      sn.Suggestions,
			Executable:       sn.HasCommand,
			graph:            g,
			index:            i,
		}
	}

	for i, sn := range serialized {
		n := nodes[i]
		n.Children = make([]*CommandNode, len(sn.Children))
		for j, ci := range sn.Children {
			if ci < 0 || ci >= len(nodes) {
				return nil, proxyerr.Wrap(proxyerr.ErrMalformedGraph, fmt.Sprintf("child index %d out of range", ci))
			}
			n.Children[j] = nodes[ci]
		}
		if sn.HasRedirect {
			if sn.Redirect < 0 || sn.Redirect >= len(nodes) {
				return nil, proxyerr.Wrap(proxyerr.ErrMalformedGraph, fmt.Sprintf("redirect index %d out of range", sn.Redirect))
			}
			n.Redirect = nodes[sn.Redirect]
		}
	}

	g.nodes = nodes
	g.Root = nodes[rootIndex]
	return g, nil
}
