package transport

import (
	"fmt"
	"io"

	"proxycore/commandgraph"
)

// declareCommandsCodec implements the s2c declare_commands packet: a
// VarInt-prefixed array of SerializedNode entries followed by a VarInt
// root index, per the packed-flags wire layout of commandgraph.
type declareCommandsCodec struct{}

func (declareCommandsCodec) Name() string { return "declare_commands" }

func (declareCommandsCodec) Decode(r io.Reader) (Fields, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count < 0 || count > 1<<16 {
		return nil, fmt.Errorf("transport: declare_commands node count out of range: %d", count)
	}

	nodes := make([]commandgraph.SerializedNode, count)
	for i := range nodes {
		n, err := decodeSerializedNode(r)
		if err != nil {
			return nil, fmt.Errorf("transport: decode declare_commands node %d: %w", i, err)
		}
		nodes[i] = n
	}

	rootIndex, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	return Fields{"nodes": nodes, "root_index": int(rootIndex)}, nil
}

func (declareCommandsCodec) Encode(f Fields, w io.Writer) error {
	nodes := f["nodes"].([]commandgraph.SerializedNode)
	if err := WriteVarInt(w, int32(len(nodes))); err != nil {
		return err
	}
	for i, n := range nodes {
		if err := encodeSerializedNode(w, n); err != nil {
			return fmt.Errorf("transport: encode declare_commands node %d: %w", i, err)
		}
	}
	rootIndex, _ := f["root_index"].(int)
	return WriteVarInt(w, int32(rootIndex))
}

func decodeSerializedNode(r io.Reader) (commandgraph.SerializedNode, error) {
	var n commandgraph.SerializedNode

	flags, err := readByte(r)
	if err != nil {
		return n, err
	}
	nodeType, hasCommand, hasRedirect, hasCustomSuggestions := commandgraph.DecodeFlags(flags)
	n.NodeType = nodeType
	n.HasCommand = hasCommand
	n.HasRedirect = hasRedirect
	n.HasCustomSuggestions = hasCustomSuggestions

	childCount, err := ReadVarInt(r)
	if err != nil {
		return n, err
	}
	n.Children = make([]int, childCount)
	for i := range n.Children {
		idx, err := ReadVarInt(r)
		if err != nil {
			return n, err
		}
		n.Children[i] = int(idx)
	}

	if hasRedirect {
		idx, err := ReadVarInt(r)
		if err != nil {
			return n, err
		}
		n.Redirect = int(idx)
	}

	switch nodeType {
	case commandgraph.Literal:
		n.Name, err = ReadString(r, 64)
		if err != nil {
			return n, err
		}
	case commandgraph.Argument:
		n.Name, err = ReadString(r, 64)
		if err != nil {
			return n, err
		}
		n.Parser, err = ReadString(r, 64)
		if err != nil {
			return n, err
		}
		n.ParserProperties, err = ReadBytes(r, 4096)
		if err != nil {
			return n, err
		}
		if hasCustomSuggestions {
			wireName, err := ReadString(r, 64)
			if err != nil {
				return n, err
			}
			n.Suggestions = suggestionFromWireName(wireName)
		}
	}

	return n, nil
}

func encodeSerializedNode(w io.Writer, n commandgraph.SerializedNode) error {
	if err := writeByte(w, n.Flags()); err != nil {
		return err
	}

	if err := WriteVarInt(w, int32(len(n.Children))); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := WriteVarInt(w, int32(c)); err != nil {
			return err
		}
	}

	if n.HasRedirect {
		if err := WriteVarInt(w, int32(n.Redirect)); err != nil {
			return err
		}
	}

	switch n.NodeType {
	case commandgraph.Literal:
		return WriteString(w, n.Name, 64)
	case commandgraph.Argument:
		if err := WriteString(w, n.Name, 64); err != nil {
			return err
		}
		if err := WriteString(w, n.Parser, 64); err != nil {
			return err
		}
		if err := WriteBytes(w, n.ParserProperties); err != nil {
			return err
		}
		if n.HasCustomSuggestions {
			name, _ := suggestionWireName(n.Suggestions)
			return WriteString(w, name, 64)
		}
	}
	return nil
}

func suggestionFromWireName(name string) commandgraph.SuggestionProvider {
	switch name {
	case "ask_server":
		return commandgraph.AskServer
	case "minecraft:recipes":
		return commandgraph.Recipes
	case "minecraft:available_sounds":
		return commandgraph.Sounds
	case "minecraft:summonable_entities":
		return commandgraph.Entities
	default:
		return commandgraph.NoSuggestions
	}
}

func suggestionWireName(s commandgraph.SuggestionProvider) (string, bool) {
	switch s {
	case commandgraph.AskServer:
		return "ask_server", true
	case commandgraph.Recipes:
		return "minecraft:recipes", true
	case commandgraph.Sounds:
		return "minecraft:available_sounds", true
	case commandgraph.Entities:
		return "minecraft:summonable_entities", true
	default:
		return "", false
	}
}

// EncodeGraph serializes g directly to a Fields value ready for a
// declare_commands Packet, a convenience wrapper around
// commandgraph.CommandGraph.Serialize used by the core module.
func EncodeGraph(g *commandgraph.CommandGraph) (Fields, error) {
	nodes, rootIndex, err := g.Serialize()
	if err != nil {
		return nil, err
	}
	return Fields{"nodes": nodes, "root_index": rootIndex}, nil
}

// DecodeGraph rebuilds a commandgraph.CommandGraph from declare_commands
// Fields, the inverse of EncodeGraph.
func DecodeGraph(f Fields) (*commandgraph.CommandGraph, error) {
	nodes, ok := f["nodes"].([]commandgraph.SerializedNode)
	if !ok {
		return nil, fmt.Errorf("transport: declare_commands fields missing nodes")
	}
	rootIndex, _ := f["root_index"].(int)
	return commandgraph.Deserialize(nodes, rootIndex)
}
