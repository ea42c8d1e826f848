// Package transport implements the packet-oriented wire protocol: varint
// framing carried over from the teacher's protocol/minecraft package,
// generalized from a fixed Packet-interface-per-type scheme into a
// (ProtocolState, Direction, id) -> Codec registry so the hook pipeline can
// address packets by name instead of by a hardcoded enum.
package transport

import (
	"bytes"
	"fmt"
	"io"

	"proxycore/common/bufpool"
	"proxycore/hooks"
)

// ProtocolState mirrors the teacher's NetworkPhase enumeration.
type ProtocolState int

const (
	Handshake ProtocolState = iota
	Status
	Login
	Play
)

func (s ProtocolState) String() string {
	switch s {
	case Handshake:
		return "handshake"
	case Status:
		return "status"
	case Login:
		return "login"
	case Play:
		return "play"
	default:
		return "unknown"
	}
}

// Fields is the structured, decoded payload of a Packet: a tree of
// primitives, nested Fields, slices, strings, and byte strings, matching
// the hook pipeline event data contract.
type Fields map[string]any

// Packet is the value threaded through the hook pipeline for every wire
// message. Raw holds the payload bytes that followed the packet id on the
// wire. WritePacket re-encodes from Fields whenever Fields is non-nil, so
// edits to Fields are what get forwarded; Raw is replayed only for packets
// whose Fields are nil (no codec registered for their id).
type Packet struct {
	Name   string
	ID     int32
	State  ProtocolState
	Dir    hooks.Direction
	Fields Fields
	Raw    []byte
}

// Codec knows how to decode and encode the wire body of one named packet
// type (everything after the length and packet-id VarInts).
type Codec interface {
	Name() string
	Decode(r io.Reader) (Fields, error)
	Encode(f Fields, w io.Writer) error
}

type registryKey struct {
	state ProtocolState
	dir   hooks.Direction
	id    int32
}

// Registry maps (state, direction, id) to the Codec responsible for that
// packet.
type Registry struct {
	byID map[registryKey]Codec
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[registryKey]Codec)}
}

// Register associates codec with (state, dir, id). Registering the same
// key twice overwrites the previous codec, which lets a module replace a
// stock codec with an extended one.
func (r *Registry) Register(state ProtocolState, dir hooks.Direction, id int32, codec Codec) {
	r.byID[registryKey{state, dir, id}] = codec
}

// CodecFor looks up the codec registered for (state, dir, id).
func (r *Registry) CodecFor(state ProtocolState, dir hooks.Direction, id int32) (Codec, bool) {
	c, ok := r.byID[registryKey{state, dir, id}]
	return c, ok
}

// IDFor returns the packet id a given codec was registered under for
// (state, dir), used when injecting a freshly-built Packet that only names
// its type.
func (r *Registry) IDFor(state ProtocolState, dir hooks.Direction, name string) (int32, bool) {
	for key, c := range r.byID {
		if key.state == state && key.dir == dir && c.Name() == name {
			return key.id, true
		}
	}
	return 0, false
}

// ReadPacket reads one length-prefixed frame from r, decodes its id, and
// looks up + runs the registered codec for (state, dir). If no codec is
// registered, the Packet carries nil Fields and the caller may still
// forward it by Raw bytes alone.
func (r *Registry) ReadPacket(rd io.Reader, state ProtocolState, dir hooks.Direction) (*Packet, error) {
	length, err := ReadVarInt(rd)
	if err != nil {
		return nil, fmt.Errorf("transport: read packet length: %w", err)
	}
	if length <= 0 || length > MaxPacketLength {
		return nil, fmt.Errorf("transport: invalid packet length: %d", length)
	}

	body := bufpool.Get(int(length))
	if _, err := io.ReadFull(rd, body); err != nil {
		bufpool.Put(body)
		return nil, fmt.Errorf("transport: read packet body: %w", err)
	}

	buf := bytes.NewReader(body)
	id, err := ReadVarInt(buf)
	if err != nil {
		bufpool.Put(body)
		return nil, fmt.Errorf("transport: read packet id: %w", err)
	}

	// Raw must carry only the payload that follows the id, since WritePacket's
	// passthrough branch re-encodes pkt.ID itself; keeping the id bytes in Raw
	// would duplicate them on the wire. The payload is copied into its own
	// appropriately-sized pool buffer, rather than reslicing body in place, so
	// the buffer handed back to bufpool.Put later matches the size bufpool.Get
	// handed out and the shared pool's bucketing stays exact.
	idLen := int(length) - buf.Len()
	payload := bufpool.Get(int(length) - idLen)
	copy(payload, body[idLen:length])
	bufpool.Put(body)

	pkt := &Packet{ID: id, State: state, Dir: dir, Raw: payload}

	codec, ok := r.CodecFor(state, dir, id)
	if !ok {
		pkt.Name = fmt.Sprintf("unknown:0x%02x", id)
		return pkt, nil
	}
	pkt.Name = codec.Name()

	fields, err := codec.Decode(bytes.NewReader(payload))
	if err != nil {
		bufpool.Put(payload)
		return nil, fmt.Errorf("transport: decode %s: %w", pkt.Name, err)
	}
	pkt.Fields = fields
	return pkt, nil
}

// ReleaseFrame returns a packet's raw frame buffer to the shared pool. The
// pump calls this once a packet has been forwarded or dropped and its Raw
// bytes are no longer needed; decoded Fields never alias the frame buffer,
// so this is safe even for packets whose Fields were read out.
func ReleaseFrame(pkt *Packet) {
	if pkt == nil || pkt.Raw == nil {
		return
	}
	bufpool.Put(pkt.Raw)
	pkt.Raw = nil
}

// WritePacket encodes pkt and writes its length-prefixed frame to w. If
// pkt.Fields is nil and pkt.Raw is set, the original bytes are replayed
// unchanged (the zero-re-encode-cost path). Otherwise the registered codec
// for (pkt.State, pkt.Dir) re-encodes from Fields.
func (r *Registry) WritePacket(w io.Writer, pkt *Packet) error {
	if pkt.Fields == nil && pkt.Raw != nil {
		return writeFrame(w, pkt.ID, pkt.Raw)
	}

	codec, ok := r.CodecFor(pkt.State, pkt.Dir, pkt.ID)
	if !ok {
		return fmt.Errorf("transport: no codec registered to encode %s (id 0x%02x)", pkt.Name, pkt.ID)
	}

	var body bytes.Buffer
	if err := codec.Encode(pkt.Fields, &body); err != nil {
		return fmt.Errorf("transport: encode %s: %w", pkt.Name, err)
	}

	return writeFrame(w, pkt.ID, body.Bytes())
}

func writeFrame(w io.Writer, id int32, body []byte) error {
	var idBuf bytes.Buffer
	if err := WriteVarInt(&idBuf, id); err != nil {
		return err
	}

	total := idBuf.Len() + len(body)
	if total > MaxPacketLength {
		return fmt.Errorf("transport: encoded packet too large: %d bytes", total)
	}

	if err := WriteVarInt(w, int32(total)); err != nil {
		return fmt.Errorf("transport: write packet length: %w", err)
	}
	if _, err := w.Write(idBuf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
