/*
Package conn defines the per-connection state machine: Connecting, Finding,
and Connected. A State is pure data, created on accept and destroyed on
disconnect; it is only ever mutated by the event loop's single thread.
*/
package conn

import "github.com/rs/xid"

// Tag names the three mutually exclusive states a connection passes
// through, in order, at most once each.
type Tag int

const (
	TagConnecting Tag = iota
	TagFinding
	TagConnected
)

func (t Tag) String() string {
	switch t {
	case TagConnecting:
		return "connecting"
	case TagFinding:
		return "finding"
	case TagConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connecting carries no payload; it is the initial state on accept.
type Connecting struct{}

// Finding is a client that has announced itself and is waiting for a
// matching peer.
type Finding struct {
	PeerID     int      // the public id this client is searching for
	Name       string
	ID         uint32   // this client's own trainer id (32-bit)
	TrainerType string
	Party      []string // raw, pre-split fields — stored opaquely, byte-perfect for relay
	WinText    int
	LoseText   int
}

// PublicID returns the low 16 bits of a 32-bit trainer id, the key used for
// pairing.
func PublicID(id uint32) int {
	return int(id & 0xFFFF)
}

// Connected references the paired peer by its stable connection-map key,
// never by an owning pointer — this is what keeps two Connected states from
// forming a reference cycle the garbage collector (or a careless author)
// could trip on.
type Connected struct {
	Peer xid.ID
}

// State is one accepted socket's full connection record: its address, its
// buffers, and its current tagged state.
type State struct {
	Address string
	Tag     Tag
	Connecting
	Finding
	Connected

	SendBuffer []byte
	RecvBuffer []byte
}

// NewConnecting builds a freshly accepted connection's state. Invariant:
// both buffers start empty.
func NewConnecting(address string) *State {
	return &State{Address: address, Tag: TagConnecting}
}

// String mirrors the teacher's/original's "addr/state-name" log label.
func (s *State) String() string {
	return s.Address + "/" + s.Tag.String()
}

// ToFinding transitions Connecting -> Finding. Callers must only call this
// once, from the Connecting handler, per the one-way state machine.
func (s *State) ToFinding(f Finding) {
	s.Finding = f
	s.Tag = TagFinding
}

// ToConnected transitions Finding -> Connected.
func (s *State) ToConnected(peer xid.ID) {
	s.Connected = Connected{Peer: peer}
	s.Tag = TagConnected
}
