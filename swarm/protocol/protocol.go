// Package protocol defines the closed set of messages exchanged between
// peers and seeds. Every handler switches over these concrete types.
package protocol

import (
	"errors"
	"fmt"

	"seedmesh/peerid"
)

type Kind uint8

const (
	KindInvalid Kind = iota
	KindRegister
	KindGetPeers
	KindHeartbeat
	KindDeadNode
	KindConnect
	KindPing
	KindGossip
	KindResponse
)

var kindNames = map[Kind]string{
	KindRegister:  "register",
	KindGetPeers:  "get_peers",
	KindHeartbeat: "heartbeat",
	KindDeadNode:  "dead_node",
	KindConnect:   "connect",
	KindPing:      "ping",
	KindGossip:    "gossip",
	KindResponse:  "response",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

const (
	StatusOK    = "ok"
	StatusError = "error"

	MessageAck       = "ACK"
	MessageConnected = "ack"
	MessagePong      = "pong"
)

var ErrMissingField = errors.New("missing field")

// Message is implemented only by the types in this package.
type Message interface {
	Kind() Kind
	sealed()
}

// Peer -> seed: add or refresh the sender in the membership table.
type Register struct {
	Peer peerid.PeerID `cbor:"1,keyasint,omitempty"`
}

// Peer -> seed: list current members.
type GetPeers struct{}

// Peer -> seed: liveness signal. Degree is the sender's neighbor count.
type Heartbeat struct {
	Peer   peerid.PeerID `cbor:"1,keyasint,omitempty"`
	Degree int           `cbor:"2,keyasint,omitempty"`
}

// Peer -> seed: Peer failed its probes. No reply.
type DeadNode struct {
	Peer peerid.PeerID `cbor:"1,keyasint,omitempty"`
}

// Peer -> peer: Peer asks to become a neighbor.
type Connect struct {
	Peer peerid.PeerID `cbor:"1,keyasint,omitempty"`
}

// Peer -> peer: liveness probe. From is optional.
type Ping struct {
	From peerid.PeerID `cbor:"1,keyasint,omitempty"`
}

// Peer -> peer: flooded payload. No reply.
type Gossip struct {
	Payload string `cbor:"1,keyasint,omitempty"`
}

type Response struct {
	Status  string          `cbor:"1,keyasint,omitempty"`
	Message string          `cbor:"2,keyasint,omitempty"`
	Peers   []peerid.PeerID `cbor:"3,keyasint,omitempty"`
	// Degrees, when present, runs parallel to Peers.
	Degrees []int `cbor:"4,keyasint,omitempty"`
}

func (*Register) Kind() Kind  { return KindRegister }
func (*GetPeers) Kind() Kind  { return KindGetPeers }
func (*Heartbeat) Kind() Kind { return KindHeartbeat }
func (*DeadNode) Kind() Kind  { return KindDeadNode }
func (*Connect) Kind() Kind   { return KindConnect }
func (*Ping) Kind() Kind      { return KindPing }
func (*Gossip) Kind() Kind    { return KindGossip }
func (*Response) Kind() Kind  { return KindResponse }

func (*Register) sealed()  {}
func (*GetPeers) sealed()  {}
func (*Heartbeat) sealed() {}
func (*DeadNode) sealed()  {}
func (*Connect) sealed()   {}
func (*Ping) sealed()      {}
func (*Gossip) sealed()    {}
func (*Response) sealed()  {}

// New returns an empty message of the given kind, ready to be decoded into.
func New(k Kind) (Message, bool) {
	switch k {
	case KindRegister:
		return &Register{}, true
	case KindGetPeers:
		return &GetPeers{}, true
	case KindHeartbeat:
		return &Heartbeat{}, true
	case KindDeadNode:
		return &DeadNode{}, true
	case KindConnect:
		return &Connect{}, true
	case KindPing:
		return &Ping{}, true
	case KindGossip:
		return &Gossip{}, true
	case KindResponse:
		return &Response{}, true
	default:
		return nil, false
	}
}

// Validate checks the fields each kind requires.
func Validate(msg Message) error {
	switch m := msg.(type) {
	case *Register:
		return validatePeer("register", m.Peer)
	case *GetPeers:
		return nil
	case *Heartbeat:
		if m.Degree < 0 {
			return fmt.Errorf("heartbeat: negative degree %d", m.Degree)
		}
		return validatePeer("heartbeat", m.Peer)
	case *DeadNode:
		return validatePeer("dead_node", m.Peer)
	case *Connect:
		return validatePeer("connect", m.Peer)
	case *Ping:
		if m.From.IsZero() {
			return nil
		}
		return validatePeer("ping", m.From)
	case *Gossip:
		if m.Payload == "" {
			return fmt.Errorf("gossip: %w: payload", ErrMissingField)
		}
		return nil
	case *Response:
		if m.Status != StatusOK && m.Status != StatusError {
			return fmt.Errorf("response: unknown status %q", m.Status)
		}
		if len(m.Degrees) > 0 && len(m.Degrees) != len(m.Peers) {
			return fmt.Errorf("response: %d degrees for %d peers", len(m.Degrees), len(m.Peers))
		}
		return nil
	default:
		return fmt.Errorf("unsupported message %T", msg)
	}
}

func validatePeer(kind string, id peerid.PeerID) error {
	if id.IsZero() {
		return fmt.Errorf("%s: %w: ip, port", kind, ErrMissingField)
	}
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

func OK(message string) *Response {
	return &Response{Status: StatusOK, Message: message}
}

func Errorf(format string, args ...any) *Response {
	return &Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

func (r *Response) IsOK() bool {
	return r.Status == StatusOK
}
