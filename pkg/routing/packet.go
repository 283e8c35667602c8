package routing

import (
	"fmt"
)

// FragmentSize is the capacity of a single fragment in bytes.
const FragmentSize = 128

// SessionID identifies one logical message exchange.
type SessionID uint64

// Body is the kind-specific content of a Packet. The set of bodies is
// closed: Fragment, Ack, Nack, FloodRequest and FloodResponse.
type Body interface {
	fmt.Stringer
	isBody()
}

// Packet is the unit exchanged over links.
type Packet struct {
	Header  SourceRoutingHeader `json:"routing_header"`
	Session SessionID           `json:"session_id"`
	Body    Body                `json:"body"`
}

// Kind returns a short name of the packet body.
func (p Packet) Kind() string {
	switch p.Body.(type) {
	case *Fragment:
		return "fragment"
	case *Ack:
		return "ack"
	case *Nack:
		return "nack"
	case *FloodRequest:
		return "flood_request"
	case *FloodResponse:
		return "flood_response"
	}
	return "unknown"
}

func (p Packet) String() string {
	return fmt.Sprintf("%s session=%d header=(%s) %s", p.Kind(), p.Session, p.Header, p.Body)
}

// Fragment is one fixed-capacity chunk of a message.
type Fragment struct {
	Index uint64 `json:"fragment_index"`
	Total uint64 `json:"total_n_fragments"`
	Data  []byte `json:"data"`
}

func (*Fragment) isBody() {}

func (f *Fragment) String() string {
	return fmt.Sprintf("fragment %d/%d (%d bytes)", f.Index+1, f.Total, len(f.Data))
}

// Ack confirms the delivery of one fragment.
type Ack struct {
	FragmentIndex uint64 `json:"fragment_index"`
}

func (*Ack) isBody() {}

func (a *Ack) String() string {
	return fmt.Sprintf("ack %d", a.FragmentIndex)
}

// NackType is the cause carried by a Nack.
type NackType byte

const (
	// ErrorInRouting means the hop named by Nack.Node could not be reached.
	ErrorInRouting = NackType(iota)
	// DestinationIsDrone means the header terminated at a relay.
	DestinationIsDrone
	// Dropped means a relay discarded the fragment.
	Dropped
	// UnexpectedRecipient means Nack.Node received a packet not meant for it.
	UnexpectedRecipient
)

func (t NackType) String() string {
	switch t {
	case ErrorInRouting:
		return "error_in_routing"
	case DestinationIsDrone:
		return "destination_is_drone"
	case Dropped:
		return "dropped"
	case UnexpectedRecipient:
		return "unexpected_recipient"
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Nack reports that a fragment failed to progress.
type Nack struct {
	FragmentIndex uint64   `json:"fragment_index"`
	Type          NackType `json:"nack_type"`
	Node          NodeID   `json:"node_id"` // set for ErrorInRouting and UnexpectedRecipient
}

func (*Nack) isBody() {}

func (n *Nack) String() string {
	switch n.Type {
	case ErrorInRouting, UnexpectedRecipient:
		return fmt.Sprintf("nack %d %s(%s)", n.FragmentIndex, n.Type, n.Node)
	}
	return fmt.Sprintf("nack %d %s", n.FragmentIndex, n.Type)
}

// NewNack builds the nack answering a fragment packet at hop `at`, routed
// back to the fragment's sender.
func NewNack(pkt Packet, at int, nack Nack) Packet {
	hdr := pkt.Header
	hdr.HopIndex = at
	return Packet{
		Header:  hdr.Reversed(),
		Session: pkt.Session,
		Body:    &nack,
	}
}

// Message is a fully reassembled payload.
type Message struct {
	From    NodeID    `json:"from"`
	Session SessionID `json:"session_id"`
	Payload []byte    `json:"payload"`
}
