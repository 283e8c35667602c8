package messages

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skycoin/skymesh/pkg/routing"
)

// ErrControllerDisconnected is returned when the controller stopped
// listening for events. It is fatal for the node.
var ErrControllerDisconnected = errors.New("controller disconnected")

// Event is reported by a node to the controller. The set is closed.
type Event interface {
	Kind() string
	isEvent()
}

// PacketSent is raised whenever a node pushes a packet onto a link.
type PacketSent struct {
	Link   uuid.UUID      `json:"link_id"`
	To     routing.NodeID `json:"to"`
	Packet routing.Packet `json:"packet"`
}

// PacketDropped is raised by a relay discarding a fragment.
type PacketDropped struct {
	Packet routing.Packet `json:"packet"`
}

// MessageReceived carries a fully reassembled message.
type MessageReceived struct {
	Message routing.Message `json:"message"`
}

// MessageDelivered is raised once every fragment of a session is acked.
type MessageDelivered struct {
	Session     routing.SessionID `json:"session_id"`
	Destination routing.NodeID    `json:"destination"`
}

// MessageFailed is raised when a session is abandoned.
type MessageFailed struct {
	Session     routing.SessionID `json:"session_id"`
	Destination routing.NodeID    `json:"destination"`
	Reason      string            `json:"reason"`
}

// DiscoveryCompleted is raised on the first response of a flood.
type DiscoveryCompleted struct {
	FloodID uint64 `json:"flood_id"`
	Nodes   int    `json:"nodes"`
}

// NodeRemoved is raised when a node is purged from the topology view.
type NodeRemoved struct {
	ID routing.NodeID `json:"id"`
}

// NodeStopped is raised when a node's event loop returns.
type NodeStopped struct {
	Reason string `json:"reason"`
}

func (PacketSent) isEvent()         {}
func (PacketDropped) isEvent()      {}
func (MessageReceived) isEvent()    {}
func (MessageDelivered) isEvent()   {}
func (MessageFailed) isEvent()      {}
func (DiscoveryCompleted) isEvent() {}
func (NodeRemoved) isEvent()        {}
func (NodeStopped) isEvent()        {}

func (PacketSent) Kind() string         { return "packet_sent" }
func (PacketDropped) Kind() string      { return "packet_dropped" }
func (MessageReceived) Kind() string    { return "message_received" }
func (MessageDelivered) Kind() string   { return "message_delivered" }
func (MessageFailed) Kind() string      { return "message_failed" }
func (DiscoveryCompleted) Kind() string { return "discovery_completed" }
func (NodeRemoved) Kind() string        { return "node_removed" }
func (NodeStopped) Kind() string        { return "node_stopped" }

// Envelope stamps an event with its origin.
type Envelope struct {
	Node  routing.NodeID
	Time  time.Time
	Event Event
}

type envelopeJSON struct {
	Node  routing.NodeID  `json:"node"`
	Time  time.Time       `json:"time"`
	Kind  string          `json:"kind"`
	Event json.RawMessage `json:"event"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Event)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s event", e.Event.Kind())
	}
	return json.Marshal(envelopeJSON{Node: e.Node, Time: e.Time, Kind: e.Event.Kind(), Event: raw})
}

// ControllerLink is a node's upward channel to the controller.
type ControllerLink struct {
	Events chan<- Envelope
	Done   <-chan struct{}
}

// Emit reports ev without blocking. Events are dropped when the controller
// lags; ErrControllerDisconnected is returned once Done is closed.
func (c ControllerLink) Emit(node routing.NodeID, ev Event) error {
	if c.Done != nil {
		select {
		case <-c.Done:
			return ErrControllerDisconnected
		default:
		}
	}
	if c.Events == nil {
		return nil
	}

	select {
	case c.Events <- Envelope{Node: node, Time: time.Now(), Event: ev}:
	default:
	}
	return nil
}
