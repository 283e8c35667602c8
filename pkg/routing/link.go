package routing

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultLinkBuffer is the default capacity of a node's inbound queue.
const DefaultLinkBuffer = 256

// ErrLinkFull is returned when the neighbour's inbound queue is saturated.
var ErrLinkFull = errors.New("link queue is full")

// Link is a directed channel from the owning node to one neighbour.
type Link struct {
	ID       uuid.UUID
	Neighbor NodeID

	ch chan<- Packet
}

// NewLink wraps the inbound queue of a neighbour.
func NewLink(neighbor NodeID, ch chan<- Packet) *Link {
	return &Link{
		ID:       uuid.New(),
		Neighbor: neighbor,
		ch:       ch,
	}
}

// Send enqueues pkt without blocking.
func (l *Link) Send(pkt Packet) error {
	select {
	case l.ch <- pkt:
		return nil
	default:
		return errors.Wrapf(ErrLinkFull, "link %s to node %s", l.ID, l.Neighbor)
	}
}
