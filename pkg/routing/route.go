// Package routing defines the packets, routing headers and links shared by
// every node of the mesh.
package routing

import (
	"fmt"
	"strings"
)

// SourceRoutingHeader carries the full path of a packet. Hops[0] is the
// sender; HopIndex names the hop expected to hold the packet right now.
type SourceRoutingHeader struct {
	HopIndex int      `json:"hop_index"`
	Hops     []NodeID `json:"hops"`
}

// NewHeader returns a header for a packet leaving hops[0].
func NewHeader(hops []NodeID) SourceRoutingHeader {
	cp := make([]NodeID, len(hops))
	copy(cp, hops)
	return SourceRoutingHeader{HopIndex: 1, Hops: cp}
}

// Valid reports whether the cursor points inside the hop list.
func (h SourceRoutingHeader) Valid() bool {
	return h.HopIndex >= 0 && h.HopIndex < len(h.Hops)
}

// Current returns the hop the packet should be at.
func (h SourceRoutingHeader) Current() (NodeID, bool) {
	if !h.Valid() {
		return 0, false
	}
	return h.Hops[h.HopIndex], true
}

// Source returns the first hop of the header.
func (h SourceRoutingHeader) Source() (NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[0], true
}

// Destination returns the last hop of the header.
func (h SourceRoutingHeader) Destination() (NodeID, bool) {
	if len(h.Hops) == 0 {
		return 0, false
	}
	return h.Hops[len(h.Hops)-1], true
}

// IsLast reports whether the cursor is on the final hop.
func (h SourceRoutingHeader) IsLast() bool {
	return h.HopIndex == len(h.Hops)-1
}

// Advance returns a copy of h with the cursor moved to the next hop.
func (h SourceRoutingHeader) Advance() SourceRoutingHeader {
	h.HopIndex++
	return h
}

// Reversed returns a header leading from the current hop back to the
// sender, e.g. to route an ack or nack.
func (h SourceRoutingHeader) Reversed() SourceRoutingHeader {
	end := h.HopIndex
	if end >= len(h.Hops) {
		end = len(h.Hops) - 1
	}
	if end < 0 {
		return SourceRoutingHeader{}
	}

	hops := make([]NodeID, 0, end+1)
	for i := end; i >= 0; i-- {
		hops = append(hops, h.Hops[i])
	}
	return SourceRoutingHeader{HopIndex: 1, Hops: hops}
}

func (h SourceRoutingHeader) String() string {
	parts := make([]string, len(h.Hops))
	for i, hop := range h.Hops {
		if i == h.HopIndex {
			parts[i] = fmt.Sprintf("[%s]", hop)
			continue
		}
		parts[i] = hop.String()
	}
	return strings.Join(parts, " -> ")
}
