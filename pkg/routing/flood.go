package routing

import (
	"fmt"
)

// TraceHop is one node visited by a flood.
type TraceHop struct {
	ID   NodeID   `json:"id"`
	Type NodeType `json:"type"`
}

// FloodRequest probes the topology outward from Initiator.
type FloodRequest struct {
	FloodID   uint64     `json:"flood_id"`
	Initiator NodeID     `json:"initiator_id"`
	Trace     []TraceHop `json:"path_trace"`
}

func (*FloodRequest) isBody() {}

func (r *FloodRequest) String() string {
	return fmt.Sprintf("flood_request %d from %s trace=%v", r.FloodID, r.Initiator, r.Trace)
}

// Visited reports whether id already appears in the trace.
func (r *FloodRequest) Visited(id NodeID) bool {
	for _, hop := range r.Trace {
		if hop.ID == id {
			return true
		}
	}
	return false
}

// Sender returns the last node of the trace.
func (r *FloodRequest) Sender() (NodeID, bool) {
	if len(r.Trace) == 0 {
		return 0, false
	}
	return r.Trace[len(r.Trace)-1].ID, true
}

// WithHop returns a copy of r with the given hop appended to the trace.
// The trace is copied so forwarded requests never share backing arrays.
func (r *FloodRequest) WithHop(id NodeID, t NodeType) *FloodRequest {
	trace := make([]TraceHop, len(r.Trace), len(r.Trace)+1)
	copy(trace, r.Trace)
	return &FloodRequest{
		FloodID:   r.FloodID,
		Initiator: r.Initiator,
		Trace:     append(trace, TraceHop{ID: id, Type: t}),
	}
}

// Response turns the request into a response retracing the path back to
// the initiator. The last hop of the trace must be the responding node.
func (r *FloodRequest) Response(session SessionID) Packet {
	hops := make([]NodeID, 0, len(r.Trace))
	for i := len(r.Trace) - 1; i >= 0; i-- {
		hops = append(hops, r.Trace[i].ID)
	}
	trace := make([]TraceHop, len(r.Trace))
	copy(trace, r.Trace)

	return Packet{
		Header:  SourceRoutingHeader{HopIndex: 1, Hops: hops},
		Session: session,
		Body:    &FloodResponse{FloodID: r.FloodID, Trace: trace},
	}
}

// FloodResponse carries a completed trace back to the initiator.
type FloodResponse struct {
	FloodID uint64     `json:"flood_id"`
	Trace   []TraceHop `json:"path_trace"`
}

func (*FloodResponse) isBody() {}

func (r *FloodResponse) String() string {
	return fmt.Sprintf("flood_response %d trace=%v", r.FloodID, r.Trace)
}

// Initiator returns the node that started the flood.
func (r *FloodResponse) Initiator() (NodeID, bool) {
	if len(r.Trace) == 0 {
		return 0, false
	}
	return r.Trace[0].ID, true
}
