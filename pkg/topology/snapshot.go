package topology

import (
	"sort"

	"github.com/skycoin/skymesh/pkg/routing"
)

// NodeInfo describes one node of a Snapshot.
type NodeInfo struct {
	ID        routing.NodeID   `json:"id"`
	Type      routing.NodeType `json:"type"`
	Neighbors []routing.NodeID `json:"neighbors"`
}

// Snapshot is an immutable copy of a Graph, safe to hand out of the lock.
type Snapshot struct {
	Self  routing.NodeID `json:"self"`
	Nodes []NodeInfo     `json:"nodes"`
}

// Snapshot copies the graph, sorted by node id.
func (g *Graph) Snapshot() Snapshot {
	s := Snapshot{Self: g.self, Nodes: make([]NodeInfo, 0, len(g.types))}
	for id, t := range g.types {
		s.Nodes = append(s.Nodes, NodeInfo{ID: id, Type: t, Neighbors: g.Neighbors(id)})
	}
	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })
	return s
}

// Node returns the entry for id.
func (s Snapshot) Node(id routing.NodeID) (NodeInfo, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeInfo{}, false
}

// HasEdge reports whether the snapshot contains the edge a-b.
func (s Snapshot) HasEdge(a, b routing.NodeID) bool {
	n, ok := s.Node(a)
	if !ok {
		return false
	}
	for _, v := range n.Neighbors {
		if v == b {
			return true
		}
	}
	return false
}
