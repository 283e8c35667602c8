// Package topology holds the view of the mesh a node has discovered by
// flooding, and resolves source routes over it.
package topology

import (
	"sort"

	"github.com/skycoin/skymesh/pkg/routing"
)

// Graph is an undirected graph of discovered nodes. Adjacency lists keep
// insertion order so that path resolution is stable.
// NOTE: Graph is NOT thread-safe, the owner must serialise access.
type Graph struct {
	self  routing.NodeID
	types map[routing.NodeID]routing.NodeType
	adj   map[routing.NodeID][]routing.NodeID
}

// New returns a Graph containing only the local node.
func New(self routing.NodeID, selfType routing.NodeType) *Graph {
	g := &Graph{
		self:  self,
		types: make(map[routing.NodeID]routing.NodeType),
		adj:   make(map[routing.NodeID][]routing.NodeID),
	}
	g.types[self] = selfType
	return g
}

// Self returns the local node.
func (g *Graph) Self() routing.NodeID {
	return g.self
}

// AddTrace folds a flood trace into the graph: every hop is recorded with
// its type and every consecutive pair becomes an edge.
func (g *Graph) AddTrace(trace []routing.TraceHop) {
	for i, hop := range trace {
		g.types[hop.ID] = hop.Type
		if i > 0 {
			g.addEdge(trace[i-1].ID, hop.ID)
		}
	}
}

func (g *Graph) addEdge(a, b routing.NodeID) {
	if a == b {
		return
	}
	if !contains(g.adj[a], b) {
		g.adj[a] = append(g.adj[a], b)
	}
	if !contains(g.adj[b], a) {
		g.adj[b] = append(g.adj[b], a)
	}
}

// RemoveNode purges id and every edge referencing it. The local node is
// never removed. Returns false if id was unknown.
func (g *Graph) RemoveNode(id routing.NodeID) bool {
	if id == g.self {
		return false
	}
	if _, ok := g.types[id]; !ok {
		return false
	}

	for _, n := range g.adj[id] {
		g.adj[n] = without(g.adj[n], id)
		if len(g.adj[n]) == 0 {
			delete(g.adj, n)
		}
	}
	delete(g.adj, id)
	delete(g.types, id)
	return true
}

// RemoveEdge drops the edge between a and b. Returns false if there was none.
func (g *Graph) RemoveEdge(a, b routing.NodeID) bool {
	if !contains(g.adj[a], b) {
		return false
	}
	g.adj[a] = without(g.adj[a], b)
	g.adj[b] = without(g.adj[b], a)
	for _, n := range []routing.NodeID{a, b} {
		if len(g.adj[n]) == 0 {
			delete(g.adj, n)
		}
	}
	return true
}

// HasEdge reports whether a and b are adjacent.
func (g *Graph) HasEdge(a, b routing.NodeID) bool {
	return contains(g.adj[a], b)
}

// Type returns the recorded type of id.
func (g *Graph) Type(id routing.NodeID) (routing.NodeType, bool) {
	t, ok := g.types[id]
	return t, ok
}

// Neighbors returns the nodes adjacent to id in insertion order.
func (g *Graph) Neighbors(id routing.NodeID) []routing.NodeID {
	out := make([]routing.NodeID, len(g.adj[id]))
	copy(out, g.adj[id])
	return out
}

// NodesOfType returns every known node of type t, sorted.
func (g *Graph) NodesOfType(t routing.NodeType) []routing.NodeID {
	var out []routing.NodeID
	for id, nt := range g.types {
		if nt == t && id != g.self {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ShortestPath returns the fewest-hop path from the local node to dst,
// starting with the local node and ending with dst. Intermediate hops are
// always relays since endpoints do not forward. Returns nil if dst is
// unknown or unreachable.
func (g *Graph) ShortestPath(dst routing.NodeID) []routing.NodeID {
	if dst == g.self {
		return nil
	}
	if _, ok := g.types[dst]; !ok {
		return nil
	}

	prev := map[routing.NodeID]routing.NodeID{}
	visited := map[routing.NodeID]bool{g.self: true}
	queue := []routing.NodeID{g.self}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, next := range g.adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur

			if next == dst {
				return g.walkBack(prev, dst)
			}
			if t, ok := g.types[next]; ok && t == routing.Relay {
				queue = append(queue, next)
			}
		}
	}
	return nil
}

func (g *Graph) walkBack(prev map[routing.NodeID]routing.NodeID, dst routing.NodeID) []routing.NodeID {
	path := []routing.NodeID{dst}
	for cur := dst; cur != g.self; {
		cur = prev[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func contains(ids []routing.NodeID, id routing.NodeID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []routing.NodeID, id routing.NodeID) []routing.NodeID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
