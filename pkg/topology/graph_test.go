package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skymesh/pkg/routing"
)

func trace(hops ...routing.TraceHop) []routing.TraceHop { return hops }

func relay(id routing.NodeID) routing.TraceHop  { return routing.TraceHop{ID: id, Type: routing.Relay} }
func client(id routing.NodeID) routing.TraceHop { return routing.TraceHop{ID: id, Type: routing.Client} }
func server(id routing.NodeID) routing.TraceHop { return routing.TraceHop{ID: id, Type: routing.Server} }

// diamond builds:
//
//	1 - 11 - 12 - 2
//	     \       /
//	      13 - 14
//	     /
//	    3
func diamond() *Graph {
	g := New(1, routing.Client)
	g.AddTrace(trace(client(1), relay(11), relay(12), server(2)))
	g.AddTrace(trace(client(1), relay(11), relay(13), relay(14), server(2)))
	g.AddTrace(trace(client(1), relay(11), relay(13), client(3)))
	return g
}

func TestAddTrace(t *testing.T) {
	g := New(1, routing.Client)
	g.AddTrace(trace(client(1), relay(11), server(2)))

	assert.True(t, g.HasEdge(1, 11))
	assert.True(t, g.HasEdge(11, 1))
	assert.True(t, g.HasEdge(11, 2))
	assert.False(t, g.HasEdge(1, 2))

	typ, ok := g.Type(11)
	require.True(t, ok)
	assert.Equal(t, routing.Relay, typ)
	typ, ok = g.Type(2)
	require.True(t, ok)
	assert.Equal(t, routing.Server, typ)

	// Folding the same trace twice does not duplicate edges.
	g.AddTrace(trace(client(1), relay(11), server(2)))
	assert.Equal(t, []routing.NodeID{1, 2}, g.Neighbors(11))
}

func TestShortestPath(t *testing.T) {
	g := diamond()

	assert.Equal(t, []routing.NodeID{1, 11, 12, 2}, g.ShortestPath(2))
	assert.Equal(t, []routing.NodeID{1, 11, 13, 3}, g.ShortestPath(3))
	assert.Equal(t, []routing.NodeID{1, 11, 13, 14}, g.ShortestPath(14))
	assert.Nil(t, g.ShortestPath(1), "no path to self")
	assert.Nil(t, g.ShortestPath(42), "unknown node")
}

func TestShortestPathSkipsEndpoints(t *testing.T) {
	g := New(1, routing.Client)
	// 3 is a client sitting between 11 and 12; it must not forward.
	g.AddTrace(trace(client(1), relay(11), client(3)))
	g.AddTrace(trace(relay(12), client(3)))
	g.AddTrace(trace(relay(12), server(2)))

	assert.Nil(t, g.ShortestPath(2))
	assert.Equal(t, []routing.NodeID{1, 11, 3}, g.ShortestPath(3))
}

func TestRemoveNode(t *testing.T) {
	g := diamond()

	require.True(t, g.RemoveNode(12))
	assert.False(t, g.RemoveNode(12))
	assert.False(t, g.RemoveNode(1), "self is never removed")

	_, ok := g.Type(12)
	assert.False(t, ok)
	assert.False(t, g.HasEdge(11, 12))
	assert.False(t, g.HasEdge(2, 12))

	path := g.ShortestPath(2)
	assert.Equal(t, []routing.NodeID{1, 11, 13, 14, 2}, path)
	assert.NotContains(t, path, routing.NodeID(12))

	require.True(t, g.RemoveNode(11))
	assert.Nil(t, g.ShortestPath(2), "disconnected")
	assert.Empty(t, g.Neighbors(1))
}

func TestRemoveEdge(t *testing.T) {
	g := diamond()

	require.True(t, g.RemoveEdge(12, 2))
	assert.False(t, g.RemoveEdge(12, 2))
	assert.False(t, g.HasEdge(2, 12))

	_, ok := g.Type(12)
	assert.True(t, ok, "nodes survive edge removal")
	assert.Equal(t, []routing.NodeID{1, 11, 13, 14, 2}, g.ShortestPath(2))
}

func TestSnapshot(t *testing.T) {
	g := diamond()
	s := g.Snapshot()

	assert.Equal(t, routing.NodeID(1), s.Self)
	require.Len(t, s.Nodes, 7)
	assert.Equal(t, routing.NodeID(1), s.Nodes[0].ID)
	assert.True(t, s.HasEdge(11, 13))
	assert.False(t, s.HasEdge(1, 13))

	g.RemoveNode(13)
	assert.True(t, s.HasEdge(11, 13), "snapshot is a copy")

	assert.Equal(t, []routing.NodeID{11, 12, 14}, g.NodesOfType(routing.Relay))
	assert.Equal(t, []routing.NodeID{2}, g.NodesOfType(routing.Server))
}
