package routing

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceRoutingHeader(t *testing.T) {
	hdr := NewHeader([]NodeID{1, 11, 12, 2})

	cur, ok := hdr.Current()
	require.True(t, ok)
	assert.Equal(t, NodeID(11), cur)
	assert.False(t, hdr.IsLast())

	hdr = hdr.Advance().Advance()
	cur, ok = hdr.Current()
	require.True(t, ok)
	assert.Equal(t, NodeID(2), cur)
	assert.True(t, hdr.IsLast())

	dst, ok := hdr.Destination()
	require.True(t, ok)
	assert.Equal(t, NodeID(2), dst)

	_, ok = hdr.Advance().Current()
	assert.False(t, ok)

	_, ok = SourceRoutingHeader{}.Current()
	assert.False(t, ok)
}

func TestSourceRoutingHeaderReversed(t *testing.T) {
	hdr := SourceRoutingHeader{HopIndex: 2, Hops: []NodeID{1, 11, 12, 2}}

	rev := hdr.Reversed()
	assert.Equal(t, []NodeID{12, 11, 1}, rev.Hops)
	assert.Equal(t, 1, rev.HopIndex)

	// Reversing must not alias the original hop list.
	rev.Hops[0] = 99
	assert.Equal(t, NodeID(12), hdr.Hops[2])

	full := SourceRoutingHeader{HopIndex: 3, Hops: []NodeID{1, 11, 12, 2}}.Reversed()
	assert.Equal(t, []NodeID{2, 12, 11, 1}, full.Hops)
}

func TestNewNack(t *testing.T) {
	pkt := Packet{
		Header:  SourceRoutingHeader{HopIndex: 2, Hops: []NodeID{1, 11, 12, 2}},
		Session: 7,
		Body:    &Fragment{Index: 3, Total: 4},
	}

	nack := NewNack(pkt, 2, Nack{FragmentIndex: 3, Type: ErrorInRouting, Node: 2})
	assert.Equal(t, SessionID(7), nack.Session)
	assert.Equal(t, []NodeID{12, 11, 1}, nack.Header.Hops)
	assert.Equal(t, "nack", nack.Kind())

	body, ok := nack.Body.(*Nack)
	require.True(t, ok)
	assert.Equal(t, uint64(3), body.FragmentIndex)
	assert.Equal(t, ErrorInRouting, body.Type)
	assert.Equal(t, NodeID(2), body.Node)
}

func TestFloodRequestWithHop(t *testing.T) {
	req := &FloodRequest{FloodID: 1, Initiator: 1, Trace: []TraceHop{{ID: 1, Type: Client}}}

	a := req.WithHop(11, Relay)
	b := req.WithHop(12, Relay)

	assert.Len(t, req.Trace, 1)
	assert.Equal(t, []TraceHop{{1, Client}, {11, Relay}}, a.Trace)
	assert.Equal(t, []TraceHop{{1, Client}, {12, Relay}}, b.Trace)
	assert.True(t, a.Visited(11))
	assert.False(t, a.Visited(12))

	sender, ok := a.Sender()
	require.True(t, ok)
	assert.Equal(t, NodeID(11), sender)
}

func TestFloodRequestResponse(t *testing.T) {
	req := &FloodRequest{FloodID: 3, Initiator: 1, Trace: []TraceHop{{1, Client}, {11, Relay}, {2, Server}}}

	pkt := req.Response(9)
	assert.Equal(t, []NodeID{2, 11, 1}, pkt.Header.Hops)
	assert.Equal(t, 1, pkt.Header.HopIndex)
	assert.Equal(t, SessionID(9), pkt.Session)

	resp, ok := pkt.Body.(*FloodResponse)
	require.True(t, ok)
	assert.Equal(t, uint64(3), resp.FloodID)
	assert.Equal(t, req.Trace, resp.Trace)

	initiator, ok := resp.Initiator()
	require.True(t, ok)
	assert.Equal(t, NodeID(1), initiator)
}

func TestLinkSend(t *testing.T) {
	ch := make(chan Packet, 1)
	l := NewLink(4, ch)

	require.NoError(t, l.Send(Packet{Session: 1, Body: &Ack{}}))
	err := l.Send(Packet{Session: 2, Body: &Ack{}})
	require.Error(t, err)
	assert.Equal(t, ErrLinkFull, errors.Cause(err))

	pkt := <-ch
	assert.Equal(t, SessionID(1), pkt.Session)
}

func TestNodeTypeText(t *testing.T) {
	var nt NodeType
	require.NoError(t, nt.UnmarshalText([]byte("drone")))
	assert.Equal(t, Relay, nt)
	require.NoError(t, nt.UnmarshalText([]byte("Server")))
	assert.Equal(t, Server, nt)
	assert.Error(t, nt.UnmarshalText([]byte("router")))

	var st ServerType
	require.NoError(t, st.UnmarshalText([]byte("text")))
	assert.Equal(t, TextServer, st)
	assert.True(t, Client.IsEndpoint())
	assert.False(t, Relay.IsEndpoint())
}

func TestNodeIDJSON(t *testing.T) {
	b, err := json.Marshal(NewHeader([]NodeID{1, 11, 2}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hop_index":1,"hops":[1,11,2]}`, string(b))

	var ids []NodeID
	require.NoError(t, json.Unmarshal([]byte(`[3, 255]`), &ids))
	assert.Equal(t, []NodeID{3, 255}, ids)

	assert.Error(t, json.Unmarshal([]byte(`[256]`), &ids))
}
