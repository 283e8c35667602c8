package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skymesh/pkg/routing"
)

func TestControllerLinkEmit(t *testing.T) {
	events := make(chan Envelope, 1)
	done := make(chan struct{})
	c := ControllerLink{Events: events, Done: done}

	require.NoError(t, c.Emit(3, NodeRemoved{ID: 4}))
	require.NoError(t, c.Emit(3, NodeRemoved{ID: 5}), "full queue drops instead of blocking")

	env := <-events
	assert.Equal(t, routing.NodeID(3), env.Node)
	assert.Equal(t, NodeRemoved{ID: 4}, env.Event)

	close(done)
	assert.Equal(t, ErrControllerDisconnected, c.Emit(3, NodeRemoved{ID: 6}))

	assert.NoError(t, ControllerLink{}.Emit(1, NodeStopped{}))
}

func TestEnvelopeJSON(t *testing.T) {
	env := Envelope{Node: 2, Event: MessageReceived{Message: routing.Message{From: 1, Session: 9, Payload: []byte("hi")}}}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var out struct {
		Node  int             `json:"node"`
		Kind  string          `json:"kind"`
		Event json.RawMessage `json:"event"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 2, out.Node)
	assert.Equal(t, "message_received", out.Kind)
	assert.Contains(t, string(out.Event), `"session_id":9`)
}
