package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skymesh/internal/testhelpers"
	"github.com/skycoin/skymesh/pkg/routing"
	"github.com/skycoin/skymesh/pkg/topology"
)

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, []byte) {
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()

	data, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHTTPHandler(t *testing.T) {
	c := newController(t)
	defer func() { require.NoError(t, c.Close()) }()
	require.NoError(t, c.Start(context.Background()))

	srv := httptest.NewServer(c.HTTPHandler())
	defer srv.Close()

	t.Run("nodes", func(t *testing.T) {
		code, body := do(t, srv, http.MethodGet, "/api/nodes", "")
		require.Equal(t, http.StatusOK, code)
		var nodes []NodeInfo
		require.NoError(t, json.Unmarshal(body, &nodes))
		assert.Len(t, nodes, 4)
	})

	t.Run("node errors", func(t *testing.T) {
		code, _ := do(t, srv, http.MethodGet, "/api/nodes/99", "")
		assert.Equal(t, http.StatusNotFound, code)
		code, _ = do(t, srv, http.MethodGet, "/api/nodes/abc", "")
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = do(t, srv, http.MethodGet, "/api/nodes/11/topology", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("discover", func(t *testing.T) {
		code, body := do(t, srv, http.MethodPost, "/api/nodes/1/discover", "")
		require.Equal(t, http.StatusOK, code)
		var view topology.Snapshot
		require.NoError(t, json.Unmarshal(body, &view))
		assert.Equal(t, routing.NodeID(1), view.Self)
		assert.NotEmpty(t, view.Nodes)
	})

	t.Run("message", func(t *testing.T) {
		code, body := do(t, srv, http.MethodPost, "/api/nodes/1/messages", `{"to": 2, "payload": "hello"}`)
		require.Equal(t, http.StatusAccepted, code, string(body))
		assert.Contains(t, string(body), "session_id")

		code, _ = do(t, srv, http.MethodPost, "/api/nodes/1/messages", `{"to": 11, "payload": "hello"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = do(t, srv, http.MethodPost, "/api/nodes/1/messages", `{"bad": true}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("links", func(t *testing.T) {
		code, _ := do(t, srv, http.MethodPost, "/api/links", `{"a": 1, "b": 2}`)
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = do(t, srv, http.MethodDelete, "/api/links/11/12", "")
		assert.Equal(t, http.StatusOK, code)
		code, body := do(t, srv, http.MethodPost, "/api/links", `{"a": 12, "b": 11}`)
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"a": 11, "b": 12}`, string(body))
	})

	t.Run("pdr", func(t *testing.T) {
		code, _ := do(t, srv, http.MethodPost, "/api/drones/12/pdr", `{"pdr": 0.25}`)
		assert.Equal(t, http.StatusOK, code)
		code, _ = do(t, srv, http.MethodPost, "/api/drones/12/pdr", `{"pdr": 3}`)
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = do(t, srv, http.MethodPost, "/api/drones/1/pdr", `{"pdr": 0.1}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("events", func(t *testing.T) {
		code, body := do(t, srv, http.MethodGet, "/api/events", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), `"kind":"packet_sent"`)

		future := time.Now().Add(time.Hour).Format(time.RFC3339Nano)
		code, body = do(t, srv, http.MethodGet, "/api/events?since="+future, "")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[]`, string(body))

		code, _ = do(t, srv, http.MethodGet, "/api/events?since=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("metrics", func(t *testing.T) {
		code, body := do(t, srv, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), "skymesh_packets_sent_total")
	})

	t.Run("crash", func(t *testing.T) {
		code, _ := do(t, srv, http.MethodPost, "/api/drones/11/crash", "")
		assert.Equal(t, http.StatusOK, code)
		code, _ = do(t, srv, http.MethodPost, "/api/drones/11/crash", "")
		assert.Equal(t, http.StatusConflict, code)
		code, _ = do(t, srv, http.MethodPost, "/api/drones/12/crash", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestHTTPEventStream(t *testing.T) {
	c := newController(t)
	defer func() { require.NoError(t, c.Close()) }()

	srv := httptest.NewServer(c.HTTPHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, conn.Close()) }()

	testhelpers.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.subs) == 1
	})
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testhelpers.Timeout)))
	var msg struct {
		Node  routing.NodeID  `json:"node"`
		Kind  string          `json:"kind"`
		Event json.RawMessage `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.NotEmpty(t, msg.Kind)
	assert.NotEmpty(t, msg.Event)
}
