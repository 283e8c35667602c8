package controller

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skymesh/pkg/routing"
)

const diamondConfig = `{
	"version": "1.0",
	"drones": [
		{"id": 11, "pdr": 0, "connected_node_ids": [1, 2, 12]},
		{"id": 12, "pdr": 0, "connected_node_ids": [1, 2]}
	],
	"clients": [
		{"id": 1, "connected_drone_ids": [11, 12]}
	],
	"servers": [
		{"id": 2, "server_type": "chat", "connected_drone_ids": [11, 12]}
	],
	"routing": {"discovery_timeout": "3s"},
	"shutdown_timeout": "1s"
}`

func TestReadConfig(t *testing.T) {
	conf, err := ReadConfig(strings.NewReader(diamondConfig))
	require.NoError(t, err)

	assert.Len(t, conf.Drones, 2)
	assert.Equal(t, routing.ChatServer, conf.Servers[0].ServerType)
	assert.Equal(t, 3*time.Second, conf.DiscoveryTimeout())
	assert.Equal(t, time.Second, conf.ShutdownGrace())
	assert.Equal(t, routing.DefaultLinkBuffer, conf.LinkBuffer())

	assert.Equal(t, []Edge{
		{A: 1, B: 11}, {A: 1, B: 12}, {A: 2, B: 11}, {A: 2, B: 12}, {A: 11, B: 12},
	}, conf.Edges())
	assert.Equal(t, map[routing.NodeID]routing.NodeType{
		1: routing.Client, 2: routing.Server, 11: routing.Relay, 12: routing.Relay,
	}, conf.Types())
}

func TestReadConfigUnknownField(t *testing.T) {
	_, err := ReadConfig(strings.NewReader(`{"drones": [], "nope": 1}`))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{
			name:   "duplicate id",
			modify: func(c *Config) { c.Clients[0].ID = 11 },
		},
		{
			name:   "pdr out of range",
			modify: func(c *Config) { c.Drones[0].PDR = 1.5 },
		},
		{
			name:   "unconnected client",
			modify: func(c *Config) { c.Clients[0].ConnectedDroneIDs = nil },
		},
		{
			name:   "unconnected server",
			modify: func(c *Config) { c.Servers[0].ConnectedDroneIDs = nil },
		},
		{
			name:   "unknown neighbour",
			modify: func(c *Config) { c.Drones[1].ConnectedNodeIDs = append(c.Drones[1].ConnectedNodeIDs, 99) },
		},
		{
			name:   "self loop",
			modify: func(c *Config) { c.Drones[1].ConnectedNodeIDs = append(c.Drones[1].ConnectedNodeIDs, 12) },
		},
		{
			name:   "endpoint to endpoint",
			modify: func(c *Config) { c.Clients[0].ConnectedDroneIDs = append(c.Clients[0].ConnectedDroneIDs, 2) },
		},
		{
			name:   "negative retries",
			modify: func(c *Config) { c.Routing.MaxRetries = -1 },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conf, err := ReadConfig(strings.NewReader(diamondConfig))
			require.NoError(t, err)

			tc.modify(conf)
			assert.Equal(t, ErrInvalidConfig, errors.Cause(conf.Validate()))
		})
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, Duration(90*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, Duration(time.Microsecond), d)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	raw, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(raw))
}

func TestNewEdge(t *testing.T) {
	assert.Equal(t, Edge{A: 1, B: 11}, NewEdge(11, 1))
	assert.Equal(t, Edge{A: 1, B: 11}, NewEdge(1, 11))
}
