package controller

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/skymesh/pkg/eventlog"
	"github.com/skycoin/skymesh/pkg/routing"
)

const (
	defaultLinkBuffer       = routing.DefaultLinkBuffer
	defaultDiscoveryTimeout = 5 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// ErrInvalidConfig is the cause of every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Config defines the simulated network and the controller around it.
type Config struct {
	Version string `json:"version"`

	Drones  []DroneConfig  `json:"drones"`
	Clients []ClientConfig `json:"clients"`
	Servers []ServerConfig `json:"servers"`

	Routing struct {
		MaxRetries        int      `json:"max_retries"`
		ReassemblyBuffers int      `json:"reassembly_buffers"`
		LinkBuffer        int      `json:"link_buffer"`
		DiscoveryTimeout  Duration `json:"discovery_timeout"`
	} `json:"routing"`

	EventLog struct {
		Type     string `json:"type"`
		Location string `json:"location"`
	} `json:"event_log"`

	Interfaces InterfaceConfig `json:"interfaces"`

	LogLevel        string   `json:"log_level"`
	ShutdownTimeout Duration `json:"shutdown_timeout"` // time value, examples: 10s, 1m, etc
}

// DroneConfig defines a relay.
type DroneConfig struct {
	ID               routing.NodeID   `json:"id"`
	PDR              float64          `json:"pdr"`
	ConnectedNodeIDs []routing.NodeID `json:"connected_node_ids"`
}

// ClientConfig defines a client endpoint.
type ClientConfig struct {
	ID                routing.NodeID   `json:"id"`
	ConnectedDroneIDs []routing.NodeID `json:"connected_drone_ids"`
}

// ServerConfig defines a server endpoint.
type ServerConfig struct {
	ID                routing.NodeID     `json:"id"`
	ServerType        routing.ServerType `json:"server_type"`
	ConnectedDroneIDs []routing.NodeID   `json:"connected_drone_ids"`
}

// InterfaceConfig defines listening interfaces of the controller.
type InterfaceConfig struct {
	HTTPAddress string `json:"http"` // HTTP API address (leave blank to disable).
}

// ReadConfig decodes and validates a JSON config.
func ReadConfig(r io.Reader) (*Config, error) {
	conf := new(Config)
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Edge is an undirected link between two nodes, A < B.
type Edge struct {
	A routing.NodeID `json:"a"`
	B routing.NodeID `json:"b"`
}

// NewEdge orders a and b.
func NewEdge(a, b routing.NodeID) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// Types maps every configured node to its type.
func (c *Config) Types() map[routing.NodeID]routing.NodeType {
	types := make(map[routing.NodeID]routing.NodeType)
	for _, d := range c.Drones {
		types[d.ID] = routing.Relay
	}
	for _, cl := range c.Clients {
		types[cl.ID] = routing.Client
	}
	for _, s := range c.Servers {
		types[s.ID] = routing.Server
	}
	return types
}

// Edges returns the union of every declared connection, sorted.
func (c *Config) Edges() []Edge {
	set := make(map[Edge]struct{})
	add := func(a routing.NodeID, bs []routing.NodeID) {
		for _, b := range bs {
			set[NewEdge(a, b)] = struct{}{}
		}
	}
	for _, d := range c.Drones {
		add(d.ID, d.ConnectedNodeIDs)
	}
	for _, cl := range c.Clients {
		add(cl.ID, cl.ConnectedDroneIDs)
	}
	for _, s := range c.Servers {
		add(s.ID, s.ConnectedDroneIDs)
	}

	edges := make([]Edge, 0, len(set))
	for e := range set {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
	return edges
}

// Validate checks that ids are unique, drop rates are in range and every
// edge joins two known nodes of which at least one is a drone.
func (c *Config) Validate() error {
	seen := make(map[routing.NodeID]struct{})
	register := func(id routing.NodeID) error {
		if _, ok := seen[id]; ok {
			return errors.Wrapf(ErrInvalidConfig, "duplicate node id %s", id)
		}
		seen[id] = struct{}{}
		return nil
	}

	for _, d := range c.Drones {
		if err := register(d.ID); err != nil {
			return err
		}
		if d.PDR < 0 || d.PDR > 1 {
			return errors.Wrapf(ErrInvalidConfig, "drone %s: pdr %v out of [0, 1]", d.ID, d.PDR)
		}
	}
	for _, cl := range c.Clients {
		if err := register(cl.ID); err != nil {
			return err
		}
		if len(cl.ConnectedDroneIDs) == 0 {
			return errors.Wrapf(ErrInvalidConfig, "client %s is not connected", cl.ID)
		}
	}
	for _, s := range c.Servers {
		if err := register(s.ID); err != nil {
			return err
		}
		if len(s.ConnectedDroneIDs) == 0 {
			return errors.Wrapf(ErrInvalidConfig, "server %s is not connected", s.ID)
		}
	}

	types := c.Types()
	for _, e := range c.Edges() {
		ta, okA := types[e.A]
		tb, okB := types[e.B]
		switch {
		case !okA || !okB:
			return errors.Wrapf(ErrInvalidConfig, "edge %s-%s references an unknown node", e.A, e.B)
		case e.A == e.B:
			return errors.Wrapf(ErrInvalidConfig, "node %s is connected to itself", e.A)
		case ta.IsEndpoint() && tb.IsEndpoint():
			return errors.Wrapf(ErrInvalidConfig, "edge %s-%s joins two endpoints", e.A, e.B)
		}
	}

	if c.Routing.MaxRetries < 0 || c.Routing.ReassemblyBuffers < 0 || c.Routing.LinkBuffer < 0 {
		return errors.Wrap(ErrInvalidConfig, "routing values must not be negative")
	}
	return nil
}

// LinkBuffer returns the configured inbound queue size.
func (c *Config) LinkBuffer() int {
	if c.Routing.LinkBuffer == 0 {
		return defaultLinkBuffer
	}
	return c.Routing.LinkBuffer
}

// DiscoveryTimeout bounds sends waiting for a path.
func (c *Config) DiscoveryTimeout() time.Duration {
	if c.Routing.DiscoveryTimeout == 0 {
		return defaultDiscoveryTimeout
	}
	return time.Duration(c.Routing.DiscoveryTimeout)
}

// ShutdownGrace returns how long Close waits for nodes to stop.
func (c *Config) ShutdownGrace() time.Duration {
	if c.ShutdownTimeout == 0 {
		return defaultShutdownTimeout
	}
	return time.Duration(c.ShutdownTimeout)
}

// EventStore returns the configured eventlog.Store.
func (c *Config) EventStore() (eventlog.Store, error) {
	return eventlog.New(c.EventLog.Type, c.EventLog.Location)
}

// Duration wraps around time.Duration to allow parsing from and to JSON
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}
