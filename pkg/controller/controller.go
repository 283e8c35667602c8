// Package controller builds a simulated mesh from a Config, runs every node
// of it, and exposes administrative operations and the stream of node
// events.
package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skymesh/internal/metrics"
	"github.com/skycoin/skymesh/pkg/drone"
	"github.com/skycoin/skymesh/pkg/eventlog"
	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/node"
	"github.com/skycoin/skymesh/pkg/routing"
	"github.com/skycoin/skymesh/pkg/topology"
)

const (
	eventsBuffer      = 4096
	subscriberBuffer  = 256
	commandBuffer     = 64
	commandTimeout    = time.Second
	metricsNamespace  = "skymesh"
	stateCrashed      = "crashed"
	stateStopped      = "stopped"
	stateRunning      = "running"
	stateNotStarted   = "idle"
	defaultRetryDelay = 50 * time.Millisecond
)

var (
	// ErrUnknownNode is returned for ids absent from the network.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNotDrone is returned when a drone-only operation targets an endpoint.
	ErrNotDrone = errors.New("node is not a drone")
	// ErrNotEndpoint is returned when an endpoint-only operation targets a drone.
	ErrNotEndpoint = errors.New("node is not a client or server")
	// ErrInvalidLink is returned for links that the network cannot hold.
	ErrInvalidLink = errors.New("invalid link")
	// ErrNodeStopped is returned when commanding a node that is not running.
	ErrNodeStopped = errors.New("node is not running")
	// ErrWouldIsolate is returned when crashing a drone would leave an
	// endpoint without any link.
	ErrWouldIsolate = errors.New("crash would isolate an endpoint")
	// ErrCommandTimeout is returned when a node does not take a command.
	ErrCommandTimeout = errors.New("command queue is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

type member struct {
	id         routing.NodeID
	typ        routing.NodeType
	serverType routing.ServerType
	inbox      chan routing.Packet
	commands   chan messages.Command
	node       *node.Node
	drone      *drone.Drone
	state      string
}

// NodeInfo summarises one node of the network.
type NodeInfo struct {
	ID         routing.NodeID      `json:"id"`
	Type       routing.NodeType    `json:"type"`
	ServerType *routing.ServerType `json:"server_type,omitempty"`
	PDR        *float64            `json:"pdr,omitempty"`
	Neighbors  []routing.NodeID    `json:"neighbors"`
	State      string              `json:"state"`
}

// Controller owns a simulated network.
type Controller struct {
	Logger *logging.Logger

	conf     *Config
	registry *prometheus.Registry
	store    eventlog.Store

	events chan messages.Envelope
	done   chan struct{}

	mu      sync.RWMutex
	members map[routing.NodeID]*member
	edges   map[Edge]struct{}
	subs    map[chan messages.Envelope]struct{}
	started bool
	closed  bool

	cancel    context.CancelFunc
	nodesWG   sync.WaitGroup
	pumpDone  chan struct{}
	pumpQuit  chan struct{}
	closeOnce sync.Once
}

// New validates conf and builds every node and link. Nodes start serving
// on Start.
func New(conf *Config, masterLogger *logging.MasterLogger) (*Controller, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if masterLogger == nil {
		masterLogger = logging.NewMasterLogger()
	}
	if lvl, err := logging.LevelFromString(conf.LogLevel); err == nil {
		masterLogger.SetLevel(lvl)
	}

	store, err := conf.EventStore()
	if err != nil {
		return nil, errors.Wrap(err, "event log")
	}

	registry := prometheus.NewRegistry()
	prom, err := metrics.NewPrometheus(metricsNamespace, registry)
	if err != nil {
		store.Close() // nolint
		return nil, errors.Wrap(err, "metrics")
	}

	c := &Controller{
		Logger:   masterLogger.PackageLogger("controller"),
		conf:     conf,
		registry: registry,
		store:    store,
		events:   make(chan messages.Envelope, eventsBuffer),
		done:     make(chan struct{}),
		members:  make(map[routing.NodeID]*member),
		edges:    make(map[Edge]struct{}),
		subs:     make(map[chan messages.Envelope]struct{}),
		pumpDone: make(chan struct{}),
		pumpQuit: make(chan struct{}),
	}
	link := messages.ControllerLink{Events: c.events, Done: c.done}

	edges := conf.Edges()
	degree := make(map[routing.NodeID]int)
	for _, e := range edges {
		degree[e.A]++
		degree[e.B]++
	}
	newMember := func(id routing.NodeID, t routing.NodeType) *member {
		m := &member{
			id:       id,
			typ:      t,
			inbox:    make(chan routing.Packet, conf.LinkBuffer()),
			commands: make(chan messages.Command, commandBuffer+degree[id]),
			state:    stateNotStarted,
		}
		c.members[id] = m
		return m
	}

	for _, dc := range conf.Drones {
		m := newMember(dc.ID, routing.Relay)
		m.drone, err = drone.New(drone.Config{
			Logger:     masterLogger.PackageLogger(fmt.Sprintf("drone:%s", dc.ID)),
			ID:         dc.ID,
			PDR:        dc.PDR,
			Controller: link,
			Metrics:    prom.Node(dc.ID.String()),
		}, m.inbox, m.commands)
		if err != nil {
			store.Close() // nolint
			return nil, err
		}
	}

	endpoint := func(id routing.NodeID, t routing.NodeType) *member {
		m := newMember(id, t)
		m.node = node.New(node.Config{
			Logger:            masterLogger.PackageLogger(fmt.Sprintf("%s:%s", t, id)),
			ID:                id,
			Type:              t,
			Controller:        link,
			Metrics:           prom.Node(id.String()),
			MaxRetries:        conf.Routing.MaxRetries,
			ReassemblyBuffers: conf.Routing.ReassemblyBuffers,
			RetryBackoff:      defaultRetryDelay,
			RetryThreshold:    conf.DiscoveryTimeout(),
		}, m.inbox, m.commands)
		return m
	}
	for _, cc := range conf.Clients {
		endpoint(cc.ID, routing.Client)
	}
	for _, sc := range conf.Servers {
		endpoint(sc.ID, routing.Server).serverType = sc.ServerType
	}

	for _, e := range edges {
		c.attachLocked(e)
	}
	return c, nil
}

// Registry exposes the metrics of every node.
func (c *Controller) Registry() *prometheus.Registry {
	return c.registry
}

// Start runs every node and the event pump until Close.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return errors.New("controller already started")
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.pump()

	for _, id := range c.idsLocked() {
		m := c.members[id]
		m.state = stateRunning
		c.nodesWG.Add(1)
		go c.run(ctx, m)
	}
	c.Logger.Infof("Started %d node(s) over %d link(s)", len(c.members), len(c.edges))
	return nil
}

func (c *Controller) run(ctx context.Context, m *member) {
	defer c.nodesWG.Done()

	var err error
	if m.drone != nil {
		err = m.drone.Run(ctx)
	} else {
		err = m.node.Run(ctx)
	}
	if err != nil {
		c.Logger.WithError(err).Warnf("Node %s exited", m.id)
	}

	c.mu.Lock()
	if m.state != stateCrashed {
		m.state = stateStopped
	}
	c.mu.Unlock()
}

// pump stores every event and fans it out to subscribers.
func (c *Controller) pump() {
	defer close(c.pumpDone)

	for {
		select {
		case env := <-c.events:
			c.record(env)
		case <-c.pumpQuit:
			for {
				select {
				case env := <-c.events:
					c.record(env)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) record(env messages.Envelope) {
	entry, err := eventlog.NewEntry(env)
	if err != nil {
		c.Logger.WithError(err).Warn("Failed to encode event")
	} else if err := c.store.Append(entry); err != nil {
		c.Logger.WithError(err).Warn("Failed to store event")
	}

	c.mu.RLock()
	for ch := range c.subs {
		select {
		case ch <- env:
		default:
		}
	}
	c.mu.RUnlock()
}

// Close shuts every node down, waiting up to the configured shutdown
// timeout before cancelling them, then closes the event log.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		if started {
			for _, m := range c.members {
				if m.state == stateRunning {
					select {
					case m.commands <- messages.Shutdown{}:
					default:
					}
				}
			}
		}
		c.mu.Unlock()

		if started {
			stopped := make(chan struct{})
			go func() {
				c.nodesWG.Wait()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(c.conf.ShutdownGrace()):
				c.Logger.Warn("Shutdown timeout reached, cancelling nodes")
			}
			c.cancel()
			<-stopped

			close(c.pumpQuit)
			<-c.pumpDone
		}
		close(c.done)

		c.mu.Lock()
		for ch := range c.subs {
			close(ch)
			delete(c.subs, ch)
		}
		c.mu.Unlock()

		err = c.store.Close()
	})
	return err
}

// Subscribe returns a live stream of events and a function to stop it.
// Slow subscribers miss events.
func (c *Controller) Subscribe() (<-chan messages.Envelope, func()) {
	ch := make(chan messages.Envelope, subscriberBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// Events returns the stored events recorded after since.
func (c *Controller) Events(since time.Time) ([]eventlog.Entry, error) {
	return c.store.Since(since)
}

// Nodes summarises every node, sorted by id.
func (c *Controller) Nodes() []NodeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]NodeInfo, 0, len(c.members))
	for _, id := range c.idsLocked() {
		out = append(out, c.infoLocked(c.members[id]))
	}
	return out
}

// Node summarises one node.
func (c *Controller) Node(id routing.NodeID) (NodeInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.members[id]
	if !ok {
		return NodeInfo{}, errors.Wrapf(ErrUnknownNode, "node %s", id)
	}
	return c.infoLocked(m), nil
}

// Topology returns the view discovered by a client or server.
func (c *Controller) Topology(id routing.NodeID) (topology.Snapshot, error) {
	m, err := c.endpoint(id)
	if err != nil {
		return topology.Snapshot{}, err
	}
	return m.node.Topology(), nil
}

// Discover makes an endpoint flood the network and wait for a response.
func (c *Controller) Discover(ctx context.Context, id routing.NodeID) error {
	m, err := c.endpoint(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.conf.DiscoveryTimeout())
	defer cancel()
	return m.node.Discover(ctx)
}

// Send makes endpoint from send payload to endpoint to, retrying while
// discovery converges.
func (c *Controller) Send(ctx context.Context, from, to routing.NodeID, payload []byte) (routing.SessionID, error) {
	m, err := c.endpoint(from)
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	dst, ok := c.members[to]
	c.mu.RUnlock()
	if !ok {
		return 0, errors.Wrapf(ErrUnknownNode, "node %s", to)
	}
	if !dst.typ.IsEndpoint() {
		return 0, errors.Wrapf(ErrNotEndpoint, "node %s", to)
	}

	return m.node.SendWithRetry(ctx, to, payload)
}

// AddLink connects two running nodes.
func (c *Controller) AddLink(a, b routing.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	e := NewEdge(a, b)
	ma, mb, err := c.pairLocked(e)
	if err != nil {
		return err
	}
	if _, ok := c.edges[e]; ok {
		return errors.Wrapf(ErrInvalidLink, "%s-%s already exists", a, b)
	}
	if ma.typ.IsEndpoint() && mb.typ.IsEndpoint() {
		return errors.Wrapf(ErrInvalidLink, "%s-%s joins two endpoints", a, b)
	}

	if err := c.commandLocked(ma, messages.AddSender{ID: mb.id, Link: routing.NewLink(mb.id, mb.inbox)}); err != nil {
		return err
	}
	if err := c.commandLocked(mb, messages.AddSender{ID: ma.id, Link: routing.NewLink(ma.id, ma.inbox)}); err != nil {
		return err
	}
	c.edges[e] = struct{}{}
	c.Logger.Infof("Added link %s-%s", e.A, e.B)
	return nil
}

// RemoveLink disconnects two nodes.
func (c *Controller) RemoveLink(a, b routing.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	e := NewEdge(a, b)
	ma, mb, err := c.pairLocked(e)
	if err != nil {
		return err
	}
	if _, ok := c.edges[e]; !ok {
		return errors.Wrapf(ErrInvalidLink, "%s-%s does not exist", a, b)
	}

	c.detachLocked(ma, mb)
	delete(c.edges, e)
	c.Logger.Infof("Removed link %s-%s", e.A, e.B)
	return nil
}

// Crash makes a drone fail: its neighbours drop their links to it, then
// the drone drains its queue with ErrorInRouting nacks and stops.
func (c *Controller) Crash(id routing.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	m, err := c.droneLocked(id)
	if err != nil {
		return err
	}
	if m.state != stateRunning {
		return errors.Wrapf(ErrNodeStopped, "drone %s", id)
	}

	neighbors := c.neighborsLocked(id)
	for _, n := range neighbors {
		if c.members[n].typ.IsEndpoint() && len(c.neighborsLocked(n)) == 1 {
			return errors.Wrapf(ErrWouldIsolate, "node %s depends on drone %s", n, id)
		}
	}

	// Nothing is sent unless every command fits, so a failed crash leaves
	// the network untouched. Queues are only filled under c.mu.
	targets := []*member{m}
	for _, n := range neighbors {
		if nm := c.members[n]; nm.state == stateRunning {
			targets = append(targets, nm)
		}
	}
	for _, target := range targets {
		if len(target.commands) == cap(target.commands) {
			return errors.Wrapf(ErrCommandTimeout, "node %s: no room to crash drone %s", target.id, id)
		}
	}

	for _, n := range neighbors {
		nm := c.members[n]
		if nm.state == stateRunning {
			if err := c.commandLocked(nm, messages.RemoveSender{ID: id}); err != nil {
				return err
			}
		}
		delete(c.edges, NewEdge(id, n))
	}
	if err := c.commandLocked(m, messages.Crash{}); err != nil {
		return err
	}
	m.state = stateCrashed
	c.Logger.Infof("Crashed drone %s", id)
	return nil
}

// SetPacketDropRate changes the drop probability of a drone.
func (c *Controller) SetPacketDropRate(id routing.NodeID, pdr float64) error {
	if pdr < 0 || pdr > 1 {
		return errors.Wrapf(drone.ErrInvalidPDR, "%v", pdr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.droneLocked(id)
	if err != nil {
		return err
	}
	if m.state != stateRunning {
		return errors.Wrapf(ErrNodeStopped, "drone %s", id)
	}
	return c.commandLocked(m, messages.SetPacketDropRate{PDR: pdr})
}

func (c *Controller) attachLocked(e Edge) {
	ma, mb := c.members[e.A], c.members[e.B]
	ma.commands <- messages.AddSender{ID: mb.id, Link: routing.NewLink(mb.id, mb.inbox)}
	mb.commands <- messages.AddSender{ID: ma.id, Link: routing.NewLink(ma.id, ma.inbox)}
	c.edges[e] = struct{}{}
}

func (c *Controller) detachLocked(ma, mb *member) {
	for _, pair := range [][2]*member{{ma, mb}, {mb, ma}} {
		if pair[0].state != stateRunning && c.started {
			continue
		}
		if err := c.commandLocked(pair[0], messages.RemoveSender{ID: pair[1].id}); err != nil {
			c.Logger.WithError(err).Warnf("Node %s kept its link to %s", pair[0].id, pair[1].id)
		}
	}
}

// commandLocked queues cmd for m, waiting up to commandTimeout.
func (c *Controller) commandLocked(m *member, cmd messages.Command) error {
	if c.closed {
		return ErrClosed
	}
	if c.started && m.state != stateRunning {
		return errors.Wrapf(ErrNodeStopped, "node %s", m.id)
	}

	t := time.NewTimer(commandTimeout)
	defer t.Stop()
	select {
	case m.commands <- cmd:
		return nil
	case <-t.C:
		return errors.Wrapf(ErrCommandTimeout, "node %s: %s", m.id, cmd)
	}
}

func (c *Controller) pairLocked(e Edge) (*member, *member, error) {
	if e.A == e.B {
		return nil, nil, errors.Wrapf(ErrInvalidLink, "node %s to itself", e.A)
	}
	ma, ok := c.members[e.A]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownNode, "node %s", e.A)
	}
	mb, ok := c.members[e.B]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownNode, "node %s", e.B)
	}
	return ma, mb, nil
}

func (c *Controller) droneLocked(id routing.NodeID) (*member, error) {
	m, ok := c.members[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "node %s", id)
	}
	if m.drone == nil {
		return nil, errors.Wrapf(ErrNotDrone, "node %s", id)
	}
	return m, nil
}

func (c *Controller) endpoint(id routing.NodeID) (*member, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.members[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "node %s", id)
	}
	if m.node == nil {
		return nil, errors.Wrapf(ErrNotEndpoint, "node %s", id)
	}
	return m, nil
}

func (c *Controller) neighborsLocked(id routing.NodeID) []routing.NodeID {
	var out []routing.NodeID
	for e := range c.edges {
		switch id {
		case e.A:
			out = append(out, e.B)
		case e.B:
			out = append(out, e.A)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Controller) idsLocked() []routing.NodeID {
	ids := make([]routing.NodeID, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Controller) infoLocked(m *member) NodeInfo {
	info := NodeInfo{
		ID:        m.id,
		Type:      m.typ,
		Neighbors: c.neighborsLocked(m.id),
		State:     m.state,
	}
	if info.Neighbors == nil {
		info.Neighbors = []routing.NodeID{}
	}
	switch {
	case m.drone != nil:
		pdr := m.drone.PDR()
		info.PDR = &pdr
	case m.typ == routing.Server:
		st := m.serverType
		info.ServerType = &st
	}
	return info
}
