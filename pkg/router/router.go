// Package router implements the delivery engine of a mesh endpoint: it
// resolves source routes over the discovered topology, fragments and tracks
// outgoing messages, and recovers from nacks.
package router

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skymesh/internal/ioutil"
	"github.com/skycoin/skymesh/internal/metrics"
	"github.com/skycoin/skymesh/pkg/fragment"
	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/routing"
	"github.com/skycoin/skymesh/pkg/topology"
)

// DefaultMaxRetries is the default number of retransmissions a single
// fragment may go through before its session is abandoned.
const DefaultMaxRetries = 16

var (
	// ErrPathNotFound is returned when no route to the destination is known.
	// A discovery round has been started by the time it is returned.
	ErrPathNotFound = errors.New("path not found")
	// ErrDestinationIsRelay is returned when sending to a known relay.
	ErrDestinationIsRelay = errors.New("destination is a relay")
	// ErrInvalidDestination is returned when sending to self.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrSessionInUse is returned when a caller-supplied session still has
	// unacknowledged fragments.
	ErrSessionInUse = errors.New("session in use")
	// ErrPayloadTooLarge is returned for payloads needing more than
	// fragment.MaxFragments fragments.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrNoNeighbors is returned by Discover on a node without links.
	ErrNoNeighbors = errors.New("no neighbors")
	// ErrControllerDisconnected is fatal for the owning node.
	ErrControllerDisconnected = messages.ErrControllerDisconnected
)

// Config configures Router.
type Config struct {
	Logger            *logging.Logger
	NodeID            routing.NodeID
	NodeType          routing.NodeType
	Controller        messages.ControllerLink
	Metrics           metrics.Recorder
	MaxRetries        int
	ReassemblyBuffers int
}

type pendingFragment struct {
	frag     routing.Fragment
	path     []routing.NodeID
	attempts int
	queued   bool
}

type pendingMessage struct {
	dest      routing.NodeID
	fragments map[uint64]*pendingFragment
}

type fragmentKey struct {
	session routing.SessionID
	index   uint64
}

// Router is the delivery engine of a client or server node. Every exported
// method is a single critical section, so a Router may be shared between
// the node's event loop and application goroutines.
type Router struct {
	Logger *logging.Logger

	conf      Config
	metrics   metrics.Recorder
	assembler *fragment.Assembler

	mu          sync.Mutex
	links       map[routing.NodeID]*routing.Link
	topo        *topology.Graph
	pending     map[routing.SessionID]*pendingMessage
	retry       []fragmentKey
	flushing    bool
	floods      *ioutil.AckWaiter
	floodID     uint64
	nextSession uint64

	// Rounds up to floodsExpired that are not pending were never answered.
	floodsExpired uint64
}

// New constructs a new Router.
func New(conf Config) *Router {
	if conf.Logger == nil {
		conf.Logger = logging.MustGetLogger("router")
	}
	if conf.Metrics == nil {
		conf.Metrics = metrics.NewDummy()
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = DefaultMaxRetries
	}

	return &Router{
		Logger:    conf.Logger,
		conf:      conf,
		metrics:   conf.Metrics,
		assembler: fragment.NewAssembler(conf.ReassemblyBuffers, conf.Logger),
		links:     make(map[routing.NodeID]*routing.Link),
		topo:      topology.New(conf.NodeID, conf.NodeType),
		pending:   make(map[routing.SessionID]*pendingMessage),
		floods:    ioutil.NewAckWaiter(),
	}
}

// ID returns the local node id.
func (r *Router) ID() routing.NodeID {
	return r.conf.NodeID
}

// AddNeighbor registers (or replaces) the link to a neighbour.
func (r *Router) AddNeighbor(id routing.NodeID, link *routing.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.links[id] = link
	r.Logger.Infof("Added link %s to node %s", link.ID, id)
}

// RemoveNeighbor drops the link to a neighbour and the matching edge of the
// topology view, so that no path through it is resolved any more.
func (r *Router) RemoveNeighbor(id routing.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.links[id]; !ok {
		r.Logger.Debugf("No link to node %s to remove", id)
		return
	}
	delete(r.links, id)
	r.topo.RemoveEdge(r.conf.NodeID, id)
	r.Logger.Infof("Removed link to node %s", id)
}

// Neighbors returns the ids of the current links in ascending order.
func (r *Router) Neighbors() []routing.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.neighborsLocked()
}

// Topology returns a copy of the discovered view.
func (r *Router) Topology() topology.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.topo.Snapshot()
}

// KnownNodes lists the discovered nodes of the given type.
func (r *Router) KnownNodes(t routing.NodeType) []routing.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.topo.NodesOfType(t)
}

// PendingSessions returns the number of sessions awaiting acks.
func (r *Router) PendingSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

// HandlePacket dispatches an inbound packet by body type. A fully
// reassembled message is returned when the packet completes one.
func (r *Router) HandlePacket(pkt routing.Packet) (*routing.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, _ := pkt.Header.Source()

	switch body := pkt.Body.(type) {
	case *routing.Fragment:
		return r.handleFragmentLocked(pkt, body)
	case *routing.Ack:
		return nil, r.handleAckLocked(pkt.Session, body, from)
	case *routing.Nack:
		return nil, r.handleNackLocked(pkt.Session, body, from)
	case *routing.FloodRequest:
		return nil, r.handleFloodRequestLocked(pkt.Session, body)
	case *routing.FloodResponse:
		return nil, r.handleFloodResponseLocked(body)
	default:
		r.Logger.Warnf("Dropped packet with unknown body %T", pkt.Body)
		return nil, nil
	}
}

// HandleFragment processes a fragment addressed to this node.
func (r *Router) HandleFragment(pkt routing.Packet, frag *routing.Fragment) (*routing.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.handleFragmentLocked(pkt, frag)
}

// HandleAck clears one pending fragment.
func (r *Router) HandleAck(session routing.SessionID, ack *routing.Ack, from routing.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.handleAckLocked(session, ack, from)
}

// HandleNack runs the recovery matching the nack cause.
func (r *Router) HandleNack(session routing.SessionID, nack *routing.Nack, from routing.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.handleNackLocked(session, nack, from)
}

// HandleFloodRequest answers a flood reaching this endpoint.
func (r *Router) HandleFloodRequest(session routing.SessionID, req *routing.FloodRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.handleFloodRequestLocked(session, req)
}

// HandleFloodResponse folds a discovered trace into the topology view.
func (r *Router) HandleFloodResponse(resp *routing.FloodResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.handleFloodResponseLocked(resp)
}

func (r *Router) neighborsLocked() []routing.NodeID {
	ids := make([]routing.NodeID, 0, len(r.links))
	for id := range r.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Router) emitLocked(ev messages.Event) error {
	return r.conf.Controller.Emit(r.conf.NodeID, ev)
}

// sendToLocked pushes pkt onto the link to neighbour id. The returned bool
// reports whether the packet left this node; the error is only ever
// ErrControllerDisconnected.
func (r *Router) sendToLocked(id routing.NodeID, pkt routing.Packet) (bool, error) {
	link, ok := r.links[id]
	if !ok {
		r.Logger.Warnf("No link to node %s, dropped %s", id, pkt.Kind())
		return false, nil
	}
	if err := link.Send(pkt); err != nil {
		r.Logger.Warnf("Failed to send %s to node %s: %s", pkt.Kind(), id, err)
		return false, nil
	}

	r.metrics.PacketSent(pkt.Kind())
	r.Logger.Debugf("Sent %s", pkt)
	return true, r.emitLocked(messages.PacketSent{Link: link.ID, To: id, Packet: pkt})
}

// forwardLocked sends pkt to the hop its header currently points at.
func (r *Router) forwardLocked(pkt routing.Packet) (bool, error) {
	next, ok := pkt.Header.Current()
	if !ok {
		r.Logger.Warnf("Dropped %s with malformed header %s", pkt.Kind(), pkt.Header)
		return false, nil
	}
	return r.sendToLocked(next, pkt)
}
