// Package node implements the event loop of a mesh endpoint (client or
// server). A Node owns a Router and feeds it with packets and
// administrative commands.
package node

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skymesh/internal/metrics"
	"github.com/skycoin/skymesh/internal/netutil"
	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/router"
	"github.com/skycoin/skymesh/pkg/routing"
	"github.com/skycoin/skymesh/pkg/topology"
)

// State is the lifecycle state of a Node.
type State int32

const (
	// StateIdle means Run has not been called yet.
	StateIdle State = iota
	// StateRunning means the event loop is serving.
	StateRunning
	// StateShuttingDown is terminal.
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

const (
	deliveriesBuffer = 64

	// DefaultRetryBackoff is the first delay of SendWithRetry.
	DefaultRetryBackoff = 50 * time.Millisecond
	// DefaultRetryThreshold bounds the total time spent in SendWithRetry.
	DefaultRetryThreshold = 5 * time.Second
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("node already running")

// Config configures Node.
type Config struct {
	Logger            *logging.Logger
	ID                routing.NodeID
	Type              routing.NodeType
	Controller        messages.ControllerLink
	Metrics           metrics.Recorder
	MaxRetries        int
	ReassemblyBuffers int
	RetryBackoff      time.Duration
	RetryThreshold    time.Duration

	// OnMessage is called from the event loop for every reassembled message.
	OnMessage func(routing.Message)
}

// Node is a client or server of the mesh.
type Node struct {
	Logger *logging.Logger

	conf       Config
	router     *router.Router
	retrier    *netutil.Retrier
	packets    <-chan routing.Packet
	commands   <-chan messages.Command
	deliveries chan routing.Message
	state      int32
}

// New constructs a Node reading from the given inbound queues.
func New(conf Config, packets <-chan routing.Packet, commands <-chan messages.Command) *Node {
	if conf.Logger == nil {
		conf.Logger = logging.MustGetLogger("node")
	}
	if conf.RetryBackoff <= 0 {
		conf.RetryBackoff = DefaultRetryBackoff
	}
	if conf.RetryThreshold <= 0 {
		conf.RetryThreshold = DefaultRetryThreshold
	}

	r := router.New(router.Config{
		Logger:            conf.Logger,
		NodeID:            conf.ID,
		NodeType:          conf.Type,
		Controller:        conf.Controller,
		Metrics:           conf.Metrics,
		MaxRetries:        conf.MaxRetries,
		ReassemblyBuffers: conf.ReassemblyBuffers,
	})

	retrier := netutil.NewRetrier(conf.Logger, conf.RetryBackoff, conf.RetryThreshold, 2).
		WithErrWhitelist(
			router.ErrInvalidDestination,
			router.ErrDestinationIsRelay,
			router.ErrSessionInUse,
			router.ErrControllerDisconnected,
		)

	return &Node{
		Logger:     conf.Logger,
		conf:       conf,
		router:     r,
		retrier:    retrier,
		packets:    packets,
		commands:   commands,
		deliveries: make(chan routing.Message, deliveriesBuffer),
	}
}

// ID returns the node id.
func (n *Node) ID() routing.NodeID {
	return n.conf.ID
}

// Type returns the node type.
func (n *Node) Type() routing.NodeType {
	return n.conf.Type
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	return State(atomic.LoadInt32(&n.state))
}

// Deliveries exposes reassembled messages. Messages are dropped when the
// channel is not drained.
func (n *Node) Deliveries() <-chan routing.Message {
	return n.deliveries
}

// Send sends payload to dest once. See router.Router.Send.
func (n *Node) Send(dest routing.NodeID, payload []byte) (routing.SessionID, error) {
	return n.router.Send(dest, payload, nil)
}

// SendWithRetry sends payload to dest, retrying with exponential backoff
// while no path is known.
func (n *Node) SendWithRetry(ctx context.Context, dest routing.NodeID, payload []byte) (routing.SessionID, error) {
	var sid routing.SessionID
	err := n.retrier.Do(ctx, func() error {
		var err error
		sid, err = n.router.Send(dest, payload, nil)
		return err
	})
	return sid, err
}

// Discover floods the mesh and waits for the first response.
func (n *Node) Discover(ctx context.Context) error {
	return n.router.Discover(ctx)
}

// Topology returns a copy of the discovered view.
func (n *Node) Topology() topology.Snapshot {
	return n.router.Topology()
}

// Neighbors returns the ids of the current links.
func (n *Node) Neighbors() []routing.NodeID {
	return n.router.Neighbors()
}

// KnownNodes lists the discovered nodes of the given type.
func (n *Node) KnownNodes(t routing.NodeType) []routing.NodeID {
	return n.router.KnownNodes(t)
}

// PendingSessions returns the number of messages awaiting acks.
func (n *Node) PendingSessions() int {
	return n.router.PendingSessions()
}

// Run serves commands and packets until Shutdown is received, ctx is done
// or the controller disconnects. Commands always take priority over
// packets.
func (n *Node) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&n.state, int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyRunning
	}
	n.Logger.Infof("Node %s (%s) started", n.conf.ID, n.conf.Type)

	err := n.serve(ctx)
	atomic.StoreInt32(&n.state, int32(StateShuttingDown))

	reason := "shutdown"
	if err != nil {
		reason = err.Error()
		n.Logger.WithError(err).Warnf("Node %s stopped", n.conf.ID)
	} else {
		n.Logger.Infof("Node %s stopped", n.conf.ID)
	}
	if emitErr := n.conf.Controller.Emit(n.conf.ID, messages.NodeStopped{Reason: reason}); emitErr != nil {
		n.Logger.Debugf("NodeStopped not reported: %s", emitErr)
	}
	return err
}

func (n *Node) serve(ctx context.Context) error {
	// Links queued before Run are attached before the first flood.
	if stop, err := n.pollCommands(); stop {
		return err
	}
	if _, err := n.router.StartFlood(); err != nil {
		return err
	}

	packets := n.packets
	for {
		if stop, err := n.pollCommands(); stop {
			return err
		}

		select {
		case cmd, ok := <-n.commands:
			if stop, err := n.handleCommand(cmd, ok); stop {
				return err
			}
		case pkt, ok := <-packets:
			if !ok {
				n.Logger.Warn("Packet queue closed")
				packets = nil
				continue
			}
			if err := n.handlePacket(pkt); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// pollCommands handles every command already queued without blocking.
func (n *Node) pollCommands() (bool, error) {
	for {
		select {
		case cmd, ok := <-n.commands:
			if stop, err := n.handleCommand(cmd, ok); stop {
				return true, err
			}
		default:
			return false, nil
		}
	}
}

// handleCommand reports whether the loop must stop, and with which error.
func (n *Node) handleCommand(cmd messages.Command, ok bool) (bool, error) {
	if !ok {
		return true, router.ErrControllerDisconnected
	}
	n.Logger.Debugf("Received command %s", cmd)

	switch c := cmd.(type) {
	case messages.AddSender:
		n.router.AddNeighbor(c.ID, c.Link)
	case messages.RemoveSender:
		n.router.RemoveNeighbor(c.ID)
	case messages.Shutdown:
		return true, nil
	default:
		n.Logger.Warnf("Command %s is not supported by %s nodes", cmd, n.conf.Type)
	}
	return false, nil
}

func (n *Node) handlePacket(pkt routing.Packet) error {
	msg, err := n.router.HandlePacket(pkt)
	if err != nil {
		if errors.Cause(err) == router.ErrControllerDisconnected {
			return err
		}
		n.Logger.WithError(err).Warnf("Failed to handle %s", pkt.Kind())
	}
	if msg == nil {
		return nil
	}

	if n.conf.OnMessage != nil {
		n.conf.OnMessage(*msg)
	}
	select {
	case n.deliveries <- *msg:
	default:
		n.Logger.Debugf("Deliveries queue full, dropped session %d from node %s", msg.Session, msg.From)
	}
	return nil
}
