// Package drone implements the relays of the mesh. A Drone forwards source
// routed packets, propagates discovery floods and reports failures back to
// the sender with nacks.
package drone

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skymesh/internal/metrics"
	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/routing"
)

// ErrInvalidPDR is returned for drop rates outside [0, 1].
var ErrInvalidPDR = errors.New("packet drop rate must be within [0, 1]")

// Config configures Drone.
type Config struct {
	Logger     *logging.Logger
	ID         routing.NodeID
	PDR        float64
	Controller messages.ControllerLink
	Metrics    metrics.Recorder
	Seed       int64 // zero seeds from the clock
}

type floodKey struct {
	initiator routing.NodeID
	id        uint64
}

// Drone is a relay node.
type Drone struct {
	Logger *logging.Logger

	conf     Config
	metrics  metrics.Recorder
	rnd      *rand.Rand
	seen     map[floodKey]struct{}
	packets  <-chan routing.Packet
	commands <-chan messages.Command

	mu    sync.Mutex
	links map[routing.NodeID]*routing.Link
	pdr   float64

	forwarded uint64
	floods    uint64
}

// New constructs a Drone reading from the given inbound queues.
func New(conf Config, packets <-chan routing.Packet, commands <-chan messages.Command) (*Drone, error) {
	if conf.PDR < 0 || conf.PDR > 1 {
		return nil, errors.Wrapf(ErrInvalidPDR, "drone %s: %v", conf.ID, conf.PDR)
	}
	if conf.Logger == nil {
		conf.Logger = logging.MustGetLogger("drone")
	}
	if conf.Metrics == nil {
		conf.Metrics = metrics.NewDummy()
	}
	if conf.Seed == 0 {
		conf.Seed = time.Now().UnixNano()
	}

	return &Drone{
		Logger:   conf.Logger,
		conf:     conf,
		metrics:  conf.Metrics,
		rnd:      rand.New(rand.NewSource(conf.Seed)),
		seen:     make(map[floodKey]struct{}),
		packets:  packets,
		commands: commands,
		links:    make(map[routing.NodeID]*routing.Link),
		pdr:      conf.PDR,
	}, nil
}

// ID returns the drone id.
func (d *Drone) ID() routing.NodeID {
	return d.conf.ID
}

// PDR returns the current packet drop rate.
func (d *Drone) PDR() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pdr
}

// Neighbors returns the ids of the current links in ascending order.
func (d *Drone) Neighbors() []routing.NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.neighborsLocked()
}

// Forwarded returns the number of source routed packets this drone has
// passed on.
func (d *Drone) Forwarded() uint64 {
	return atomic.LoadUint64(&d.forwarded)
}

// FloodsForwarded returns the number of distinct flood requests this
// drone has propagated.
func (d *Drone) FloodsForwarded() uint64 {
	return atomic.LoadUint64(&d.floods)
}

// Run serves commands and packets until Shutdown or Crash is received, ctx
// is done or the command channel closes.
func (d *Drone) Run(ctx context.Context) error {
	d.Logger.Infof("Drone %s started (pdr=%.2f)", d.conf.ID, d.PDR())

	reason, err := d.serve(ctx)
	if err != nil {
		reason = err.Error()
	}
	d.Logger.Infof("Drone %s stopped: %s", d.conf.ID, reason)
	if emitErr := d.emit(messages.NodeStopped{Reason: reason}); emitErr != nil {
		d.Logger.Debugf("NodeStopped not reported: %s", emitErr)
	}
	return err
}

func (d *Drone) serve(ctx context.Context) (string, error) {
	packets := d.packets
	for {
		select {
		case cmd, ok := <-d.commands:
			if reason, stop, err := d.handleCommand(cmd, ok); stop {
				return reason, err
			}
			continue
		default:
		}

		select {
		case cmd, ok := <-d.commands:
			if reason, stop, err := d.handleCommand(cmd, ok); stop {
				return reason, err
			}
		case pkt, ok := <-packets:
			if !ok {
				packets = nil
				continue
			}
			if err := d.handlePacket(pkt); err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "shutdown", nil
		}
	}
}

func (d *Drone) handleCommand(cmd messages.Command, ok bool) (string, bool, error) {
	if !ok {
		return "", true, messages.ErrControllerDisconnected
	}
	d.Logger.Debugf("Drone %s received command %s", d.conf.ID, cmd)

	switch c := cmd.(type) {
	case messages.AddSender:
		d.mu.Lock()
		d.links[c.ID] = c.Link
		d.mu.Unlock()
	case messages.RemoveSender:
		d.mu.Lock()
		delete(d.links, c.ID)
		d.mu.Unlock()
	case messages.SetPacketDropRate:
		if c.PDR < 0 || c.PDR > 1 {
			d.Logger.Warnf("Ignored %s: %s", c, ErrInvalidPDR)
			break
		}
		d.mu.Lock()
		d.pdr = c.PDR
		d.mu.Unlock()
	case messages.Crash:
		return "crashed", true, d.crash()
	case messages.Shutdown:
		return "shutdown", true, nil
	default:
		d.Logger.Warnf("Unsupported command %s", cmd)
	}
	return "", false, nil
}

// crash drains the inbound queue: fragments are answered with an
// ErrorInRouting nack naming this drone, other source routed packets are
// still passed on and floods are dropped.
func (d *Drone) crash() error {
	for {
		select {
		case pkt, ok := <-d.packets:
			if !ok {
				return nil
			}
			if err := d.handleCrashed(pkt); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (d *Drone) handleCrashed(pkt routing.Packet) error {
	switch body := pkt.Body.(type) {
	case *routing.Fragment:
		return d.nack(pkt, body, routing.ErrorInRouting, d.conf.ID)
	case *routing.FloodRequest:
		return nil
	default:
		return d.forward(pkt)
	}
}

func (d *Drone) handlePacket(pkt routing.Packet) error {
	if req, ok := pkt.Body.(*routing.FloodRequest); ok {
		return d.handleFloodRequest(pkt.Session, req)
	}
	return d.forward(pkt)
}

func (d *Drone) forward(pkt routing.Packet) error {
	frag, isFragment := pkt.Body.(*routing.Fragment)
	hdr := pkt.Header

	if cur, ok := hdr.Current(); !ok || cur != d.conf.ID {
		if !isFragment {
			d.Logger.Warnf("Drone %s dropped misrouted %s", d.conf.ID, pkt)
			return nil
		}
		return d.nack(pkt, frag, routing.UnexpectedRecipient, d.conf.ID)
	}

	if hdr.IsLast() {
		if !isFragment {
			d.Logger.Warnf("Drone %s dropped %s terminating at a relay", d.conf.ID, pkt)
			return nil
		}
		return d.nack(pkt, frag, routing.DestinationIsDrone, d.conf.ID)
	}

	next := hdr.Hops[hdr.HopIndex+1]

	d.mu.Lock()
	link, linked := d.links[next]
	drop := isFragment && d.pdr > 0 && d.rnd.Float64() < d.pdr
	d.mu.Unlock()

	if drop {
		d.metrics.PacketDropped()
		d.Logger.Debugf("Drone %s dropped %s", d.conf.ID, pkt)
		if err := d.emit(messages.PacketDropped{Packet: pkt}); err != nil {
			return err
		}
		return d.nack(pkt, frag, routing.Dropped, d.conf.ID)
	}

	if !linked {
		if !isFragment {
			d.Logger.Warnf("Drone %s has no link to node %s, dropped %s", d.conf.ID, next, pkt.Kind())
			return nil
		}
		return d.nack(pkt, frag, routing.ErrorInRouting, next)
	}

	out := pkt
	out.Header = hdr.Advance()
	if err := link.Send(out); err != nil {
		d.Logger.Warnf("Drone %s failed to forward %s: %s", d.conf.ID, pkt.Kind(), err)
		if !isFragment {
			return nil
		}
		return d.nack(pkt, frag, routing.Dropped, d.conf.ID)
	}

	atomic.AddUint64(&d.forwarded, 1)
	d.metrics.PacketSent(out.Kind())
	return d.emit(messages.PacketSent{Link: link.ID, To: next, Packet: out})
}

// nack answers a fragment at the current hop with the given cause. The nack
// travels back along the reversed header with this drone as first hop.
func (d *Drone) nack(pkt routing.Packet, frag *routing.Fragment, t routing.NackType, node routing.NodeID) error {
	at := pkt.Header.HopIndex
	if at >= len(pkt.Header.Hops) {
		at = len(pkt.Header.Hops) - 1
	}
	if at < 1 {
		d.Logger.Warnf("Drone %s cannot nack %s: no way back", d.conf.ID, pkt)
		return nil
	}

	resp := routing.NewNack(pkt, at, routing.Nack{FragmentIndex: frag.Index, Type: t, Node: node})
	resp.Header.Hops[0] = d.conf.ID
	resp.Header.HopIndex = 0
	d.Logger.Debugf("Drone %s answered session %d with %s", d.conf.ID, pkt.Session, resp.Body)
	return d.forward(resp)
}

func (d *Drone) handleFloodRequest(session routing.SessionID, req *routing.FloodRequest) error {
	key := floodKey{initiator: req.Initiator, id: req.FloodID}
	if _, ok := d.seen[key]; ok || req.Visited(d.conf.ID) {
		d.Logger.Debugf("Drone %s dropped repeated flood %d of node %s", d.conf.ID, req.FloodID, req.Initiator)
		return nil
	}
	d.seen[key] = struct{}{}

	sender, _ := req.Sender()
	fwd := req.WithHop(d.conf.ID, routing.Relay)

	d.mu.Lock()
	targets := make([]*routing.Link, 0, len(d.links))
	for _, id := range d.neighborsLocked() {
		if id != sender {
			targets = append(targets, d.links[id])
		}
	}
	d.mu.Unlock()

	atomic.AddUint64(&d.floods, 1)
	if len(targets) == 0 {
		resp := fwd.Response(session)
		resp.Header.HopIndex = 0
		return d.forward(resp)
	}

	for _, link := range targets {
		pkt := routing.Packet{Session: session, Body: fwd}
		if err := link.Send(pkt); err != nil {
			d.Logger.Warnf("Drone %s failed to propagate flood %d: %s", d.conf.ID, req.FloodID, err)
			continue
		}
		d.metrics.PacketSent(pkt.Kind())
		if err := d.emit(messages.PacketSent{Link: link.ID, To: link.Neighbor, Packet: pkt}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Drone) neighborsLocked() []routing.NodeID {
	ids := make([]routing.NodeID, 0, len(d.links))
	for id := range d.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Drone) emit(ev messages.Event) error {
	return d.conf.Controller.Emit(d.conf.ID, ev)
}
