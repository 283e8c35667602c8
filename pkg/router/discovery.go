package router

import (
	"context"

	"github.com/pkg/errors"

	"github.com/skycoin/skymesh/internal/ioutil"
	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/routing"
)

// maxFloodWaiters bounds the rounds awaiting their first response.
const maxFloodWaiters = 64

// StartFlood starts a discovery round over every current link and returns
// its flood id.
func (r *Router) StartFlood() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.startFloodLocked()
}

// AwaitFlood blocks until the first response of the given round arrives.
// A round displaced by maxFloodWaiters newer ones is reported as expired.
func (r *Router) AwaitFlood(ctx context.Context, id uint64) error {
	r.mu.Lock()
	ch, ok := r.floods.Lookup(id)
	latest := r.floodID
	expired := id <= r.floodsExpired
	r.mu.Unlock()

	if !ok {
		if id == 0 || id > latest {
			return errors.Errorf("unknown flood %d", id)
		}
		if expired {
			return errors.Errorf("flood %d expired", id)
		}
		return nil
	}
	return errors.Wrapf(ioutil.Wait(ctx, ch), "flood %d", id)
}

// Discover starts a discovery round and waits for its first response.
func (r *Router) Discover(ctx context.Context) error {
	r.mu.Lock()
	if len(r.links) == 0 {
		r.mu.Unlock()
		return errors.Wrapf(ErrNoNeighbors, "node %s", r.conf.NodeID)
	}
	id, err := r.startFloodLocked()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	return r.AwaitFlood(ctx, id)
}

// floodPendingLocked reports whether the latest round still awaits its
// first response.
func (r *Router) floodPendingLocked() bool {
	_, ok := r.floods.Lookup(r.floodID)
	return ok
}

func (r *Router) startFloodLocked() (uint64, error) {
	r.floodID++
	id := r.floodID
	r.metrics.FloodStarted()

	neighbors := r.neighborsLocked()
	r.Logger.Debugf("Starting flood %d over %d link(s)", id, len(neighbors))
	if len(neighbors) == 0 {
		return id, nil
	}

	r.floods.Register(id)
	if id > maxFloodWaiters {
		r.floodsExpired = id - maxFloodWaiters
		if r.floods.Forget(r.floodsExpired) {
			r.Logger.Debugf("Flood %d expired unanswered", r.floodsExpired)
		}
	}

	for _, n := range neighbors {
		pkt := routing.Packet{
			Session: r.allocSessionLocked(),
			Body: &routing.FloodRequest{
				FloodID:   id,
				Initiator: r.conf.NodeID,
				Trace:     []routing.TraceHop{{ID: r.conf.NodeID, Type: r.conf.NodeType}},
			},
		}
		if _, err := r.sendToLocked(n, pkt); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (r *Router) handleFloodRequestLocked(sid routing.SessionID, req *routing.FloodRequest) error {
	if req.Initiator == r.conf.NodeID {
		r.Logger.Debugf("Ignored own flood %d", req.FloodID)
		return nil
	}
	if req.Visited(r.conf.NodeID) {
		r.Logger.Debugf("Ignored flood %d of node %s: already in trace", req.FloodID, req.Initiator)
		return nil
	}

	resp := req.WithHop(r.conf.NodeID, r.conf.NodeType).Response(sid)
	_, err := r.forwardLocked(resp)
	return err
}

func (r *Router) handleFloodResponseLocked(resp *routing.FloodResponse) error {
	initiator, ok := resp.Initiator()
	if !ok || initiator != r.conf.NodeID {
		r.Logger.Warnf("Dropped flood response %d addressed to node %s", resp.FloodID, initiator)
		return nil
	}

	r.topo.AddTrace(resp.Trace)
	if r.floods.Done(resp.FloodID) {
		nodes := len(r.topo.Snapshot().Nodes)
		r.Logger.Infof("Discovery %d completed, %d node(s) known", resp.FloodID, nodes)
		if err := r.emitLocked(messages.DiscoveryCompleted{FloodID: resp.FloodID, Nodes: nodes}); err != nil {
			return err
		}
	}
	return r.flushRetriesLocked()
}
