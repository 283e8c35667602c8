package router

import (
	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/routing"
)

func (r *Router) handleNackLocked(sid routing.SessionID, nack *routing.Nack, from routing.NodeID) error {
	r.metrics.NackReceived(nack.Type.String())

	pm, pf, ok := r.lookupLocked(sid, nack.FragmentIndex)
	if !ok {
		r.Logger.Debugf("Ignored %s of session %d from node %s", nack, sid, from)
		return nil
	}
	r.Logger.Infof("Received %s of session %d from node %s", nack, sid, from)

	switch nack.Type {
	case routing.ErrorInRouting:
		if err := r.removeNodeLocked(nack.Node); err != nil {
			return err
		}
	case routing.DestinationIsDrone:
		r.pruneIntoLocked(pf.path, from)
	case routing.Dropped:
		return r.retransmitLocked(sid, pm, pf)
	case routing.UnexpectedRecipient:
		r.pruneIntoLocked(pf.path, nack.Node)
	default:
		r.Logger.Warnf("Unknown nack type %s", nack.Type)
	}

	if _, err := r.startFloodLocked(); err != nil {
		return err
	}
	return r.retransmitLocked(sid, pm, pf)
}

func (r *Router) removeNodeLocked(id routing.NodeID) error {
	if id == r.conf.NodeID || !r.topo.RemoveNode(id) {
		return nil
	}
	r.Logger.Infof("Removed node %s from topology", id)
	return r.emitLocked(messages.NodeRemoved{ID: id})
}

// pruneIntoLocked removes the edge leading into id on path. If id is not on
// path every edge between id and a node of the path is removed instead.
func (r *Router) pruneIntoLocked(path []routing.NodeID, id routing.NodeID) {
	for i := 1; i < len(path); i++ {
		if path[i] == id {
			r.topo.RemoveEdge(path[i-1], id)
			r.Logger.Debugf("Pruned edge %s-%s", path[i-1], id)
			return
		}
	}
	for _, hop := range path {
		if r.topo.RemoveEdge(hop, id) {
			r.Logger.Debugf("Pruned edge %s-%s", hop, id)
		}
	}
}
