package router

import (
	"github.com/pkg/errors"

	"github.com/skycoin/skymesh/pkg/fragment"
	"github.com/skycoin/skymesh/pkg/messages"
	"github.com/skycoin/skymesh/pkg/routing"
)

// Send fragments payload and sends it to dest over the shortest known path.
// When session is nil a fresh one is allocated. When no path is known a
// discovery round is started and ErrPathNotFound is returned; the caller
// may retry once discovery completes.
func (r *Router) Send(dest routing.NodeID, payload []byte, session *routing.SessionID) (routing.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dest == r.conf.NodeID {
		return 0, errors.Wrapf(ErrInvalidDestination, "node %s is self", dest)
	}
	if t, ok := r.topo.Type(dest); ok && !t.IsEndpoint() {
		return 0, errors.Wrapf(ErrDestinationIsRelay, "node %s", dest)
	}
	if len(payload) > fragment.MaxFragments*routing.FragmentSize {
		return 0, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(payload))
	}

	if r.resolveLocked(dest) == nil {
		if _, err := r.startFloodLocked(); err != nil {
			return 0, err
		}
		return 0, errors.Wrapf(ErrPathNotFound, "node %s", dest)
	}

	sid, err := r.sessionLocked(session)
	if err != nil {
		return 0, err
	}

	frags := fragment.Split(payload)
	pm := &pendingMessage{
		dest:      dest,
		fragments: make(map[uint64]*pendingFragment, len(frags)),
	}
	for _, frag := range frags {
		pm.fragments[frag.Index] = &pendingFragment{frag: frag}
	}
	r.pending[sid] = pm

	r.Logger.Infof("Sending session %d to node %s in %d fragment(s)", sid, dest, len(frags))
	for _, frag := range frags {
		if err := r.transmitLocked(sid, pm, pm.fragments[frag.Index]); err != nil {
			return sid, err
		}
	}
	return sid, nil
}

func (r *Router) sessionLocked(session *routing.SessionID) (routing.SessionID, error) {
	if session != nil {
		if _, ok := r.pending[*session]; ok {
			return 0, errors.Wrapf(ErrSessionInUse, "session %d", *session)
		}
		return *session, nil
	}
	return r.allocSessionLocked(), nil
}

func (r *Router) allocSessionLocked() routing.SessionID {
	for {
		r.nextSession++
		sid := routing.SessionID(r.nextSession)
		if _, ok := r.pending[sid]; !ok {
			return sid
		}
	}
}

// resolveLocked returns the shortest path to dest whose first hop is a live
// link. Edges towards neighbours without a link are pruned on the way.
func (r *Router) resolveLocked(dest routing.NodeID) []routing.NodeID {
	for {
		path := r.topo.ShortestPath(dest)
		if len(path) < 2 {
			return nil
		}
		if _, ok := r.links[path[1]]; ok {
			return path
		}
		r.Logger.Infof("Pruned edge to node %s: no link", path[1])
		r.topo.RemoveEdge(r.conf.NodeID, path[1])
	}
}

// transmitLocked sends one fragment along the current shortest path. When
// no path exists or the link is saturated the fragment is queued until the
// next discovery response.
func (r *Router) transmitLocked(sid routing.SessionID, pm *pendingMessage, pf *pendingFragment) error {
	path := r.resolveLocked(pm.dest)
	if path == nil {
		r.Logger.Debugf("No path to node %s, queued fragment %d of session %d", pm.dest, pf.frag.Index, sid)
		return r.enqueueLocked(sid, pf)
	}

	frag := pf.frag
	pkt := routing.Packet{
		Header:  routing.NewHeader(path),
		Session: sid,
		Body:    &frag,
	}
	sent, err := r.sendToLocked(path[1], pkt)
	if !sent {
		return r.enqueueLocked(sid, pf)
	}

	pf.path = path
	pf.attempts++
	pf.queued = false
	return err
}

// enqueueLocked parks pf until the next discovery response, starting a round
// unless one is already outstanding or the queue is being flushed by one.
func (r *Router) enqueueLocked(sid routing.SessionID, pf *pendingFragment) error {
	if pf.queued {
		return nil
	}
	pf.queued = true
	r.retry = append(r.retry, fragmentKey{session: sid, index: pf.frag.Index})

	if r.flushing || r.floodPendingLocked() || len(r.links) == 0 {
		return nil
	}
	_, err := r.startFloodLocked()
	return err
}

// flushRetriesLocked retransmits every queued fragment that still awaits
// an ack.
func (r *Router) flushRetriesLocked() error {
	queue := r.retry
	r.retry = nil

	r.flushing = true
	defer func() { r.flushing = false }()

	for _, key := range queue {
		pm, pf, ok := r.lookupLocked(key.session, key.index)
		if !ok || !pf.queued {
			continue
		}
		pf.queued = false
		if err := r.retransmitLocked(key.session, pm, pf); err != nil {
			return err
		}
	}
	return nil
}

// retransmitLocked resends a fragment, abandoning its session once the
// attempt budget is spent.
func (r *Router) retransmitLocked(sid routing.SessionID, pm *pendingMessage, pf *pendingFragment) error {
	if pf.attempts > r.conf.MaxRetries {
		return r.failLocked(sid, pm, errors.Errorf("fragment %d exceeded %d retries", pf.frag.Index, r.conf.MaxRetries))
	}
	if pf.attempts > 0 {
		r.metrics.Retransmitted()
	}
	return r.transmitLocked(sid, pm, pf)
}

func (r *Router) failLocked(sid routing.SessionID, pm *pendingMessage, reason error) error {
	delete(r.pending, sid)
	r.metrics.MessageFailed()
	r.Logger.Warnf("Abandoned session %d to node %s: %s", sid, pm.dest, reason)
	return r.emitLocked(messages.MessageFailed{Session: sid, Destination: pm.dest, Reason: reason.Error()})
}

func (r *Router) lookupLocked(sid routing.SessionID, index uint64) (*pendingMessage, *pendingFragment, bool) {
	pm, ok := r.pending[sid]
	if !ok {
		return nil, nil, false
	}
	pf, ok := pm.fragments[index]
	if !ok {
		return nil, nil, false
	}
	return pm, pf, true
}

func (r *Router) handleAckLocked(sid routing.SessionID, ack *routing.Ack, from routing.NodeID) error {
	pm, _, ok := r.lookupLocked(sid, ack.FragmentIndex)
	if !ok {
		r.Logger.Debugf("Ignored ack %d of session %d from node %s", ack.FragmentIndex, sid, from)
		return nil
	}

	delete(pm.fragments, ack.FragmentIndex)
	if len(pm.fragments) > 0 {
		return nil
	}

	delete(r.pending, sid)
	r.metrics.MessageDelivered()
	r.Logger.Infof("Delivered session %d to node %s", sid, pm.dest)
	return r.emitLocked(messages.MessageDelivered{Session: sid, Destination: pm.dest})
}

func (r *Router) handleFragmentLocked(pkt routing.Packet, frag *routing.Fragment) (*routing.Message, error) {
	cur, ok := pkt.Header.Current()
	if !ok || cur != r.conf.NodeID || !pkt.Header.IsLast() {
		r.Logger.Warnf("Received fragment not addressed to this node: %s", pkt.Header)
		if pkt.Header.HopIndex < 1 || len(pkt.Header.Hops) < 2 {
			return nil, nil
		}
		nack := routing.NewNack(pkt, pkt.Header.HopIndex, routing.Nack{
			FragmentIndex: frag.Index,
			Type:          routing.UnexpectedRecipient,
			Node:          r.conf.NodeID,
		})
		nack.Header.Hops[0] = r.conf.NodeID
		_, err := r.forwardLocked(nack)
		return nil, err
	}

	origin, _ := pkt.Header.Source()
	if err := r.assembler.Validate(*frag, pkt.Session, origin); err != nil {
		return nil, nil
	}

	ack := routing.Packet{
		Header:  pkt.Header.Reversed(),
		Session: pkt.Session,
		Body:    &routing.Ack{FragmentIndex: frag.Index},
	}
	if _, err := r.forwardLocked(ack); err != nil {
		return nil, err
	}

	payload, done := r.assembler.Add(*frag, pkt.Session, origin)
	if !done {
		return nil, nil
	}

	msg := &routing.Message{From: origin, Session: pkt.Session, Payload: payload}
	r.metrics.MessageReceived()
	r.Logger.Infof("Received session %d from node %s (%d bytes)", pkt.Session, origin, len(payload))
	return msg, r.emitLocked(messages.MessageReceived{Message: *msg})
}
