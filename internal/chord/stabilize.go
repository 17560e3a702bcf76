package chord

import (
	"context"

	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/ringevents"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// Stabilize runs the periodic six-step maintenance procedure: check the
// predecessor's liveness, repopulate from scratch if the successor list is
// empty, drop dead successor entries, reconcile with the immediate
// successor's own predecessor, grow the successor list back to NumSuccessors
// via UpdateSuccList, and rebuild the finger table incrementally.
func (c *Core) Stabilize(ctx context.Context) {
	c.checkPredecessor(ctx)

	if c.successors.Empty() {
		c.extendSuccessors(ctx, c.id.Next(), c.cfg.NumSuccessors)
		c.rebuildFingersIncremental(ctx)
		return
	}

	c.successors.DropLeadingDead(c.alive)

	if successor, ok := c.successors.First(); ok {
		c.reconcileWithSuccessor(ctx, successor)
		c.updateSuccList(ctx)
	}

	c.rebuildFingersIncremental(ctx)

	if c.events != nil {
		c.events.BroadcastRingUpdate(ringevents.RingUpdateEvent{
			Type: ringevents.EventStabilization, NodeID: c.id.String(), Message: "stabilize cycle complete",
		})
	}
}

// extendSuccessors walks GetSuccessor starting at start, inserting up to n
// distinct peers without probing their liveness, terminating early on a
// routing error, when the walk reaches self, or when it loops back to a
// peer it has already seen. This is the routing operation spec'd
// as GetNSuccessors(key, n): used both to repopulate an empty successor list
// from scratch and, in updateSuccList, to top it back up to NumSuccessors.
func (c *Core) extendSuccessors(ctx context.Context, start ringid.Key, n int) {
	cursor := start
	seen := map[ringid.Key]bool{}
	for i := 0; i < n; i++ {
		peer, err := c.ForwardRequest(ctx, cursor)
		if err != nil || peer.ID.Equal(c.id) || seen[peer.ID] {
			return
		}
		seen[peer.ID] = true
		c.successors.Insert(peer)
		cursor = peer.ID.Next()
	}
}

// updateSuccList walks each current successor entry's own predecessor chain
// to discover live peers the list is missing between it and the previous
// entry, then extends the list via extendSuccessors if it's still short of
// NumSuccessors.
func (c *Core) updateSuccList(ctx context.Context) {
	entries := c.successors.Entries()
	previous := c.id

	for _, entry := range entries {
		last := entry
		for {
			var resp transport.PeerResponse
			if err := c.client.SendRequest(ctx, last, transport.CmdGetPred, transport.GetPredRequest{Key: last.ID.Hex()}, &resp); err != nil {
				break
			}
			predOfLast, err := transport.FromPeerResponse(resp)
			if err != nil || predOfLast.ID.Equal(previous) || predOfLast.ID.Equal(c.id) {
				break
			}
			if c.alive(predOfLast) {
				c.successors.Insert(predOfLast)
			}
			last = predOfLast
		}
		previous = entry.ID
	}

	if deficit := c.cfg.NumSuccessors - c.successors.Len(); deficit > 0 {
		if entries := c.successors.Entries(); len(entries) > 0 {
			last := entries[len(entries)-1]
			c.extendSuccessors(ctx, last.ID.Next(), deficit)
		}
	}
}

// rebuildFingersIncremental refreshes every finger row by querying the
// previous row's peer (entry 0 is queried directly, since it has no
// preceding row). A row whose preceding peer is self is answered locally
// instead of looped back over the network.
func (c *Core) rebuildFingersIncremental(ctx context.Context) {
	for i := 0; i < c.fingers.Len(); i++ {
		entry, ok := c.fingers.GetNth(i)
		if !ok {
			continue
		}

		if i == 0 {
			if peer, err := c.GetSuccessor(ctx, entry.Start); err == nil {
				c.fingers.EditNth(i, peer)
			}
			continue
		}

		prev, ok := c.fingers.GetNth(i - 1)
		if !ok || prev.Peer.IsZero() {
			continue
		}
		if prev.Peer.ID.Equal(c.id) {
			if peer, err := c.GetSuccessor(ctx, entry.Start); err == nil {
				c.fingers.EditNth(i, peer)
			}
			continue
		}

		var resp transport.PeerResponse
		if err := c.client.SendRequest(ctx, prev.Peer, transport.CmdGetSucc, transport.GetSuccRequest{Key: entry.Start.Hex()}, &resp); err != nil {
			continue
		}
		peer, err := transport.FromPeerResponse(resp)
		if err != nil {
			continue
		}
		c.fingers.EditNth(i, peer)
	}
}

// reconcileWithSuccessor asks successor for its predecessor; if that
// predecessor should sit between self and successor, it adopts it as its
// new immediate successor before notifying whoever ends up in that slot.
func (c *Core) reconcileWithSuccessor(ctx context.Context, successor chordpeer.RemotePeer) {
	var resp transport.PeerResponse
	err := c.client.SendRequest(ctx, successor, transport.CmdGetPred, transport.GetPredRequest{Key: successor.ID.Hex()}, &resp)
	if err != nil {
		return
	}
	candidate, err := transport.FromPeerResponse(resp)
	if err != nil || candidate.IsZero() {
		c.notify(ctx, successor)
		return
	}

	if !candidate.ID.Equal(c.id) && !candidate.ID.Equal(successor.ID) {
		c.successors.Insert(candidate)
	}

	if next, ok := c.successors.First(); ok {
		c.notify(ctx, next)
	}
}

// checkPredecessor probes the current predecessor; if it's gone, the
// replication policy is told (so it can decide whether to absorb the
// vacated range), self's own finger rows covering the vacated range are
// pointed back at self, the predecessor is cleared so a future NOTIFY can
// re-establish it, and the wider ring is told via broadcastRectify.
func (c *Core) checkPredecessor(ctx context.Context) {
	pred, ok := c.Predecessor()
	if !ok || pred.ID.Equal(c.id) {
		return
	}
	if c.alive(pred) {
		return
	}

	c.policy.OnPredecessorFailure(pred)
	c.setMinKey(pred.MinKey)
	c.clearPredecessor()

	owner := chordpeer.New(c.id, c.MinKey(), c.self.Address, c.self.Port)
	c.fingers.AdjustFingers(owner)

	c.broadcastRectify(ctx, pred)
}

// broadcastRectify tells the O(log R) peers whose finger tables might
// reference failed that it's gone, the same FixOtherFingers-shaped walk but
// carrying a RECTIFY instead of a NOTIFY; each recipient rewires its own
// tables and then notifies the originator in turn (see the RectifyHandler
// side of the handshake).
func (c *Core) broadcastRectify(ctx context.Context, failed chordpeer.RemotePeer) {
	c.walkPredecessors(ctx, failed.ID, func(ctx context.Context, p chordpeer.RemotePeer) {
		_ = c.client.SendRequest(ctx, p, transport.CmdRectify, transport.RectifyRequest{
			FailedNode: transport.ToWirePeer(failed),
			Originator: transport.ToWirePeer(c.self),
		}, nil)
	})
}

// Rectify handles an incoming RECTIFY: a peer tells us its predecessor
// failed and it would like to be adopted in its place, if it actually
// belongs there.
func (c *Core) Rectify(req transport.RectifyRequest) error {
	failed, err := transport.FromWirePeer(req.FailedNode)
	if err != nil {
		return err
	}
	originator, err := transport.FromWirePeer(req.Originator)
	if err != nil {
		return err
	}

	pred, hasPred := c.Predecessor()
	if hasPred && pred.ID.Equal(failed.ID) {
		c.policy.OnPredecessorFailure(pred)
		c.setPredecessor(originator)
		return nil
	}

	c.successors.Remove(failed.ID)
	c.successors.Insert(originator)
	c.fingers.ReplaceDeadPeer(failed, originator)
	c.notify(context.Background(), originator)
	return nil
}
