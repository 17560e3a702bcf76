package chord

import (
	"context"

	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// ForwardRequest locates the peer that owns key, routing across the network
// as needed. It tries, in order: local ownership, the successor list (no
// RPC needed, since successors are already known by address), the finger
// table (one recursive GET_SUCC hop), and finally a linear scan of the
// successor list issuing GET_SUCC directly. It fails with ErrNoRoute if
// every option is exhausted.
func (c *Core) ForwardRequest(ctx context.Context, key ringid.Key) (chordpeer.RemotePeer, error) {
	if c.OwnsLocally(key) {
		return c.self, nil
	}

	if succ, ok := c.successors.Lookup(key); ok {
		return succ, nil
	}

	if hop, err := c.fingers.Lookup(key); err == nil && !hop.ID.Equal(c.id) {
		if peer, err := c.remoteGetSucc(ctx, hop, key); err == nil {
			return peer, nil
		}
	}

	for _, hop := range c.successors.Entries() {
		if hop.ID.Equal(c.id) {
			continue
		}
		if peer, err := c.remoteGetSucc(ctx, hop, key); err == nil {
			return peer, nil
		}
	}

	return chordpeer.RemotePeer{}, chorderrors.ErrNoRoute
}

func (c *Core) remoteGetSucc(ctx context.Context, hop chordpeer.RemotePeer, key ringid.Key) (chordpeer.RemotePeer, error) {
	var resp transport.PeerResponse
	if err := c.client.SendRequest(ctx, hop, transport.CmdGetSucc, transport.GetSuccRequest{Key: key.Hex()}, &resp); err != nil {
		return chordpeer.RemotePeer{}, err
	}
	return transport.FromPeerResponse(resp)
}

// GetSuccessor is the GET_SUCC handler: it returns the peer that owns key,
// forwarding the request across the network if this peer doesn't own it.
func (c *Core) GetSuccessor(ctx context.Context, key ringid.Key) (chordpeer.RemotePeer, error) {
	return c.ForwardRequest(ctx, key)
}

// GetPredecessor answers GET_PRED: the peer's own current predecessor,
// independent of any key (the field exists for wire-protocol symmetry with
// GET_SUCC but this peer always answers about itself).
func (c *Core) GetPredecessor() (chordpeer.RemotePeer, bool) {
	return c.Predecessor()
}

// GetNSuccessors returns up to n successors of this peer, starting with the
// first entry in its own successor list.
func (c *Core) GetNSuccessors(n int) []chordpeer.RemotePeer {
	entries := c.successors.Entries()
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// GetNPredecessors walks backwards from gateway, asking each hop for its
// predecessor, collecting up to n distinct peers.
func (c *Core) GetNPredecessors(ctx context.Context, gateway chordpeer.RemotePeer, n int) ([]chordpeer.RemotePeer, error) {
	result := make([]chordpeer.RemotePeer, 0, n)
	current := gateway
	for len(result) < n {
		var resp transport.PeerResponse
		if err := c.client.SendRequest(ctx, current, transport.CmdGetPred, transport.GetPredRequest{Key: current.ID.Hex()}, &resp); err != nil {
			break
		}
		peer, err := transport.FromPeerResponse(resp)
		if err != nil {
			break
		}
		if peer.ID.Equal(gateway.ID) || peer.ID.Equal(current.ID) {
			break
		}
		result = append(result, peer)
		current = peer
	}
	return result, nil
}

// getPredecessorOf routes to the peer that owns key and asks it for its own
// predecessor, the same two-hop trick GET_PRED answers: a GET_PRED response
// only ever describes the responder's own predecessor, so finding "the
// predecessor of key" means first finding key's successor.
func (c *Core) getPredecessorOf(ctx context.Context, key ringid.Key) (chordpeer.RemotePeer, error) {
	owner, err := c.ForwardRequest(ctx, key)
	if err != nil {
		return chordpeer.RemotePeer{}, err
	}
	if owner.ID.Equal(c.id) {
		if pred, ok := c.Predecessor(); ok {
			return pred, nil
		}
		return c.self, nil
	}

	var resp transport.PeerResponse
	if err := c.client.SendRequest(ctx, owner, transport.CmdGetPred, transport.GetPredRequest{Key: key.Hex()}, &resp); err != nil {
		return chordpeer.RemotePeer{}, err
	}
	return transport.FromPeerResponse(resp)
}

// walkPredecessors is the shared shape behind FixOtherFingers and the
// outbound Rectify broadcast: for i = 1..ring_bit_width, find the
// predecessor of startingKey-2^(i-1) and hand it to visit, skipping repeats
// of the immediately preceding result. It stops as soon as the walk reaches
// self, since the remaining arc back to startingKey is self's own.
func (c *Core) walkPredecessors(ctx context.Context, startingKey ringid.Key, visit func(ctx context.Context, p chordpeer.RemotePeer)) {
	var former *chordpeer.RemotePeer
	for i := 1; i <= ringid.Bits; i++ {
		target := startingKey.Sub(ringid.PowerOfTwo(i - 1))
		p, err := c.getPredecessorOf(ctx, target)
		if err != nil {
			c.log.Logger.Debug().Err(err).Msg("chord: walk_predecessors lookup failed")
			continue
		}

		if former != nil && former.ID.Equal(p.ID) {
			continue
		}
		found := p
		former = &found

		if p.ID.Equal(c.id) {
			return
		}
		if !c.alive(p) {
			continue
		}
		visit(ctx, p)
	}
}

// FixOtherFingers asks the peers whose finger table rows might need to
// point at self to reconsider, the push side of the usual pull-based
// fix_fingers maintenance step: for i = 1..ring_bit_width, find the
// predecessor of startingKey-2^(i-1) and Notify it.
func (c *Core) FixOtherFingers(ctx context.Context, startingKey ringid.Key) {
	c.walkPredecessors(ctx, startingKey, func(ctx context.Context, p chordpeer.RemotePeer) {
		c.notify(ctx, p)
	})
}
