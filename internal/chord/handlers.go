package chord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// RegisterHandlers wires every ring-maintenance command this core answers
// onto srv. Key/value commands (CREATE_KEY, READ_KEY, READ_RANGE,
// XCHNG_NODE) belong to the kvstore/dhash services built on top of Core and
// are registered separately by those packages.
func (c *Core) RegisterHandlers(srv *transport.Server) {
	srv.Handle(transport.CmdJoin, c.handleJoin)
	srv.Handle(transport.CmdNotify, c.handleNotify)
	srv.Handle(transport.CmdLeave, c.handleLeave)
	srv.Handle(transport.CmdGetSucc, c.handleGetSucc)
	srv.Handle(transport.CmdGetPred, c.handleGetPred)
	srv.Handle(transport.CmdRectify, c.handleRectify)
	srv.Handle(transport.CmdNodeInfo, c.handleNodeInfo)
}

func (c *Core) handleJoin(payload json.RawMessage) (any, error) {
	var req transport.JoinRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	newPeer, err := transport.FromWirePeer(req.NewPeer)
	if err != nil {
		return nil, err
	}

	// Adjust our own tables to include the joiner now, so less work remains
	// for the next stabilize cycle; it's only actually inserted into the
	// successor list if it falls within our NumSuccessors window.
	c.fingers.AdjustFingers(newPeer)
	c.successors.Insert(newPeer)

	ctx := context.Background()
	owner, err := c.ForwardRequest(ctx, newPeer.ID)
	if err != nil {
		return nil, fmt.Errorf("chord: locating successor for joining peer: %w", err)
	}

	if owner.ID.Equal(c.id) {
		pred, hasPred := c.Predecessor()
		if !hasPred {
			pred = c.self
		}
		return transport.JoinResponse{Predecessor: transport.ToWirePeer(pred)}, nil
	}

	var resp transport.PeerResponse
	if err := c.client.SendRequest(ctx, owner, transport.CmdGetPred, transport.GetPredRequest{Key: newPeer.ID.Hex()}, &resp); err != nil {
		return nil, err
	}
	return transport.JoinResponse{Predecessor: transport.WirePeer{
		ID:     resp.ID,
		MinKey: resp.MinKey,
		IPAddr: resp.IPAddr,
		Port:   resp.Port,
	}}, nil
}

func (c *Core) handleNotify(payload json.RawMessage) (any, error) {
	var req transport.NotifyRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	newPeer, err := transport.FromWirePeer(req.NewPeer)
	if err != nil {
		return nil, err
	}

	c.successors.Insert(newPeer)
	c.fingers.AdjustFingers(newPeer)

	pred, hasPred := c.Predecessor()
	// A predecessor equal to self means this peer is still the ring's only
	// member and owns every point on it, a range a non-degenerate (lo, hi)
	// arc can't express; any notifying peer belongs there.
	adopt := !hasPred || pred.ID.Equal(c.id) || ringid.InBetween(newPeer.ID, pred.ID, c.id, false)
	if !adopt {
		return transport.NotifyResponse{}, nil
	}

	oldMin := c.MinKey()
	c.setPredecessor(newPeer)
	c.setMinKey(newPeer.ID.Next())

	transferred := c.policy.TransferRange(oldMin.Prev(), newPeer.ID)
	keysWire := make(map[string]string, len(transferred))
	for k, v := range transferred {
		keysWire[k.Hex()] = v
	}
	return transport.NotifyResponse{KeysToAbsorb: keysWire}, nil
}

func (c *Core) handleLeave(payload json.RawMessage) (any, error) {
	var req transport.LeaveRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}

	leavingID, err := ringid.FromHex(req.LeavingID)
	if err != nil {
		return nil, err
	}

	if len(req.KeysToAbsorb) > 0 {
		entries := make(map[ringid.Key]string, len(req.KeysToAbsorb))
		for hex, v := range req.KeysToAbsorb {
			k, err := ringid.FromHex(hex)
			if err != nil {
				continue
			}
			entries[k] = v
		}
		c.policy.Absorb(entries)
	}

	if pred, hasPred := c.Predecessor(); hasPred && pred.ID.Equal(leavingID) {
		if newPred, err := transport.FromWirePeer(req.NewPred); err == nil && !newPred.IsZero() {
			c.setPredecessor(newPred)
		}
		if newMin, err := ringid.FromHex(req.NewMin); err == nil {
			c.setMinKey(newMin)
		}
		c.FixOtherFingers(context.Background(), leavingID)
	}

	c.successors.Remove(leavingID)
	if req.NewSucc != nil {
		if newSucc, err := transport.FromWirePeer(*req.NewSucc); err == nil {
			c.successors.Insert(newSucc)
			c.fingers.AdjustFingers(newSucc)
		}
	}
	return struct{}{}, nil
}

func (c *Core) handleGetSucc(payload json.RawMessage) (any, error) {
	var req transport.GetSuccRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	key, err := ringid.FromHex(req.Key)
	if err != nil {
		return nil, err
	}
	peer, err := c.GetSuccessor(context.Background(), key)
	if err != nil {
		return nil, err
	}
	return transport.ToPeerResponse(peer), nil
}

func (c *Core) handleGetPred(payload json.RawMessage) (any, error) {
	pred, ok := c.GetPredecessor()
	if !ok {
		return transport.ToPeerResponse(c.self), nil
	}
	return transport.ToPeerResponse(pred), nil
}

func (c *Core) handleRectify(payload json.RawMessage) (any, error) {
	var req transport.RectifyRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := c.Rectify(req); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (c *Core) handleNodeInfo(payload json.RawMessage) (any, error) {
	return c.Info(), nil
}
