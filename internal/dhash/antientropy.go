package dhash

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/merkle"
	"github.com/chordhash/chordhash/pkg/ringid"
)

func toWireMerkleNode(v merkle.NodeView[string]) transport.WireMerkleNode {
	w := transport.WireMerkleNode{
		Hash:     v.Hash.Hex(),
		MinKey:   v.MinKey.Hex(),
		MaxKey:   v.MaxKey.Hex(),
		Position: append([]int{}, v.Position...),
		IsLeaf:   v.IsLeaf,
	}
	for k, val := range v.Entries {
		w.Entries = append(w.Entries, transport.MerkleEntry{Key: k.Hex(), Value: val})
	}
	for _, c := range v.Children {
		w.Children = append(w.Children, toWireMerkleNode(c))
	}
	return w
}

func fromWireMerkleNode(w transport.WireMerkleNode) (merkle.NodeView[string], error) {
	hash, err := ringid.FromHex(w.Hash)
	if err != nil {
		return merkle.NodeView[string]{}, err
	}
	minKey, err := ringid.FromHex(w.MinKey)
	if err != nil {
		return merkle.NodeView[string]{}, err
	}
	maxKey, err := ringid.FromHex(w.MaxKey)
	if err != nil {
		return merkle.NodeView[string]{}, err
	}
	v := merkle.NodeView[string]{
		Hash: hash, MinKey: minKey, MaxKey: maxKey,
		Position: append(merkle.Position{}, w.Position...), IsLeaf: w.IsLeaf,
	}
	if w.IsLeaf {
		v.Entries = make(map[ringid.Key]string, len(w.Entries))
		for _, e := range w.Entries {
			k, err := ringid.FromHex(e.Key)
			if err != nil {
				continue
			}
			v.Entries[k] = e.Value
		}
	}
	for _, c := range w.Children {
		cv, err := fromWireMerkleNode(c)
		if err != nil {
			continue
		}
		v.Children = append(v.Children, cv)
	}
	return v, nil
}

// ExchangeNode sends local's serialization at its own position to peer and
// returns peer's node at that same position. lo and hi travel with the
// request, but the responder does not filter its node's entries by them.
func (s *Service) ExchangeNode(ctx context.Context, peer chordpeer.RemotePeer, local merkle.NodeView[string], lo, hi ringid.Key) (merkle.NodeView[string], error) {
	req := transport.XchngNodeRequest{
		Node:       toWireMerkleNode(local),
		Requester:  transport.ToWirePeer(s.core.Self()),
		LowerBound: lo.Hex(),
		UpperBound: hi.Hex(),
	}
	var resp transport.WireMerkleNode
	if err := s.client.SendRequest(ctx, peer, transport.CmdXchngNode, req, &resp); err != nil {
		return merkle.NodeView[string]{}, err
	}
	return fromWireMerkleNode(resp)
}

func (s *Service) handleXchngNode(payload json.RawMessage) (any, error) {
	var req transport.XchngNodeRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	view, ok := s.index.LookupByPosition(merkle.Position(req.Node.Position))
	if !ok {
		return nil, fmt.Errorf("dhash: no local merkle node at requested position")
	}
	return toWireMerkleNode(view), nil
}

// Synchronize reconciles local's tree against peer's over [lo, hi],
// recursing into children whose hashes differ and retrieving any key the
// remote leaf holds (within range) that the local tree lacks.
func (s *Service) Synchronize(ctx context.Context, peer chordpeer.RemotePeer, lo, hi ringid.Key) error {
	local, ok := s.index.LookupByPosition(nil)
	if !ok {
		return nil
	}
	return s.synchronizeAt(ctx, peer, local, lo, hi)
}

func (s *Service) synchronizeAt(ctx context.Context, peer chordpeer.RemotePeer, local merkle.NodeView[string], lo, hi ringid.Key) error {
	remote, err := s.ExchangeNode(ctx, peer, local, lo, hi)
	if err != nil {
		return err
	}
	if local.Hash.Equal(remote.Hash) {
		return nil
	}

	if !local.IsLeaf && !remote.IsLeaf {
		for i, localChild := range local.Children {
			if i >= len(remote.Children) {
				break
			}
			if localChild.Hash.Equal(remote.Children[i].Hash) {
				continue
			}
			childView, ok := s.index.LookupByPosition(localChild.Position)
			if !ok {
				continue
			}
			if err := s.synchronizeAt(ctx, peer, childView, lo, hi); err != nil {
				return err
			}
		}
		return nil
	}

	if remote.IsLeaf {
		for k := range remote.Entries {
			if !ringid.InBetween(k, lo, hi, true) {
				continue
			}
			if s.db.Contains(k) {
				continue
			}
			s.RetrieveMissing(ctx, k)
		}
		return nil
	}

	// local is a leaf but remote is internal: fetch the remote's entries in
	// our range directly and retrieve whichever keys we lack.
	entries, err := s.ReadRange(ctx, peer, lo, hi)
	if err != nil {
		return err
	}
	for k := range entries {
		if s.db.Contains(k) {
			continue
		}
		s.RetrieveMissing(ctx, k)
	}
	return nil
}

// RetrieveMissing performs a full replicated Read and inserts one randomly
// chosen fragment locally, healing the local replica count by one.
func (s *Service) RetrieveMissing(ctx context.Context, key ringid.Key) {
	data, err := s.Read(ctx, key)
	if err != nil {
		return
	}
	fragments, err := s.codec.Encode(data)
	if err != nil || len(fragments) == 0 {
		return
	}
	chosen := fragments[rand.Intn(len(fragments))]
	_ = s.storeLocal(key, chosen)
}

// RunGlobalMaintenance walks the ring starting at own id, and for every key
// this peer is not among the current replica set for, pushes it to the
// successors that still lack it, then drops the local copy.
func (s *Service) RunGlobalMaintenance(ctx context.Context, cancelled func() bool) {
	start := s.core.ID()
	key, ok := s.nextKey(start)
	if !ok {
		return
	}
	first := key

	for {
		if cancelled() {
			return
		}
		s.maintainKey(ctx, key)

		next, ok := s.nextKey(key)
		if !ok || next.Equal(first) {
			return
		}
		key = next
	}
}

func (s *Service) nextKey(after ringid.Key) (ringid.Key, bool) {
	next, _, ok := s.index.Next(after)
	return next, ok
}

func (s *Service) maintainKey(ctx context.Context, key ringid.Key) {
	replicas, err := s.nSuccessors(ctx, key, s.codec.N)
	if err != nil {
		return
	}
	selfReplica := false
	for _, r := range replicas {
		if r.ID.Equal(s.core.ID()) {
			selfReplica = true
			break
		}
	}
	if selfReplica {
		return
	}

	frag, err := s.db.Get(key)
	if err != nil {
		return
	}
	for _, r := range replicas {
		entries, err := s.ReadRange(ctx, r, key, key)
		if err != nil {
			continue
		}
		if _, has := entries[key]; has {
			continue
		}
		encoded, err := json.Marshal(frag)
		if err != nil {
			continue
		}
		_ = s.client.SendRequest(ctx, r, transport.CmdCreateKey, transport.CreateKeyRequest{Key: key.Hex(), Value: string(encoded)}, nil)
	}
	s.db.Delete(key)
	_ = s.index.Delete(key)
}

// RunLocalMaintenance synchronizes against every other entry in the
// successor list over [own_min_key, own_id].
func (s *Service) RunLocalMaintenance(ctx context.Context, successors []chordpeer.RemotePeer) {
	minKey, id := s.core.MinKey(), s.core.ID()
	for _, peer := range successors {
		if peer.ID.Equal(id) {
			continue
		}
		_ = s.Synchronize(ctx, peer, minKey, id)
	}
}

// RunMaintenanceCycle runs Stabilize (handled by chord.Core itself) plus
// this service's global and local anti-entropy passes, bailing out early if
// cancelled reports true between steps.
func (s *Service) RunMaintenanceCycle(ctx context.Context, cancelled func() bool) {
	if cancelled() {
		return
	}
	s.RunGlobalMaintenance(ctx, cancelled)
	if cancelled() {
		return
	}
	s.RunLocalMaintenance(ctx, s.core.Successors().Entries())
}
