// Package dhash implements the replicated key/value service: every value is
// erasure-coded into N fragments via pkg/idacodec and scattered across the
// key's N successors, so any M of them suffice to reconstruct it. It shares
// chord.Core for routing with internal/kvstore, the non-replicated service.
package dhash

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chordhash/chordhash/internal/chord"
	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/storage"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/idacodec"
	"github.com/chordhash/chordhash/pkg/merkle"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// Service owns the local fragment table, the keyed Merkle index over it
// (used for anti-entropy), and the codec parameters this ring agreed on.
type Service struct {
	core   *chord.Core
	client *transport.Client
	codec  *idacodec.Codec

	numSuccessors int

	db    *storage.Store[idacodec.Fragment]
	index *merkle.Tree[string] // key -> fragment encoded as its wire-form JSON string
}

// New builds a Service using the (n, m, p) IDA parameters and numSuccessors
// as the GET_N_SUCCESSORS fan-out for both placement and read quorum.
func New(core *chord.Core, client *transport.Client, n, m int, p int64, numSuccessors int) (*Service, error) {
	codec, err := idacodec.New(n, m, p)
	if err != nil {
		return nil, err
	}
	return &Service{
		core:          core,
		client:        client,
		codec:         codec,
		numSuccessors: numSuccessors,
		db:            storage.New[idacodec.Fragment](),
		index:         merkle.New[string](),
	}, nil
}

// RegisterHandlers wires CREATE_KEY, READ_KEY, READ_RANGE and XCHNG_NODE.
func (s *Service) RegisterHandlers(srv *transport.Server) {
	srv.Handle(transport.CmdCreateKey, s.handleCreateKey)
	srv.Handle(transport.CmdReadKey, s.handleReadKey)
	srv.Handle(transport.CmdReadRange, s.handleReadRange)
	srv.Handle(transport.CmdXchngNode, s.handleXchngNode)
}

// Create encodes value into N fragments and scatters them across key's N
// successors, requiring at least M successful placements.
func (s *Service) Create(ctx context.Context, key ringid.Key, value []byte) error {
	fragments, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("dhash: %w: %v", chorderrors.ErrCodecFailure, err)
	}

	successors, err := s.nSuccessors(ctx, key, s.codec.N)
	if err != nil {
		return err
	}
	if len(successors) < s.codec.M {
		return fmt.Errorf("dhash: %w: need %d, have %d candidate peers", chorderrors.ErrInsufficientReplicas, s.codec.M, len(successors))
	}

	placed := 0
	for i, peer := range successors {
		if i >= len(fragments) {
			break
		}
		if err := s.placeFragment(ctx, peer, key, fragments[i]); err != nil {
			continue
		}
		placed++
	}
	if placed < s.codec.M {
		return fmt.Errorf("dhash: %w: placed %d of %d required", chorderrors.ErrInsufficientReplicas, placed, s.codec.M)
	}
	return nil
}

func (s *Service) placeFragment(ctx context.Context, peer chordpeer.RemotePeer, key ringid.Key, frag idacodec.Fragment) error {
	if peer.ID.Equal(s.core.ID()) {
		return s.storeLocal(key, frag)
	}
	encoded, err := json.Marshal(frag)
	if err != nil {
		return err
	}
	return s.client.SendRequest(ctx, peer, transport.CmdCreateKey, transport.CreateKeyRequest{Key: key.Hex(), Value: string(encoded)}, nil)
}

func (s *Service) storeLocal(key ringid.Key, frag idacodec.Fragment) error {
	if err := s.db.Create(key, frag); err != nil {
		return err
	}
	encoded, err := json.Marshal(frag)
	if err != nil {
		return err
	}
	_ = s.index.Insert(key, string(encoded))
	return nil
}

// Read collects fragments for key from up to numSuccessors candidate peers,
// stopping once M distinct fragments are gathered, and decodes them.
func (s *Service) Read(ctx context.Context, key ringid.Key) ([]byte, error) {
	candidates, err := s.nSuccessors(ctx, key, s.numSuccessors)
	if err != nil {
		return nil, err
	}

	var fragments []idacodec.Fragment
	seen := map[int]bool{}
	for _, peer := range candidates {
		frag, err := s.fetchFragment(ctx, peer, key)
		if err != nil {
			continue
		}
		if seen[frag.Index] {
			continue
		}
		seen[frag.Index] = true
		fragments = append(fragments, frag)
		if len(fragments) >= s.codec.M {
			break
		}
	}

	if len(fragments) < s.codec.M {
		return nil, fmt.Errorf("dhash: %w: have %d, need %d", chorderrors.ErrInsufficientFragments, len(fragments), s.codec.M)
	}
	data, err := s.codec.Decode(fragments)
	if err != nil {
		return nil, fmt.Errorf("dhash: %w: %v", chorderrors.ErrCodecFailure, err)
	}
	return data, nil
}

func (s *Service) fetchFragment(ctx context.Context, peer chordpeer.RemotePeer, key ringid.Key) (idacodec.Fragment, error) {
	if peer.ID.Equal(s.core.ID()) {
		return s.db.Get(key)
	}
	var resp transport.ReadKeyResponse
	if err := s.client.SendRequest(ctx, peer, transport.CmdReadKey, transport.ReadKeyRequest{Key: key.Hex()}, &resp); err != nil {
		return idacodec.Fragment{}, err
	}
	var frag idacodec.Fragment
	if err := json.Unmarshal([]byte(resp.Value), &frag); err != nil {
		return idacodec.Fragment{}, fmt.Errorf("%w: %v", chorderrors.ErrParse, err)
	}
	return frag, nil
}

// ReadRange fetches every (key, fragment) pair peer holds within [lo, hi].
func (s *Service) ReadRange(ctx context.Context, peer chordpeer.RemotePeer, lo, hi ringid.Key) (map[ringid.Key]idacodec.Fragment, error) {
	if peer.ID.Equal(s.core.ID()) {
		return s.db.InRange(lo.Prev(), hi), nil
	}
	var resp transport.ReadRangeResponse
	req := transport.ReadRangeRequest{LowerBound: lo.Hex(), UpperBound: hi.Hex()}
	if err := s.client.SendRequest(ctx, peer, transport.CmdReadRange, req, &resp); err != nil {
		return nil, err
	}
	out := make(map[ringid.Key]idacodec.Fragment, len(resp.KVPairs))
	for _, kv := range resp.KVPairs {
		k, err := ringid.FromHex(kv.Key)
		if err != nil {
			continue
		}
		var frag idacodec.Fragment
		if err := json.Unmarshal([]byte(kv.Value), &frag); err != nil {
			continue
		}
		out[k] = frag
	}
	return out, nil
}

// nSuccessors returns up to n candidate peers for key, starting with
// ForwardRequest's owner. When self owns key, the rest come from self's own
// successor list; otherwise they come from walking GET_SUCC(current.ID+1)
// one hop at a time from the owner, stopping on an RPC error or when the
// walk returns to the owner.
func (s *Service) nSuccessors(ctx context.Context, key ringid.Key, n int) ([]chordpeer.RemotePeer, error) {
	owner, err := s.core.ForwardRequest(ctx, key)
	if err != nil {
		return nil, err
	}
	result := []chordpeer.RemotePeer{owner}
	if owner.ID.Equal(s.core.ID()) {
		result = append(result, s.core.GetNSuccessors(n-1)...)
	} else {
		var resp transport.PeerResponse
		current := owner
		for len(result) < n {
			if err := s.client.SendRequest(ctx, current, transport.CmdGetSucc, transport.GetSuccRequest{Key: current.ID.Next().Hex()}, &resp); err != nil {
				break
			}
			next, err := transport.FromPeerResponse(resp)
			if err != nil || next.ID.Equal(owner.ID) {
				break
			}
			result = append(result, next)
			current = next
		}
	}
	if len(result) > n {
		result = result[:n]
	}
	return result, nil
}

func (s *Service) handleCreateKey(payload json.RawMessage) (any, error) {
	var req transport.CreateKeyRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	key, err := ringid.FromHex(req.Key)
	if err != nil {
		return nil, err
	}
	var frag idacodec.Fragment
	if err := json.Unmarshal([]byte(req.Value), &frag); err != nil {
		return nil, fmt.Errorf("%w: %v", chorderrors.ErrParse, err)
	}
	if err := s.storeLocal(key, frag); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Service) handleReadKey(payload json.RawMessage) (any, error) {
	var req transport.ReadKeyRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	key, err := ringid.FromHex(req.Key)
	if err != nil {
		return nil, err
	}
	frag, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(frag)
	if err != nil {
		return nil, err
	}
	return transport.ReadKeyResponse{Value: string(encoded)}, nil
}

func (s *Service) handleReadRange(payload json.RawMessage) (any, error) {
	var req transport.ReadRangeRequest
	if err := transport.DecodePayload(payload, &req); err != nil {
		return nil, err
	}
	lo, err := ringid.FromHex(req.LowerBound)
	if err != nil {
		return nil, err
	}
	hi, err := ringid.FromHex(req.UpperBound)
	if err != nil {
		return nil, err
	}
	entries := s.db.InRange(lo.Prev(), hi)
	pairs := make([]transport.KVPair, 0, len(entries))
	for k, frag := range entries {
		encoded, err := json.Marshal(frag)
		if err != nil {
			continue
		}
		pairs = append(pairs, transport.KVPair{Key: k.Hex(), Value: string(encoded)})
	}
	return transport.ReadRangeResponse{KVPairs: pairs}, nil
}

// Policy returns the chord.ReplicationPolicy backed by this fragment store:
// replication already covers a transferred range, so no keys ever move on
// notify, and a predecessor failure needs no local absorption either.
func (s *Service) Policy() chord.ReplicationPolicy { return (*replicatedPolicy)(s) }

type replicatedPolicy Service

func (p *replicatedPolicy) TransferRange(lo, hi ringid.Key) map[ringid.Key]string { return nil }

func (p *replicatedPolicy) Absorb(entries map[ringid.Key]string) {}

func (p *replicatedPolicy) OnPredecessorFailure(old chordpeer.RemotePeer) {}
