// Package kvstore implements the single-successor key/value service: every
// key lives on exactly one peer, its immediate owner on the ring, with no
// replication. It is the plain counterpart to internal/dhash's erasure-coded
// service, sharing the same chord.Core for routing.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chordhash/chordhash/internal/chord"
	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/storage"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// Service owns the local flat string table and the RPC calls needed to
// route a create/read to whichever peer actually owns the key.
type Service struct {
	core  *chord.Core
	db    *storage.Store[string]
	client *transport.Client
}

// New builds a Service bound to core, using client for outbound creates/reads.
func New(core *chord.Core, client *transport.Client) *Service {
	return &Service{core: core, db: storage.New[string](), client: client}
}

// RegisterHandlers wires CREATE_KEY and READ_KEY onto srv.
func (s *Service) RegisterHandlers(srv *transport.Server) {
	srv.Handle(transport.CmdCreateKey, s.handleCreateKey)
	srv.Handle(transport.CmdReadKey, s.handleReadKey)
}

// Create hashes unhashed into a ring key and stores value under it, routing
// to the owning peer if that isn't self.
func (s *Service) Create(ctx context.Context, unhashed, value string) error {
	return s.CreateKey(ctx, ringid.Hash(unhashed), value)
}

// CreateKey stores value under key, routing to its owner if necessary.
func (s *Service) CreateKey(ctx context.Context, key ringid.Key, value string) error {
	if s.core.OwnsLocally(key) {
		return s.db.Create(key, value)
	}
	owner, err := s.core.ForwardRequest(ctx, key)
	if err != nil {
		return fmt.Errorf("kvstore: routing create for %s: %w", key, err)
	}
	return s.client.SendRequest(ctx, owner, transport.CmdCreateKey, transport.CreateKeyRequest{Key: key.Hex(), Value: value}, nil)
}

// Read hashes unhashed into a ring key and fetches its value, routing to the
// owning peer if that isn't self.
func (s *Service) Read(ctx context.Context, unhashed string) (string, error) {
	return s.ReadKey(ctx, ringid.Hash(unhashed))
}

// ReadKey fetches the value stored under key, routing if necessary.
func (s *Service) ReadKey(ctx context.Context, key ringid.Key) (string, error) {
	if s.core.OwnsLocally(key) {
		return s.db.Get(key)
	}
	owner, err := s.core.ForwardRequest(ctx, key)
	if err != nil {
		return "", fmt.Errorf("kvstore: routing read for %s: %w", key, err)
	}
	var resp transport.ReadKeyResponse
	if err := s.client.SendRequest(ctx, owner, transport.CmdReadKey, transport.ReadKeyRequest{Key: key.Hex()}, &resp); err != nil {
		return "", err
	}
	return resp.Value, nil
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
	if !s.core.OwnsLocally(key) {
		return nil, fmt.Errorf("kvstore: %w", chorderrors.ErrOutOfRange)
	}
	if err := s.db.Create(key, req.Value); err != nil {
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
	v, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	return transport.ReadKeyResponse{Value: v}, nil
}

// Policy returns the chord.ReplicationPolicy implementation backed by this
// service's database: a plain peer transfers its raw key/value pairs on
// notify and on predecessor failure absorbs nothing extra (the range is
// simply unreachable until a new predecessor claims it through Notify).
func (s *Service) Policy() chord.ReplicationPolicy { return (*plainPolicy)(s) }

type plainPolicy Service

// TransferRange removes and returns every local entry in (lo, hi].
func (p *plainPolicy) TransferRange(lo, hi ringid.Key) map[ringid.Key]string {
	out := p.db.InRange(lo, hi)
	for k := range out {
		p.db.Delete(k)
	}
	return out
}

// Absorb inserts entries received from a peer handing off or leaving.
func (p *plainPolicy) Absorb(entries map[ringid.Key]string) {
	for k, v := range entries {
		p.db.Set(k, v)
	}
}

// OnPredecessorFailure is a no-op: without replication, a dead predecessor's
// keys are simply gone until rediscovered via a future Notify/transfer.
func (p *plainPolicy) OnPredecessorFailure(old chordpeer.RemotePeer) {}
