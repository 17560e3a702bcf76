// Package chord implements the ring's join/leave/notify/stabilize/rectify
// protocol: the shared core that both the single-successor and replicated
// key/value services sit on top of.
package chord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/config"
	"github.com/chordhash/chordhash/internal/ringevents"
	"github.com/chordhash/chordhash/internal/telemetry"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// State is the peer's position in the join/leave lifecycle.
type State int

const (
	Bootstrap State = iota
	InRing
	Leaving
)

func (s State) String() string {
	switch s {
	case Bootstrap:
		return "bootstrap"
	case InRing:
		return "in_ring"
	case Leaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// ReplicationPolicy is the capability set that distinguishes the
// single-successor store from the replicated fragment store. Values are
// carried as opaque strings (the fragment store JSON-encodes its Fragment
// wire form); chord core never interprets them.
type ReplicationPolicy interface {
	// TransferRange removes and returns every local entry whose key lies
	// in (lo, hi], for handoff to a new predecessor. The replicated
	// policy returns an empty map: replication already covers the range.
	TransferRange(lo, hi ringid.Key) map[ringid.Key]string

	// Absorb inserts entries received from a peer that is leaving or
	// handing off part of its range.
	Absorb(entries map[ringid.Key]string)

	// OnPredecessorFailure is called when Stabilize detects the current
	// predecessor is unreachable, before Rectify runs.
	OnPredecessorFailure(old chordpeer.RemotePeer)
}

// Core is the shared Chord protocol engine. It owns ring state (id, min_key,
// predecessor, successor list, finger table) and the maintenance loop; the
// key-value semantics live in the ReplicationPolicy and the kvstore/dhash
// packages built on top of it.
type Core struct {
	id   ringid.Key
	self chordpeer.RemotePeer

	cfg    *config.Config
	client *transport.Client
	log    *telemetry.Logger
	events ringevents.Broadcaster
	policy ReplicationPolicy

	stateMu sync.RWMutex
	state   State

	predMu sync.RWMutex
	pred   chordpeer.RemotePeer
	hasPred bool
	minKey  ringid.Key

	successors *chordpeer.SuccessorList
	fingers    *chordpeer.FingerTable

	lastNotifiedMu sync.Mutex
	lastNotified   chordpeer.RemotePeer
	hasLastNotified bool

	maintCtx    context.Context
	maintCancel context.CancelFunc
	maintWG     sync.WaitGroup

	extraMaintenance func(ctx context.Context, cancelled func() bool)
}

// SetExtraMaintenance registers a hook run after Stabilize on every
// maintenance tick, receiving a cancelled func that reports true once
// shutdown has begun. The dhash service uses this to interleave
// RunGlobalMaintenance/RunLocalMaintenance into the same tick as Stabilize,
// matching the single combined maintenance loop; a peer running only the
// single-successor store never sets one.
func (c *Core) SetExtraMaintenance(fn func(ctx context.Context, cancelled func() bool)) {
	c.extraMaintenance = fn
}

// SetPolicy binds the replication policy after construction, for callers
// that must build the policy's owning service (kvstore.Service,
// dhash.Service) against an already-constructed Core. Must be called
// before StartChord/Join.
func (c *Core) SetPolicy(policy ReplicationPolicy) {
	c.policy = policy
}

// New builds a Core bound to (cfg.Host, cfg.Port), deriving its ring id from
// the address. The policy must be supplied before StartChord/Join is called.
func New(cfg *config.Config, client *transport.Client, log *telemetry.Logger, events ringevents.Broadcaster, policy ReplicationPolicy) *Core {
	id := ringid.Hash(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	self := chordpeer.New(id, id.Next(), cfg.Host, cfg.Port)

	if log == nil {
		log = telemetry.L()
	}

	return &Core{
		id:         id,
		self:       self,
		cfg:        cfg,
		client:     client,
		log:        log,
		events:     events,
		policy:     policy,
		minKey:     id.Next(),
		successors: chordpeer.NewSuccessorList(id, cfg.NumSuccessors),
		fingers:    chordpeer.NewFingerTable(id),
	}
}

// ID returns the peer's own ring identifier.
func (c *Core) ID() ringid.Key { return c.id }

// Self returns the peer's own RemotePeer descriptor.
func (c *Core) Self() chordpeer.RemotePeer { return c.self }

// State returns the current lifecycle state.
func (c *Core) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Core) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// MinKey returns the lower bound of the peer's currently owned arc.
func (c *Core) MinKey() ringid.Key {
	c.predMu.RLock()
	defer c.predMu.RUnlock()
	return c.minKey
}

func (c *Core) setMinKey(k ringid.Key) {
	c.predMu.Lock()
	c.minKey = k
	c.predMu.Unlock()
}

// Predecessor returns the current predecessor, if set.
func (c *Core) Predecessor() (chordpeer.RemotePeer, bool) {
	c.predMu.RLock()
	defer c.predMu.RUnlock()
	return c.pred, c.hasPred
}

func (c *Core) setPredecessor(p chordpeer.RemotePeer) {
	c.predMu.Lock()
	c.pred = p
	c.hasPred = true
	c.predMu.Unlock()
}

func (c *Core) clearPredecessor() {
	c.predMu.Lock()
	c.pred = chordpeer.RemotePeer{}
	c.hasPred = false
	c.predMu.Unlock()
}

// Successors exposes the successor list for the services built on Core.
func (c *Core) Successors() *chordpeer.SuccessorList { return c.successors }

// Fingers exposes the finger table for the services built on Core.
func (c *Core) Fingers() *chordpeer.FingerTable { return c.fingers }

func (c *Core) alive(p chordpeer.RemotePeer) bool { return c.client.IsAlive(p) }

// Info returns a point-in-time dump of ring state, for the ring-inspection
// command.
func (c *Core) Info() transport.NodeInfoResponse {
	resp := transport.NodeInfoResponse{
		Self:   transport.ToWirePeer(c.self),
		MinKey: c.MinKey().Hex(),
		State:  c.State().String(),
	}
	if pred, ok := c.Predecessor(); ok {
		wire := transport.ToWirePeer(pred)
		resp.Predecessor = &wire
	}
	for _, s := range c.successors.Entries() {
		resp.Successors = append(resp.Successors, transport.ToWirePeer(s))
	}
	for i := 0; i < c.fingers.Len(); i++ {
		entry, ok := c.fingers.GetNth(i)
		if !ok || entry.Peer.IsZero() {
			continue
		}
		resp.Fingers = append(resp.Fingers, transport.ToWirePeer(entry.Peer))
	}
	return resp
}

// OwnsLocally reports whether key falls within (min_key-1, id], i.e. this
// peer is the authoritative owner. A peer whose predecessor is itself is
// the ring's only member and owns every key; that case can't be expressed
// as a (min_key-1, id] arc since a degenerate lo==hi arc denotes a single
// point, not the full ring.
func (c *Core) OwnsLocally(key ringid.Key) bool {
	if pred, hasPred := c.Predecessor(); !hasPred || pred.ID.Equal(c.id) {
		return true
	}
	return ringid.InBetweenExclLo(key, c.MinKey().Prev(), c.id)
}

// StartChord bootstraps a brand-new, single-peer ring: predecessor is self,
// the entire keyspace is owned locally, and the maintenance loop begins.
func (c *Core) StartChord() {
	c.setMinKey(c.id.Next())
	c.setPredecessor(c.self)
	c.setState(InRing)
	c.startMaintenance()
	c.log.Logger.Info().Str("id", c.id.String()).Msg("chord: started new ring")
}

// Join contacts gateway, learns its predecessor, and begins participating
// in the existing ring.
func (c *Core) Join(ctx context.Context, gateway chordpeer.RemotePeer) error {
	var resp transport.JoinResponse
	if err := c.client.SendRequest(ctx, gateway, transport.CmdJoin, transport.JoinRequest{NewPeer: transport.ToWirePeer(c.self)}, &resp); err != nil {
		return fmt.Errorf("chord: join via %s: %w", gateway.Endpoint(), err)
	}

	pred, err := transport.FromWirePeer(resp.Predecessor)
	if err != nil {
		return fmt.Errorf("%w: %v", chorderrors.ErrParse, err)
	}

	c.setPredecessor(pred)
	c.setMinKey(pred.ID.Next())

	c.populateFingersInitial(ctx, gateway)

	successor, err := c.fingers.Lookup(c.id.Next())
	if err == nil {
		c.notify(ctx, successor)
	}

	if c.cfg.NumSuccessors > 10 {
		c.populateSuccessorsViaPredecessors(ctx, gateway)
	}

	c.setState(InRing)
	c.startMaintenance()

	c.FixOtherFingers(ctx, c.id)

	if c.events != nil {
		c.events.BroadcastRingUpdate(ringevents.RingUpdateEvent{
			Type: ringevents.EventNodeJoin, NodeID: c.id.String(), Message: "joined ring via " + gateway.Endpoint(),
		})
	}
	return nil
}

func (c *Core) populateFingersInitial(ctx context.Context, gateway chordpeer.RemotePeer) {
	for i := 0; i < c.fingers.Len(); i++ {
		start := c.id.AddPowerOfTwo(i)
		var resp transport.PeerResponse
		if err := c.client.SendRequest(ctx, gateway, transport.CmdGetSucc, transport.GetSuccRequest{Key: start.Hex()}, &resp); err != nil {
			continue
		}
		peer, err := transport.FromPeerResponse(resp)
		if err != nil {
			continue
		}
		c.fingers.AddFinger(i, peer)
	}
}

func (c *Core) populateSuccessorsViaPredecessors(ctx context.Context, gateway chordpeer.RemotePeer) {
	peers, err := c.GetNPredecessors(ctx, gateway, c.cfg.NumSuccessors)
	if err != nil {
		return
	}
	for _, p := range peers {
		c.successors.Insert(p)
		c.notify(ctx, p)
	}
}

// Leave departs the ring gracefully: successors and predecessors are told
// who to wire in next, and local entries in the handed-off range are
// transferred. It always finishes with Fail, even if the handoff failed.
func (c *Core) Leave(ctx context.Context) {
	c.setState(Leaving)

	pred, hasPred := c.Predecessor()
	transferred := map[ringid.Key]string{}
	if hasPred {
		transferred = c.policy.TransferRange(pred.MinKey.Prev(), c.id)
	}

	keysWire := make(map[string]string, len(transferred))
	for k, v := range transferred {
		keysWire[k.Hex()] = v
	}

	successor, hasSucc := c.successors.First()

	req := transport.LeaveRequest{
		LeavingID:    c.id.Hex(),
		NewMin:       c.MinKey().Hex(),
		KeysToAbsorb: keysWire,
	}
	if hasPred {
		req.NewPred = transport.ToWirePeer(pred)
	}
	if hasSucc {
		wire := transport.ToWirePeer(successor)
		req.NewSucc = &wire
	}

	recipients := c.successors.Entries()
	if hasPred {
		recipients = append(recipients, pred)
	}
	for _, r := range recipients {
		_ = c.client.SendRequest(ctx, r, transport.CmdLeave, req, nil)
	}

	if c.events != nil {
		c.events.BroadcastRingUpdate(ringevents.RingUpdateEvent{
			Type: ringevents.EventNodeLeave, NodeID: c.id.String(), Message: "left ring gracefully",
		})
	}

	c.Fail()
}

// Fail stops the maintenance loop abruptly, without any handoff.
func (c *Core) Fail() {
	c.stopMaintenance()
	c.setState(Leaving)
}

func (c *Core) notify(ctx context.Context, peer chordpeer.RemotePeer) {
	if peer.ID.Equal(c.id) {
		return
	}
	var resp transport.NotifyResponse
	_ = c.client.SendRequest(ctx, peer, transport.CmdNotify, transport.NotifyRequest{NewPeer: transport.ToWirePeer(c.self)}, &resp)

	if len(resp.KeysToAbsorb) > 0 {
		entries := make(map[ringid.Key]string, len(resp.KeysToAbsorb))
		for hex, v := range resp.KeysToAbsorb {
			k, err := ringid.FromHex(hex)
			if err != nil {
				continue
			}
			entries[k] = v
		}
		c.policy.Absorb(entries)
	}
}

func (c *Core) startMaintenance() {
	c.maintCtx, c.maintCancel = context.WithCancel(context.Background())
	c.maintWG.Add(1)
	go c.maintenanceLoop()
}

func (c *Core) stopMaintenance() {
	if c.maintCancel != nil {
		c.maintCancel()
	}
	c.maintWG.Wait()
}

const cancelCheckGranularity = 10 * time.Millisecond

func (c *Core) maintenanceLoop() {
	defer c.maintWG.Done()
	ticker := time.NewTicker(c.cfg.StabilizeInterval)
	defer ticker.Stop()

	for {
		if c.waitOrCancelled(ticker) {
			return
		}
		c.runMaintenanceCycle()
	}
}

// waitOrCancelled blocks until the next tick or cancellation, checking the
// cancel signal at cancelCheckGranularity so shutdown is prompt even while
// "waiting" for the next long stabilize interval.
func (c *Core) waitOrCancelled(ticker *time.Ticker) bool {
	deadlineCheck := time.NewTicker(cancelCheckGranularity)
	defer deadlineCheck.Stop()
	for {
		select {
		case <-c.maintCtx.Done():
			return true
		case <-ticker.C:
			return false
		case <-deadlineCheck.C:
			select {
			case <-c.maintCtx.Done():
				return true
			default:
			}
		}
	}
}

func (c *Core) runMaintenanceCycle() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Logger.Error().Interface("panic", r).Msg("chord: maintenance cycle panicked, resuming next tick")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StabilizeInterval)
	defer cancel()
	c.Stabilize(ctx)

	if c.extraMaintenance != nil {
		c.extraMaintenance(ctx, func() bool {
			select {
			case <-c.maintCtx.Done():
				return true
			default:
				return false
			}
		})
	}
}
