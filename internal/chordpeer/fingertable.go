package chordpeer

import (
	"sync"

	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// FingerEntry is one row of the finger table: the lower bound of the range
// it covers, and the best-known successor of that bound.
type FingerEntry struct {
	Start ringid.Key
	Peer  RemotePeer
	set   bool
}

// FingerTable is the log-scale routing table of M = ringid.Bits entries.
// Entry i covers [(own+2^i) mod R, (own+2^(i+1)-1) mod R].
type FingerTable struct {
	mu      sync.RWMutex
	ownID   ringid.Key
	entries []FingerEntry
}

// NewFingerTable returns a table with every start precomputed but no peer
// assigned yet.
func NewFingerTable(ownID ringid.Key) *FingerTable {
	entries := make([]FingerEntry, ringid.Bits)
	for i := range entries {
		entries[i] = FingerEntry{Start: ownID.AddPowerOfTwo(i)}
	}
	return &FingerTable{ownID: ownID, entries: entries}
}

// Len returns the number of rows (== ringid.Bits).
func (t *FingerTable) Len() int { return len(t.entries) }

// GetNth returns row i.
func (t *FingerTable) GetNth(i int) (FingerEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.entries) {
		return FingerEntry{}, false
	}
	return t.entries[i], true
}

// EditNth overwrites row i's peer.
func (t *FingerTable) EditNth(i int, peer RemotePeer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.entries) {
		return
	}
	t.entries[i].Peer = peer
	t.entries[i].set = true
}

// AddFinger sets row i's peer, identical to EditNth; kept as a distinct name
// because callers reach for "add" during initial population and "edit"
// during incremental rebuilds.
func (t *FingerTable) AddFinger(i int, peer RemotePeer) { t.EditNth(i, peer) }

// Empty reports whether no row has ever been populated.
func (t *FingerTable) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.set {
			return false
		}
	}
	return true
}

// Lookup scans the table for the entry whose range contains key and returns
// its recorded peer. Fails with ErrNoRoute if no row is populated.
func (t *FingerTable) Lookup(key ringid.Key) (RemotePeer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if !e.set {
			continue
		}
		hi := t.entries[i].Start
		if i+1 < len(t.entries) {
			hi = t.entries[i+1].Start.Prev()
		} else {
			hi = t.ownID.Prev()
		}
		if ringid.InBetween(key, e.Start, hi, true) {
			return e.Peer, nil
		}
	}

	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].set {
			return t.entries[i].Peer, nil
		}
	}
	return RemotePeer{}, chorderrors.ErrNoRoute
}

// AdjustFingers replaces the successor recorded in every row whose lower
// bound lies clockwise within [newPeer.MinKey, newPeer.ID] with newPeer.
func (t *FingerTable) AdjustFingers(newPeer RemotePeer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if ringid.InBetween(t.entries[i].Start, newPeer.MinKey, newPeer.ID, true) {
			t.entries[i].Peer = newPeer
			t.entries[i].set = true
		}
	}
}

// ReplaceDeadPeer swaps every row currently pointing at dead for replacement.
func (t *FingerTable) ReplaceDeadPeer(dead, replacement RemotePeer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].set && t.entries[i].Peer.ID.Equal(dead.ID) {
			t.entries[i].Peer = replacement
		}
	}
}

// Snapshot returns a copy of all rows, for diagnostics.
func (t *FingerTable) Snapshot() []FingerEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]FingerEntry{}, t.entries...)
}
