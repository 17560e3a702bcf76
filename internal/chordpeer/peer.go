// Package chordpeer holds the ring's address-book types: the immutable
// RemotePeer handle, the bounded successor list, and the finger table.
// None of these issue RPCs themselves; they take an IsAlive probe as a
// parameter so they stay testable without a network.
package chordpeer

import (
	"fmt"

	"github.com/chordhash/chordhash/pkg/ringid"
)

// RemotePeer is an immutable descriptor for another peer on the ring.
// Two RemotePeers are equal iff every field matches; they order by ID.
type RemotePeer struct {
	ID      ringid.Key
	MinKey  ringid.Key
	Address string
	Port    int
}

// New builds a RemotePeer.
func New(id, minKey ringid.Key, address string, port int) RemotePeer {
	return RemotePeer{ID: id, MinKey: minKey, Address: address, Port: port}
}

// Equal reports whether two peers denote the same node and network endpoint.
func (p RemotePeer) Equal(other RemotePeer) bool {
	return p.ID.Equal(other.ID) && p.MinKey.Equal(other.MinKey) &&
		p.Address == other.Address && p.Port == other.Port
}

// SameNode reports whether two peers share the same ring ID, ignoring
// min_key and endpoint — used where only identity matters (e.g. dedup).
func (p RemotePeer) SameNode(other RemotePeer) bool {
	return p.ID.Equal(other.ID)
}

// IsZero reports whether p is the unset RemotePeer value.
func (p RemotePeer) IsZero() bool {
	return p.Address == "" && p.Port == 0 && p.ID.Equal(ringid.Zero()) && p.MinKey.Equal(ringid.Zero())
}

// Endpoint returns the "host:port" dial string.
func (p RemotePeer) Endpoint() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

func (p RemotePeer) String() string {
	return fmt.Sprintf("RemotePeer{id=%s min=%s addr=%s}", p.ID, p.MinKey, p.Endpoint())
}

// IsAliveFunc probes whether a peer is currently reachable. Supplied by the
// transport layer so chordpeer and chord core stay network-agnostic.
type IsAliveFunc func(RemotePeer) bool
