package chordpeer

import (
	"sync"

	"github.com/chordhash/chordhash/pkg/ringid"
)

// SuccessorList is a ring-ordered, capacity-bounded list of RemotePeer,
// sorted clockwise starting just after an anchor key (the owning peer's own
// ID). Entries never repeat an ID; the list never exceeds its capacity.
type SuccessorList struct {
	mu       sync.RWMutex
	starting ringid.Key
	capacity int
	entries  []RemotePeer
}

// NewSuccessorList returns an empty list anchored at startingKey.
func NewSuccessorList(startingKey ringid.Key, capacity int) *SuccessorList {
	return &SuccessorList{starting: startingKey, capacity: capacity}
}

// SetStartingKey updates the anchor, used when a peer's own ID effectively
// changes role (it does not, in this design, but min_key shifts do reorder
// "just after" semantics indirectly through InBetweenExclLo comparisons).
func (l *SuccessorList) SetStartingKey(k ringid.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starting = k
}

// Insert adds peer in clockwise order relative to the anchor. It returns
// false without modifying the list if peer's ID is already present. If the
// insertion would exceed capacity, the last entry is dropped.
func (l *SuccessorList) Insert(peer RemotePeer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.ID.Equal(peer.ID) {
			return false
		}
	}

	pos := len(l.entries)
	prev := l.starting
	for i, e := range l.entries {
		if ringid.InBetweenExclLo(peer.ID, prev, e.ID) {
			pos = i
			break
		}
		prev = e.ID
	}

	l.entries = append(l.entries, RemotePeer{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = peer

	if len(l.entries) > l.capacity {
		l.entries = l.entries[:l.capacity]
	}
	return true
}

// Remove deletes the entry with the given ID, if present.
func (l *SuccessorList) Remove(id ringid.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.ID.Equal(id) {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// DropLeadingDead removes entries from the front of the list for which
// alive reports false, stopping at the first live entry.
func (l *SuccessorList) DropLeadingDead(alive IsAliveFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for i < len(l.entries) && !alive(l.entries[i]) {
		i++
	}
	l.entries = l.entries[i:]
}

// Lookup returns the first entry whose predecessor-bounded arc contains
// key: for entry i at index i, the arc is (prev.ID, entry.ID] where prev is
// the previous entry or the anchor.
func (l *SuccessorList) Lookup(key ringid.Key) (RemotePeer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := l.starting
	for _, e := range l.entries {
		if ringid.InBetweenExclLo(key, prev, e.ID) {
			return e, true
		}
		prev = e.ID
	}
	return RemotePeer{}, false
}

// LookupLiving behaves like Lookup but skips entries alive reports dead for.
func (l *SuccessorList) LookupLiving(key ringid.Key, alive IsAliveFunc) (RemotePeer, bool) {
	l.mu.RLock()
	entries := append([]RemotePeer{}, l.entries...)
	starting := l.starting
	l.mu.RUnlock()

	prev := starting
	found := false
	for _, e := range entries {
		if !found && ringid.InBetweenExclLo(key, prev, e.ID) {
			found = true
		}
		if found && alive(e) {
			return e, true
		}
		prev = e.ID
	}
	return RemotePeer{}, false
}

// First returns the first (immediate successor) entry, if any.
func (l *SuccessorList) First() (RemotePeer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return RemotePeer{}, false
	}
	return l.entries[0], true
}

// FirstLiving returns the first entry alive reports live for.
func (l *SuccessorList) FirstLiving(alive IsAliveFunc) (RemotePeer, bool) {
	l.mu.RLock()
	entries := append([]RemotePeer{}, l.entries...)
	l.mu.RUnlock()
	for _, e := range entries {
		if alive(e) {
			return e, true
		}
	}
	return RemotePeer{}, false
}

// Entries returns a snapshot copy of the list, in clockwise order.
func (l *SuccessorList) Entries() []RemotePeer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]RemotePeer{}, l.entries...)
}

// Len returns the current number of entries.
func (l *SuccessorList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Empty reports whether the list holds no entries.
func (l *SuccessorList) Empty() bool {
	return l.Len() == 0
}

// Contains reports whether id is present.
func (l *SuccessorList) Contains(id ringid.Key) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.ID.Equal(id) {
			return true
		}
	}
	return false
}
