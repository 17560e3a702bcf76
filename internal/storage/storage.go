// Package storage implements the local key-value tables chord peers keep:
// a generic, ring-keyed, thread-safe map with running hit/miss counters.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// Store is a thread-safe map from ring keys to arbitrary values, used both
// by kvstore (V = string) and dhash (V = idacodec.Fragment).
type Store[V any] struct {
	mu   sync.RWMutex
	data map[ringid.Key]V

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// New returns an empty Store.
func New[V any]() *Store[V] {
	return &Store[V]{data: make(map[ringid.Key]V)}
}

// Get retrieves the value stored under key.
func (s *Store[V]) Get(key ringid.Key) (V, error) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		var zero V
		return zero, chorderrors.ErrNotFound
	}
	s.hits.Add(1)
	return v, nil
}

// Set stores value under key, overwriting any existing entry.
func (s *Store[V]) Set(key ringid.Key, value V) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	s.sets.Add(1)
}

// Create stores value under key, failing with ErrDuplicateKey if already present.
func (s *Store[V]) Create(key ringid.Key, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return chorderrors.ErrDuplicateKey
	}
	s.data[key] = value
	s.sets.Add(1)
	return nil
}

// Delete removes key. No error is returned if the key is absent.
func (s *Store[V]) Delete(key ringid.Key) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	s.deletes.Add(1)
}

// Contains reports whether key is present.
func (s *Store[V]) Contains(key ringid.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Keys returns every key currently stored, unordered.
func (s *Store[V]) Keys() []ringid.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]ringid.Key, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// InRange returns every key/value pair whose key lies on the clockwise arc
// (lo, hi], the form the chord core uses to hand off a range of keys on a
// join or leave.
func (s *Store[V]) InRange(lo, hi ringid.Key) map[ringid.Key]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[ringid.Key]V)
	for k, v := range s.data {
		if ringid.InBetweenExclLo(k, lo, hi) {
			result[k] = v
		}
	}
	return result
}

// Len returns the number of stored entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Stats reports running counters for observability.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
}

// Stats returns a snapshot of the store's running counters.
func (s *Store[V]) Stats() Stats {
	s.mu.RLock()
	entries := len(s.data)
	s.mu.RUnlock()

	return Stats{
		Entries: entries,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Deletes: s.deletes.Load(),
	}
}
