// Package merkle implements the B-ary, keyed, hash-aggregating Merkle tree
// used as the anti-entropy index for synchronizing replicas; dhash keeps
// the fragments themselves in a separate storage.Store.
package merkle

import (
	"errors"
	"math/big"
	"math/bits"
	"sort"
	"sync"

	"github.com/chordhash/chordhash/pkg/ringid"
)

// B is the branching factor: a leaf exceeding LeafCap entries splits into B
// equal-range children.
const B = 8

// LeafCap is the maximum number of entries a leaf may hold before splitting.
const LeafCap = B

var logB = bits.Len(uint(B)) - 1 // log2(B), used for positional child selection.

var (
	// ErrNotFound is returned by Lookup/Update/Delete when the key is absent.
	ErrNotFound = errors.New("merkle: key not found")
	// ErrDuplicateKey is returned by Insert when the key already exists.
	ErrDuplicateKey = errors.New("merkle: key already exists")
)

// Tree is a keyed Merkle tree over the ring keyspace [lo, hi]. The zero
// value is not usable; construct with New.
type Tree[V any] struct {
	mu   sync.RWMutex
	root *node[V]
}

type node[V any] struct {
	minKey, maxKey ringid.Key
	hash           ringid.Key
	position       []int

	children []*node[V] // nil at leaves
	entries  map[ringid.Key]V

	largestKey    ringid.Key
	hasLargestKey bool
}

// New constructs a Tree covering the entire ring [0, Max].
func New[V any]() *Tree[V] {
	return &Tree[V]{root: newNode[V](ringid.Zero(), ringid.Max(), nil)}
}

func newNode[V any](lo, hi ringid.Key, position []int) *node[V] {
	return &node[V]{
		minKey:   lo,
		maxKey:   hi,
		hash:     ringid.Zero(),
		position: append([]int{}, position...),
		entries:  make(map[ringid.Key]V),
	}
}

func (n *node[V]) isLeaf() bool { return n.children == nil }

var (
	bigB    = big.NewInt(int64(B))
	bigMask = big.NewInt(int64(B - 1))
)

// childIndex implements the fixed bit-shift child selector:
// child_index = (key >> shift) & (B-1), shift = ring_bit_width -
// log2(B)*(depth+1). Keys outside [minKey, maxKey] clamp to the first/last
// child.
func (n *node[V]) childIndex(key ringid.Key) int {
	if !ringid.InBetween(key, n.minKey, n.maxKey, true) {
		if key.Less(n.minKey) {
			return 0
		}
		return B - 1
	}
	depth := len(n.position)
	shift := uint(ringid.Bits - logB*(depth+1))
	shifted := new(big.Int).Rsh(key.BigInt(), shift)
	shifted.And(shifted, bigMask)
	idx := int(shifted.Int64())
	if idx >= B {
		idx = B - 1
	}
	return idx
}

// Insert adds key->value, failing with ErrDuplicateKey if key is present.
func (t *Tree[V]) Insert(key ringid.Key, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.root.insert(key, value); err != nil {
		return err
	}
	t.root.rehash()
	return nil
}

func (n *node[V]) insert(key ringid.Key, value V) error {
	if n.updateLargest(key); n.isLeaf() {
		if _, exists := n.entries[key]; exists {
			return ErrDuplicateKey
		}
		n.entries[key] = value
		if len(n.entries) > LeafCap {
			n.split()
		}
		n.rehash()
		return nil
	}

	child := n.children[n.childIndex(key)]
	if err := child.insert(key, value); err != nil {
		return err
	}
	n.rehash()
	return nil
}

func (n *node[V]) updateLargest(key ringid.Key) {
	if !n.hasLargestKey || n.largestKey.Less(key) {
		n.largestKey = key
		n.hasLargestKey = true
	}
}

// split converts a leaf into B internal children covering equal sub-ranges,
// redistributing its entries among them.
func (n *node[V]) split() {
	entries := n.entries
	n.entries = nil

	span := new(big.Int).Sub(n.maxKey.BigInt(), n.minKey.BigInt())
	step := new(big.Int).Div(span, bigB)

	children := make([]*node[V], B)
	last := n.minKey
	for i := 0; i < B; i++ {
		var upper ringid.Key
		if i == B-1 {
			upper = n.maxKey
		} else {
			ub := new(big.Int).Add(last.BigInt(), step)
			upper = ringid.FromBigInt(ub)
		}
		childPos := append(append([]int{}, n.position...), i)
		children[i] = newNode[V](last, upper, childPos)
		last = upper
	}

	n.children = children
	for key, value := range entries {
		c := n.children[n.childIndex(key)]
		c.entries[key] = value
		c.updateLargest(key)
	}
	for _, c := range n.children {
		c.rehash()
	}
}

// rehash recomputes this node's hash from its own entries/children only.
func (n *node[V]) rehash() {
	if n.isLeaf() {
		if len(n.entries) == 0 {
			n.hash = ringid.Zero()
			return
		}
		keys := make([]ringid.Key, 0, len(n.entries))
		for k := range n.entries {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
		var concatenated string
		for _, k := range keys {
			concatenated += k.Hex()
		}
		n.hash = ringid.Hash(concatenated)
		return
	}

	allZero := true
	var concatenated string
	for _, c := range n.children {
		if !c.hash.Equal(ringid.Zero()) {
			allZero = false
		}
		concatenated += c.hash.Hex()
	}
	if allZero {
		n.hash = ringid.Zero()
		return
	}
	n.hash = ringid.Hash(concatenated)
}

// Hash returns the tree's aggregate root hash; Zero() iff the tree is empty.
func (t *Tree[V]) Hash() ringid.Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.hash
}

// Lookup returns the value stored under key.
func (t *Tree[V]) Lookup(key ringid.Key) (V, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.lookup(key)
}

func (n *node[V]) lookup(key ringid.Key) (V, error) {
	if n.isLeaf() {
		v, ok := n.entries[key]
		if !ok {
			var zero V
			return zero, ErrNotFound
		}
		return v, nil
	}
	return n.children[n.childIndex(key)].lookup(key)
}

// Contains reports whether key is present.
func (t *Tree[V]) Contains(key ringid.Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, err := t.root.lookup(key)
	return err == nil
}

// Update replaces the value stored under key, failing with ErrNotFound if
// the key is absent.
func (t *Tree[V]) Update(key ringid.Key, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.root.update(key, value); err != nil {
		return err
	}
	t.root.rehash()
	return nil
}

func (n *node[V]) update(key ringid.Key, value V) error {
	if n.isLeaf() {
		if _, ok := n.entries[key]; !ok {
			return ErrNotFound
		}
		n.entries[key] = value
		n.rehash()
		return nil
	}
	child := n.children[n.childIndex(key)]
	if err := child.update(key, value); err != nil {
		return err
	}
	n.rehash()
	return nil
}

// Delete removes key, failing with ErrNotFound if absent.
func (t *Tree[V]) Delete(key ringid.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.root.delete(key); err != nil {
		return err
	}
	t.root.rehash()
	return nil
}

func (n *node[V]) delete(key ringid.Key) error {
	if n.isLeaf() {
		if _, ok := n.entries[key]; !ok {
			return ErrNotFound
		}
		delete(n.entries, key)
		n.rehash()
		n.recomputeLargest()
		return nil
	}
	child := n.children[n.childIndex(key)]
	if err := child.delete(key); err != nil {
		return err
	}
	n.rehash()
	n.recomputeLargest()
	return nil
}

func (n *node[V]) recomputeLargest() {
	largest, ok := n.largestEntryKey()
	n.largestKey = largest
	n.hasLargestKey = ok
}

func (n *node[V]) largestEntryKey() (ringid.Key, bool) {
	if n.isLeaf() {
		var best ringid.Key
		found := false
		for k := range n.entries {
			if !found || best.Less(k) {
				best, found = k, true
			}
		}
		return best, found
	}
	for i := len(n.children) - 1; i >= 0; i-- {
		if k, ok := n.children[i].largestEntryKey(); ok {
			return k, true
		}
	}
	var zero ringid.Key
	return zero, false
}

// ReadRange returns all entries whose key lies on the clockwise arc [lo,
// hi], recursing on [lo, Max] and [0, hi] when the arc wraps.
func (t *Tree[V]) ReadRange(lo, hi ringid.Key) map[ringid.Key]V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[ringid.Key]V)
	t.root.readRange(lo, hi, result)
	return result
}

func (n *node[V]) readRange(lo, hi ringid.Key, out map[ringid.Key]V) {
	if lo.Compare(hi) > 0 {
		n.readRange(lo, ringid.Max(), out)
		n.readRange(ringid.Zero(), hi, out)
		return
	}

	if n.isLeaf() {
		for k, v := range n.entries {
			if ringid.InBetween(k, lo, hi, true) {
				out[k] = v
			}
		}
		return
	}

	for _, c := range n.children {
		if !c.overlaps(lo, hi) {
			continue
		}
		childLo, childHi := lo, hi
		if childLo.Less(c.minKey) {
			childLo = c.minKey
		}
		if hi.Compare(c.maxKey) > 0 {
			childHi = c.maxKey
		}
		c.readRange(childLo, childHi, out)
	}
}

func (n *node[V]) overlaps(lo, hi ringid.Key) bool {
	return ringid.InBetween(n.minKey, lo, hi, true) || ringid.InBetween(n.maxKey, lo, hi, true) ||
		ringid.InBetween(lo, n.minKey, n.maxKey, true)
}

// Next returns the smallest key strictly greater than key, wrapping to the
// smallest key in the tree if key exceeds the largest stored key.
func (t *Tree[V]) Next(key ringid.Key) (ringid.Key, V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero V
	if t.root.hash.Equal(ringid.Zero()) {
		return ringid.Zero(), zero, false
	}
	if !t.root.hasLargestKey || !key.Less(t.root.largestKey) {
		k, v, ok := t.root.smallestEntry()
		return k, v, ok
	}
	k, v, ok := t.root.next(key)
	if !ok {
		return ringid.Zero(), zero, false
	}
	return k, v, true
}

func (n *node[V]) next(key ringid.Key) (ringid.Key, V, bool) {
	if n.isLeaf() {
		var bestKey ringid.Key
		var bestVal V
		found := false
		for k, v := range n.entries {
			if k.Less(key) || k.Equal(key) {
				continue
			}
			if !found || k.Less(bestKey) {
				bestKey, bestVal, found = k, v, true
			}
		}
		return bestKey, bestVal, found
	}

	start := n.childIndex(key)
	for i := start; i < len(n.children); i++ {
		if k, v, ok := n.children[i].next(key); ok {
			return k, v, true
		}
	}
	var zero V
	return ringid.Zero(), zero, false
}

func (n *node[V]) smallestEntry() (ringid.Key, V, bool) {
	if n.isLeaf() {
		var bestKey ringid.Key
		var bestVal V
		found := false
		for k, v := range n.entries {
			if !found || k.Less(bestKey) {
				bestKey, bestVal, found = k, v, true
			}
		}
		return bestKey, bestVal, found
	}
	for _, c := range n.children {
		if k, v, ok := c.smallestEntry(); ok {
			return k, v, true
		}
	}
	var zero V
	return ringid.Zero(), zero, false
}

// Position identifies a node by the sequence of child indices from the root.
type Position []int

// NodeView is the wire-friendly, non-recursive serialization of one Merkle
// node (and optionally its immediate children), used for XCHNG_NODE
// anti-entropy exchanges.
type NodeView[V any] struct {
	Hash     ringid.Key
	MinKey   ringid.Key
	MaxKey   ringid.Key
	Position Position
	IsLeaf   bool
	Entries  map[ringid.Key]V // populated iff IsLeaf
	Children []NodeView[V]    // populated iff !IsLeaf and children were requested
}

// LookupByPosition descends the given child-index path and returns that
// node's view together with its immediate children's hashes (but not their
// grandchildren), which is what an XCHNG_NODE-style exchange needs to decide
// which children to recurse into next. It returns ok=false if the path
// exceeds the tree's current shape.
func (t *Tree[V]) LookupByPosition(path Position) (NodeView[V], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.root
	for _, idx := range path {
		if n.isLeaf() || idx < 0 || idx >= len(n.children) {
			var zero NodeView[V]
			return zero, false
		}
		n = n.children[idx]
	}
	return n.nonRecursiveSerialize(true), true
}

// NonRecursiveSerialize serializes the root node (and optionally its
// immediate children) without descending further, for wire-level exchange.
func (t *Tree[V]) NonRecursiveSerialize(includeChildren bool) NodeView[V] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.nonRecursiveSerialize(includeChildren)
}

func (n *node[V]) nonRecursiveSerialize(includeChildren bool) NodeView[V] {
	view := NodeView[V]{
		Hash:     n.hash,
		MinKey:   n.minKey,
		MaxKey:   n.maxKey,
		Position: append(Position{}, n.position...),
		IsLeaf:   n.isLeaf(),
	}
	if n.isLeaf() {
		view.Entries = make(map[ringid.Key]V, len(n.entries))
		for k, v := range n.entries {
			view.Entries[k] = v
		}
		return view
	}
	if includeChildren {
		view.Children = make([]NodeView[V], len(n.children))
		for i, c := range n.children {
			view.Children[i] = c.nonRecursiveSerialize(false)
		}
	}
	return view
}
