package chordpeer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/pkg/ringid"
)

func peerAt(id uint64) RemotePeer {
	k := ringid.FromUint64(id)
	return New(k, k.Prev().Next(), "127.0.0.1", int(id))
}

func TestRemotePeerEqual(t *testing.T) {
	a := peerAt(10)
	b := peerAt(10)
	c := peerAt(11)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestSuccessorListInsertOrdering(t *testing.T) {
	l := NewSuccessorList(ringid.FromUint64(0), 3)

	assert.True(t, l.Insert(peerAt(30)))
	assert.True(t, l.Insert(peerAt(10)))
	assert.True(t, l.Insert(peerAt(20)))

	ids := []uint64{}
	for _, e := range l.Entries() {
		ids = append(ids, e.ID.BigInt().Uint64())
	}
	assert.Equal(t, []uint64{10, 20, 30}, ids)
}

func TestSuccessorListCapacityDropsLast(t *testing.T) {
	l := NewSuccessorList(ringid.FromUint64(0), 2)
	assert.True(t, l.Insert(peerAt(10)))
	assert.True(t, l.Insert(peerAt(20)))
	assert.True(t, l.Insert(peerAt(5)))

	assert.Equal(t, 2, l.Len())
	ids := []uint64{}
	for _, e := range l.Entries() {
		ids = append(ids, e.ID.BigInt().Uint64())
	}
	assert.Equal(t, []uint64{5, 10}, ids)
}

func TestSuccessorListInsertDuplicateFails(t *testing.T) {
	l := NewSuccessorList(ringid.FromUint64(0), 3)
	require.True(t, l.Insert(peerAt(10)))
	assert.False(t, l.Insert(peerAt(10)))
}

func TestSuccessorListLookup(t *testing.T) {
	l := NewSuccessorList(ringid.FromUint64(0), 3)
	require.True(t, l.Insert(peerAt(10)))
	require.True(t, l.Insert(peerAt(20)))

	p, ok := l.Lookup(ringid.FromUint64(15))
	require.True(t, ok)
	assert.True(t, p.ID.Equal(ringid.FromUint64(20)))
}

func TestSuccessorListLookupLivingSkipsDead(t *testing.T) {
	l := NewSuccessorList(ringid.FromUint64(0), 3)
	require.True(t, l.Insert(peerAt(10)))
	require.True(t, l.Insert(peerAt(20)))

	dead := peerAt(10)
	alive := func(p RemotePeer) bool { return !p.ID.Equal(dead.ID) }

	p, ok := l.LookupLiving(ringid.FromUint64(5), alive)
	require.True(t, ok)
	assert.True(t, p.ID.Equal(ringid.FromUint64(20)))
}

func TestSuccessorListDropLeadingDead(t *testing.T) {
	l := NewSuccessorList(ringid.FromUint64(0), 3)
	require.True(t, l.Insert(peerAt(10)))
	require.True(t, l.Insert(peerAt(20)))
	require.True(t, l.Insert(peerAt(30)))

	alive := func(p RemotePeer) bool { return p.ID.BigInt().Uint64() >= 20 }
	l.DropLeadingDead(alive)

	assert.Equal(t, 2, l.Len())
}
