package chordpeer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/pkg/ringid"
)

func TestFingerTableLookupNoRoute(t *testing.T) {
	ft := NewFingerTable(ringid.FromUint64(0))
	_, err := ft.Lookup(ringid.FromUint64(1))
	assert.ErrorIs(t, err, chorderrors.ErrNoRoute)
}

func TestFingerTableAddAndLookup(t *testing.T) {
	ft := NewFingerTable(ringid.FromUint64(0))
	ft.AddFinger(0, peerAt(100))

	p, err := ft.Lookup(ringid.FromUint64(1))
	require.NoError(t, err)
	assert.True(t, p.ID.Equal(ringid.FromUint64(100)))
}

func TestFingerTableAdjustFingers(t *testing.T) {
	ft := NewFingerTable(ringid.FromUint64(0))
	for i := 0; i < ft.Len(); i++ {
		ft.AddFinger(i, peerAt(1000))
	}

	newPeer := New(ringid.FromUint64(5), ringid.FromUint64(1), "127.0.0.1", 5)
	ft.AdjustFingers(newPeer)

	p, ok := ft.GetNth(0)
	require.True(t, ok)
	assert.True(t, p.Peer.ID.Equal(ringid.FromUint64(5)))
}

func TestFingerTableReplaceDeadPeer(t *testing.T) {
	ft := NewFingerTable(ringid.FromUint64(0))
	dead := peerAt(50)
	ft.AddFinger(0, dead)

	replacement := peerAt(60)
	ft.ReplaceDeadPeer(dead, replacement)

	p, ok := ft.GetNth(0)
	require.True(t, ok)
	assert.True(t, p.Peer.ID.Equal(replacement.ID))
}

func TestFingerTableEmpty(t *testing.T) {
	ft := NewFingerTable(ringid.FromUint64(0))
	assert.True(t, ft.Empty())
	ft.AddFinger(3, peerAt(1))
	assert.False(t, ft.Empty())
}
