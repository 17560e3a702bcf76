package chord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/pkg/ringid"
)

func TestStartChordOwnsEntireRing(t *testing.T) {
	p := newTestPeer(t, 3)
	p.core.StartChord()

	assert.Equal(t, InRing, p.core.State())
	pred, ok := p.core.Predecessor()
	require.True(t, ok)
	assert.True(t, pred.ID.Equal(p.core.ID()))

	for _, k := range []ringid.Key{
		p.core.ID(),
		ringid.Hash("anything"),
		ringid.Zero(),
		ringid.Max(),
	} {
		assert.True(t, p.core.OwnsLocally(k), "solo peer must own every key, got false for %s", k)
	}
}

func TestJoinAdoptsGatewayAsPredecessorAndIsNotifiedBack(t *testing.T) {
	a := newTestPeer(t, 3)
	a.core.StartChord()

	b := newTestPeer(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.core.Join(ctx, a.core.Self()))

	assert.Equal(t, InRing, b.core.State())

	pred, ok := b.core.Predecessor()
	require.True(t, ok)
	assert.True(t, pred.ID.Equal(a.core.ID()))

	// A must have been notified of B and adopted it, since A had no real
	// predecessor of its own yet.
	aPred, ok := a.core.Predecessor()
	require.True(t, ok)
	assert.True(t, aPred.ID.Equal(b.core.ID()))
	assert.True(t, a.core.Successors().Contains(b.core.ID()))
}

func TestLeaveTransfersRangeToPredecessor(t *testing.T) {
	a := newTestPeer(t, 3)
	a.core.StartChord()

	b := newTestPeer(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.core.Join(ctx, a.core.Self()))

	b.policy.transferOut = map[ringid.Key]string{ringid.Hash("handoff-key"): "value"}

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
	defer leaveCancel()
	b.core.Leave(leaveCtx)

	require.Len(t, b.policy.transferred, 1)
	assert.Equal(t, Leaving, b.core.State())

	// A absorbed the handed-off range via the LEAVE RPC.
	require.Len(t, a.policy.absorbed, 1)
	assert.Equal(t, "value", a.policy.absorbed[0][ringid.Hash("handoff-key")])
}

func TestFailStopsMaintenanceWithoutHandoff(t *testing.T) {
	p := newTestPeer(t, 3)
	p.core.StartChord()
	p.core.Fail()
	assert.Equal(t, Leaving, p.core.State())
	assert.Empty(t, p.policy.transferred)
}

func TestInfoReflectsCurrentRingState(t *testing.T) {
	a := newTestPeer(t, 3)
	a.core.StartChord()

	b := newTestPeer(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.core.Join(ctx, a.core.Self()))

	info := a.core.Info()
	assert.Equal(t, a.core.ID().Hex(), info.Self.ID)
	assert.Equal(t, InRing.String(), info.State)
	require.NotNil(t, info.Predecessor)
	assert.Equal(t, b.core.ID().Hex(), info.Predecessor.ID)

	require.NotEmpty(t, info.Fingers)
}
