package chord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

func TestStabilizeDetectsDeadPredecessorAndClearsIt(t *testing.T) {
	a := newTestPeer(t, 3)
	a.core.StartChord()

	b := newTestPeer(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, b.core.Join(ctx, a.core.Self()))
	cancel()

	pred, ok := a.core.Predecessor()
	require.True(t, ok)
	require.True(t, pred.ID.Equal(b.core.ID()))

	b.srv.Stop()

	a.core.Stabilize(context.Background())

	require.Len(t, a.policy.predFailed, 1)
	assert.True(t, a.policy.predFailed[0].ID.Equal(b.core.ID()))

	_, hasPred := a.core.Predecessor()
	assert.False(t, hasPred)
}

func TestRectifyAdoptsOriginatorWhenPredecessorMatchesFailed(t *testing.T) {
	a := newTestPeer(t, 3)
	a.core.StartChord()

	originator := chordpeer.New(ringid.Hash("rectify-originator"), ringid.Hash("rectify-originator").Next(), "127.0.0.1", 9999)
	req := transport.RectifyRequest{
		FailedNode: transport.ToWirePeer(a.core.Self()),
		Originator: transport.ToWirePeer(originator),
	}

	require.NoError(t, a.core.Rectify(req))

	require.Len(t, a.policy.predFailed, 1)
	assert.True(t, a.policy.predFailed[0].ID.Equal(a.core.ID()))

	pred, ok := a.core.Predecessor()
	require.True(t, ok)
	assert.True(t, pred.ID.Equal(originator.ID))
}

func TestRectifyReplacesDeadPeerWhenNotThePredecessor(t *testing.T) {
	a := newTestPeer(t, 3)
	a.core.StartChord()

	failed := chordpeer.New(ringid.Hash("some-unrelated-failed-peer"), ringid.Hash("some-unrelated-failed-peer").Next(), "127.0.0.1", 9001)
	originator := chordpeer.New(ringid.Hash("some-unrelated-originator"), ringid.Hash("some-unrelated-originator").Next(), "127.0.0.1", 9002)

	a.core.Fingers().AddFinger(5, failed)

	req := transport.RectifyRequest{
		FailedNode: transport.ToWirePeer(failed),
		Originator: transport.ToWirePeer(originator),
	}
	require.NoError(t, a.core.Rectify(req))

	// Predecessor (self) is untouched: failed never matched it.
	pred, ok := a.core.Predecessor()
	require.True(t, ok)
	assert.True(t, pred.ID.Equal(a.core.ID()))

	assert.True(t, a.core.Successors().Contains(originator.ID))

	entry, ok := a.core.Fingers().GetNth(5)
	require.True(t, ok)
	assert.True(t, entry.Peer.ID.Equal(originator.ID))
}
