package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/config"
)

func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.StabilizeInterval = 100 * time.Millisecond
	cfg.RPCTimeout = 2 * time.Second
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.NumSuccessors = 3
	return cfg
}

// TestJoinAndPredecessorAssignment covers the "join & predecessor assignment"
// seed scenario: a single peer, then four more joining sequentially through
// it, ending with every peer's predecessor and min_key consistent with its
// ring position.
func TestJoinAndPredecessorAssignment(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	cluster := newTestCluster(false, fastConfig)
	defer cluster.shutdown()

	a := cluster.addPeer(t, nil)
	gateway := a.core.Self()

	for i := 0; i < 4; i++ {
		cluster.addPeer(t, &gateway)
	}

	cluster.waitForStabilization(30, 100*time.Millisecond)

	for _, p := range cluster.peers {
		pred, ok := p.core.Predecessor()
		require.True(t, ok, "peer %s has no predecessor after quiescence", p.core.ID())
		assert.True(t, p.core.MinKey().Equal(pred.ID.Next()),
			"peer %s: min_key %s != predecessor.id+1 (%s)", p.core.ID(), p.core.MinKey(), pred.ID.Next())
	}
}

// TestCrossPeerReadAfterJoin verifies a value created through one peer is
// readable through another, which must route the request to the owner.
func TestCrossPeerReadAfterJoin(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	cluster := newTestCluster(false, fastConfig)
	defer cluster.shutdown()

	a := cluster.addPeer(t, nil)
	gateway := a.core.Self()
	b := cluster.addPeer(t, &gateway)

	cluster.waitForStabilization(5, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.kv.Create(ctx, "cross-peer-key", "cross-peer-value"))

	val, err := b.kv.Read(ctx, "cross-peer-key")
	require.NoError(t, err)
	assert.Equal(t, "cross-peer-value", val)
}

// TestGracefulLeaveHandsOffKeys verifies a leaving peer's keys remain
// readable through the ring afterward.
func TestGracefulLeaveHandsOffKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	cluster := newTestCluster(false, fastConfig)
	defer cluster.shutdown()

	a := cluster.addPeer(t, nil)
	gateway := a.core.Self()
	b := cluster.addPeer(t, &gateway)

	cluster.waitForStabilization(5, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	require.NoError(t, b.kv.Create(ctx, "leaving-peer-key", "leaving-peer-value"))
	cancel()

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	b.core.Leave(leaveCtx)
	leaveCancel()

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	val, err := a.kv.Read(readCtx, "leaving-peer-key")
	require.NoError(t, err)
	assert.Equal(t, "leaving-peer-value", val)
}

// TestFailAndSelfHeal kills a peer outright (no graceful leave) and checks
// that the remaining peers converge back to a consistent predecessor/min_key
// chain without it.
func TestFailAndSelfHeal(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	cluster := newTestCluster(false, fastConfig)
	defer cluster.shutdown()

	a := cluster.addPeer(t, nil)
	gateway := a.core.Self()
	b := cluster.addPeer(t, &gateway)
	c := cluster.addPeer(t, &gateway)
	d := cluster.addPeer(t, &gateway)

	cluster.waitForStabilization(20, 100*time.Millisecond)

	cluster.kill(b)

	cluster.waitForStabilization(30, 100*time.Millisecond)

	for _, p := range []*testPeer{a, c, d} {
		pred, ok := p.core.Predecessor()
		require.True(t, ok, "peer %s has no predecessor after self-heal", p.core.ID())
		assert.False(t, pred.ID.Equal(b.core.ID()),
			"peer %s still has the failed peer as predecessor", p.core.ID())
		assert.True(t, p.core.MinKey().Equal(pred.ID.Next()))
	}
}
