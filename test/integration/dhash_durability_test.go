package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/config"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// durabilityConfig mirrors config.DefaultConfig's replication parameters
// (N=14, M=10, P=257) with a fast maintenance cadence for the test.
func durabilityConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.StabilizeInterval = 100 * time.Millisecond
	cfg.RPCTimeout = 2 * time.Second
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.NumSuccessors = cfg.IDA_N
	return cfg
}

// TestReplicatedDurabilityAcrossFailures builds a 14-peer replicated ring,
// creates a value (fanned out across 14 fragment-holders), then kills up to
// N-M of them and checks the value is still readable: Rabin IDA only needs M
// of the N fragments back.
func TestReplicatedDurabilityAcrossFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	cluster := newTestCluster(true, durabilityConfig)
	defer cluster.shutdown()

	first := cluster.addPeer(t, nil)
	gateway := first.core.Self()
	for i := 0; i < 13; i++ {
		cluster.addPeer(t, &gateway)
	}
	require.Len(t, cluster.peers, 14)

	cluster.waitForStabilization(40, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	durabilityKey := ringid.Hash("durability-key")
	require.NoError(t, first.dh.Create(ctx, durabilityKey, []byte("durability-value")))
	cancel()

	// N=14, M=10: up to 4 peers can disappear and the value must still
	// decode from whichever fragment-holders remain.
	for i := 1; i <= 4; i++ {
		cluster.kill(cluster.peers[i])
	}

	cluster.waitForStabilization(20, 100*time.Millisecond)

	reader := cluster.peers[0]
	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	value, err := reader.dh.Read(readCtx, durabilityKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("durability-value"), value)
}
