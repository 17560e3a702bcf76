package dhash

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/chord"
	"github.com/chordhash/chordhash/internal/config"
	"github.com/chordhash/chordhash/internal/ringevents"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/idacodec"
	"github.com/chordhash/chordhash/pkg/ringid"
)

func newSingleNodeService(t *testing.T, n, m int, p int64) (*chord.Core, *Service) {
	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 19200
	client := transport.NewClient(time.Second, 200*time.Millisecond)
	var events ringevents.Broadcaster
	core := chord.New(cfg, client, nil, events, nil)

	svc, err := New(core, client, n, m, p, cfg.NumSuccessors)
	require.NoError(t, err)
	core.StartChord()
	t.Cleanup(core.Fail)
	return core, svc
}

func TestCreateReadRoundTripSingleNode(t *testing.T) {
	_, svc := newSingleNodeService(t, 3, 1, 257)

	key := ringid.Hash("round-trip-key")
	payload := []byte("replicated payload")

	require.NoError(t, svc.Create(context.Background(), key, payload))

	got, err := svc.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCreateFailsWithoutEnoughReplicas(t *testing.T) {
	_, svc := newSingleNodeService(t, 14, 10, 257)

	key := ringid.Hash("needs-ten-replicas")
	err := svc.Create(context.Background(), key, []byte("x"))
	assert.Error(t, err)
}

func TestReadMissingKeyFails(t *testing.T) {
	_, svc := newSingleNodeService(t, 3, 1, 257)

	_, err := svc.Read(context.Background(), ringid.Hash("never-created"))
	assert.Error(t, err)
}

func TestReplicatedPolicyIsNoOp(t *testing.T) {
	_, svc := newSingleNodeService(t, 3, 1, 257)
	policy := svc.Policy()

	assert.Nil(t, policy.TransferRange(ringid.Zero(), ringid.Max()))
	policy.Absorb(map[ringid.Key]string{ringid.Zero(): "ignored"})
	policy.OnPredecessorFailure(svc.core.Self())
}

func TestWireMerkleNodeRoundTrip(t *testing.T) {
	_, svc := newSingleNodeService(t, 3, 1, 257)

	key := ringid.Hash("merkle-key")
	require.NoError(t, svc.storeLocal(key, mustEncodeOne(t, svc, key)))

	view, ok := svc.index.LookupByPosition(nil)
	require.True(t, ok)

	wire := toWireMerkleNode(view)
	back, err := fromWireMerkleNode(wire)
	require.NoError(t, err)
	assert.True(t, back.Hash.Equal(view.Hash))
	assert.Equal(t, len(view.Entries), len(back.Entries))
}

func mustEncodeOne(t *testing.T, svc *Service, key ringid.Key) idacodec.Fragment {
	frags, err := svc.codec.Encode([]byte("v"))
	require.NoError(t, err)
	return frags[0]
}
