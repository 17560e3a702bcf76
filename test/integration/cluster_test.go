package integration

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/chord"
	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/config"
	"github.com/chordhash/chordhash/internal/dhash"
	"github.com/chordhash/chordhash/internal/kvstore"
	"github.com/chordhash/chordhash/internal/maintenance"
	"github.com/chordhash/chordhash/internal/transport"
)

// testPeer is one running ring member: a chord.Core, its RPC server, and
// whichever key/value service (kvstore or dhash) is layered on top.
type testPeer struct {
	core   *chord.Core
	client *transport.Client
	srv    *transport.Server
	kv     *kvstore.Service
	dh     *dhash.Service
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// testCluster is a set of peers sharing one ring, started either via
// StartChord (the first peer) or Join (every peer after).
type testCluster struct {
	peers      []*testPeer
	replicated bool
	cfg        func() *config.Config
}

func newTestCluster(replicated bool, cfgFn func() *config.Config) *testCluster {
	return &testCluster{replicated: replicated, cfg: cfgFn}
}

// addPeer starts a new peer. If bootstrap is nil it calls StartChord and
// becomes the ring's first member; otherwise it Joins via bootstrap.
func (tc *testCluster) addPeer(t *testing.T, bootstrap *chordpeer.RemotePeer) *testPeer {
	t.Helper()

	cfg := tc.cfg()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)

	client := transport.NewClient(2*time.Second, 300*time.Millisecond)
	core := chord.New(cfg, client, nil, nil, nil)
	srv := transport.NewServer(core.Self().Endpoint(), nil)
	core.RegisterHandlers(srv)

	tp := &testPeer{core: core, client: client, srv: srv}

	if tc.replicated {
		dh, err := dhash.New(core, client, cfg.IDA_N, cfg.IDA_M, cfg.IDA_P, cfg.NumSuccessors)
		require.NoError(t, err)
		core.SetPolicy(dh.Policy())
		dh.RegisterHandlers(srv)
		maintenance.Wire(core, dh)
		tp.dh = dh
	} else {
		kv := kvstore.New(core, client)
		core.SetPolicy(kv.Policy())
		kv.RegisterHandlers(srv)
		tp.kv = kv
	}

	go srv.Serve()
	time.Sleep(20 * time.Millisecond)

	if bootstrap == nil {
		core.StartChord()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		require.NoError(t, core.Join(ctx, *bootstrap))
	}

	tc.peers = append(tc.peers, tp)
	return tp
}

// kill stops a peer's server and maintenance loop without a graceful leave,
// simulating a crash.
func (tc *testCluster) kill(p *testPeer) {
	p.core.Fail()
	p.srv.Stop()
}

func (tc *testCluster) shutdown() {
	for _, p := range tc.peers {
		p.core.Fail()
		p.srv.Stop()
	}
}

func (tc *testCluster) waitForStabilization(rounds int, interval time.Duration) {
	time.Sleep(time.Duration(rounds) * interval)
}
