package chord

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/config"
	"github.com/chordhash/chordhash/internal/ringevents"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// fakePolicy records every call the core makes into it, so tests can assert
// on handoff and failure-notification behavior without a real kv store.
type fakePolicy struct {
	transferred []struct{ lo, hi ringid.Key }
	absorbed    []map[ringid.Key]string
	predFailed  []chordpeer.RemotePeer
	transferOut map[ringid.Key]string
}

func (f *fakePolicy) TransferRange(lo, hi ringid.Key) map[ringid.Key]string {
	f.transferred = append(f.transferred, struct{ lo, hi ringid.Key }{lo, hi})
	if f.transferOut == nil {
		return map[ringid.Key]string{}
	}
	return f.transferOut
}

func (f *fakePolicy) Absorb(entries map[ringid.Key]string) {
	f.absorbed = append(f.absorbed, entries)
}

func (f *fakePolicy) OnPredecessorFailure(old chordpeer.RemotePeer) {
	f.predFailed = append(f.predFailed, old)
}

func freePort(t *testing.T) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// testPeer bundles a Core with the live transport.Server it's registered
// against, so handlers actually answer RPCs from other peers in the test.
type testPeer struct {
	core   *Core
	policy *fakePolicy
	srv    *transport.Server
	client *transport.Client
}

func newTestPeer(t *testing.T, numSuccessors int) *testPeer {
	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.NumSuccessors = numSuccessors
	cfg.StabilizeInterval = time.Hour // tests drive maintenance steps explicitly

	client := transport.NewClient(2*time.Second, 300*time.Millisecond)
	policy := &fakePolicy{}
	var events ringevents.Broadcaster
	core := New(cfg, client, nil, events, policy)

	srv := transport.NewServer(core.Self().Endpoint(), nil)
	core.RegisterHandlers(srv)
	go srv.Serve()
	time.Sleep(20 * time.Millisecond)

	tp := &testPeer{core: core, policy: policy, srv: srv, client: client}
	t.Cleanup(func() {
		core.Fail()
		srv.Stop()
	})
	return tp
}
