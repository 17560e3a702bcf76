package transport

import (
	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// ToWirePeer renders a RemotePeer in its wire form.
func ToWirePeer(p chordpeer.RemotePeer) WirePeer {
	return WirePeer{ID: p.ID.Hex(), MinKey: p.MinKey.Hex(), IPAddr: p.Address, Port: p.Port}
}

// FromWirePeer parses a wire-form peer descriptor back into a RemotePeer.
func FromWirePeer(w WirePeer) (chordpeer.RemotePeer, error) {
	id, err := ringid.FromHex(w.ID)
	if err != nil {
		return chordpeer.RemotePeer{}, err
	}
	minKey, err := ringid.FromHex(w.MinKey)
	if err != nil {
		return chordpeer.RemotePeer{}, err
	}
	return chordpeer.New(id, minKey, w.IPAddr, w.Port), nil
}

// ToPeerResponse renders a RemotePeer as a GET_SUCC/GET_PRED response.
func ToPeerResponse(p chordpeer.RemotePeer) PeerResponse {
	return PeerResponse{ID: p.ID.Hex(), MinKey: p.MinKey.Hex(), IPAddr: p.Address, Port: p.Port}
}

// FromPeerResponse parses a GET_SUCC/GET_PRED response into a RemotePeer.
func FromPeerResponse(r PeerResponse) (chordpeer.RemotePeer, error) {
	return FromWirePeer(WirePeer{ID: r.ID, MinKey: r.MinKey, IPAddr: r.IPAddr, Port: r.Port})
}
