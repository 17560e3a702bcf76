package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/internal/chordpeer"
)

// Client issues RPCs to remote peers over fresh, short-lived TCP
// connections: one connection per request, matching the protocol's
// per-connection-only ordering guarantee.
type Client struct {
	rpcTimeout     time.Duration
	connectTimeout time.Duration
	authToken      string
}

// NewClient builds a Client with the given per-request and connect deadlines.
func NewClient(rpcTimeout, connectTimeout time.Duration) *Client {
	return &Client{rpcTimeout: rpcTimeout, connectTimeout: connectTimeout}
}

// SetAuthToken sets the shared secret attached to every outgoing request.
// An empty token (the default) sends no AUTH_TOKEN field at all.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// SendRequest dials peer, sends command with payload, and decodes the
// response payload into out (which may be nil if the caller doesn't need
// one). It fails with ErrTimeout on deadline expiry and ErrPeerDown on a
// connect or I/O failure.
func (c *Client) SendRequest(ctx context.Context, peer chordpeer.RemotePeer, command string, payload any, out any) error {
	deadline := time.Now().Add(c.rpcTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", peer.Endpoint())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", chorderrors.ErrPeerDown, peer.Endpoint(), err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", chorderrors.ErrPeerDown, err)
	}

	encodedPayload, err := EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", chorderrors.ErrParse, err)
	}
	reqBytes, err := json.Marshal(Request{Command: command, Payload: encodedPayload, AuthToken: c.authToken})
	if err != nil {
		return fmt.Errorf("%w: %v", chorderrors.ErrParse, err)
	}
	if err := writeFrame(conn, reqBytes); err != nil {
		return classifyIOErr(err)
	}

	respBytes, err := readFrame(conn)
	if err != nil {
		return classifyIOErr(err)
	}

	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return fmt.Errorf("%w: %v", chorderrors.ErrParse, err)
	}
	if !resp.Success {
		return fmt.Errorf("chord: remote error: %s", resp.Errors)
	}
	if out != nil {
		return DecodePayload(resp.Payload, out)
	}
	return nil
}

func classifyIOErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", chorderrors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", chorderrors.ErrPeerDown, err)
}

// IsAlive probes peer with a short TCP connect attempt.
func (c *Client) IsAlive(peer chordpeer.RemotePeer) bool {
	conn, err := net.DialTimeout("tcp", peer.Endpoint(), c.connectTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
