// Package transport implements the length-framed JSON-over-TCP RPC layer
// peers use to talk to each other: a command-map dispatcher on the server
// side, and SendRequest/IsAlive on the client side.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single request/response frame, guarding against a
// corrupt length prefix turning into an unbounded allocation.
const maxFrameBytes = 64 << 20

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Request is the envelope every wire message shares: a command string plus
// a raw JSON payload specific to that command. AuthToken carries the shared
// secret handshake described in SPEC_FULL.md's AUTH NOTE; it's empty on deployments
// that don't configure one.
type Request struct {
	Command   string          `json:"COMMAND"`
	Payload   json.RawMessage `json:"PAYLOAD,omitempty"`
	AuthToken string          `json:"AUTH_TOKEN,omitempty"`
}

// Response is the envelope every wire reply shares.
type Response struct {
	Success bool            `json:"SUCCESS"`
	Errors  string          `json:"ERRORS,omitempty"`
	Payload json.RawMessage `json:"PAYLOAD,omitempty"`
}

// EncodePayload marshals v into a Request's or Response's Payload field.
func EncodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// DecodePayload unmarshals a Request's or Response's Payload field into v.
func DecodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
