// Package chorderrors defines the sentinel errors shared across the ring:
// transport, chord core, kvstore and dhash all wrap one of these instead of
// inventing ad hoc error strings, so callers can branch with errors.Is.
package chorderrors

import "errors"

var (
	// ErrTimeout is returned when an RPC did not get a response within its
	// deadline.
	ErrTimeout = errors.New("chord: request timed out")

	// ErrPeerDown is returned when a remote peer refused a connection or
	// closed it mid-request.
	ErrPeerDown = errors.New("chord: peer unreachable")

	// ErrNoRoute is returned by ForwardRequest when neither the finger
	// table nor the successor list has a live candidate closer to the
	// target key than the local node itself.
	ErrNoRoute = errors.New("chord: no route to key")

	// ErrNotFound is returned when a key is absent from local storage.
	ErrNotFound = errors.New("chord: key not found")

	// ErrDuplicateKey is returned when a create targets a key that already
	// exists.
	ErrDuplicateKey = errors.New("chord: key already exists")

	// ErrOutOfRange is returned when a create/read targets a key outside
	// the responding peer's (predecessor.id, self.id] range.
	ErrOutOfRange = errors.New("chord: key out of local range")

	// ErrInsufficientReplicas is returned by dhash creates when fewer than
	// M of the N successor peers acknowledged their fragment.
	ErrInsufficientReplicas = errors.New("dhash: insufficient replicas acknowledged")

	// ErrInsufficientFragments is returned by dhash reads when fewer than
	// M fragments could be retrieved to reconstruct the block.
	ErrInsufficientFragments = errors.New("dhash: insufficient fragments to reconstruct")

	// ErrCodecFailure wraps an idacodec encode/decode error.
	ErrCodecFailure = errors.New("dhash: codec failure")

	// ErrParse is returned when a wire message or CLI argument cannot be
	// parsed into its expected shape.
	ErrParse = errors.New("chord: parse error")

	// ErrNotInRing is returned when an operation requires a peer that has
	// joined or created a ring, but StartChord has not been called yet.
	ErrNotInRing = errors.New("chord: peer is not part of a ring")

	// ErrShuttingDown is returned by handlers invoked after Leave/Shutdown
	// has begun.
	ErrShuttingDown = errors.New("chord: peer is shutting down")
)
