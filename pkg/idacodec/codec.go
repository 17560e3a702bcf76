// Package idacodec implements the information-dispersal (IDA) erasure code:
// a byte buffer is split into N fragments over GF(p), any M of which
// reconstruct the original buffer. The algorithm is grounded on the
// Vandermonde-matrix encode/decode scheme used by the original C++
// implementation's ida and matrix_math modules.
package idacodec

import (
	"errors"
	"fmt"
)

// ErrCodec is returned when IDA parameters are invalid or a fragment value
// cannot be represented in the encoding width.
var ErrCodec = errors.New("idacodec: invalid codec parameters")

// ErrInsufficientFragments is returned when Decode is given fewer than M
// fragments to work with.
var ErrInsufficientFragments = errors.New("idacodec: insufficient fragments to decode")

// Codec holds the (N, M, P) parameters of an IDA scheme and its precomputed
// Vandermonde encoding matrix.
type Codec struct {
	N int
	M int
	P int64

	encodingMatrix Matrix
}

// New validates (n, m, p) and builds a Codec. n must exceed m and p must
// exceed n so that every fragment index 1..n is representable and
// invertible modulo p.
func New(n, m int, p int64) (*Codec, error) {
	if !(n > m && p > int64(n)) {
		return nil, fmt.Errorf("%w: need n > m and p > n, got n=%d m=%d p=%d", ErrCodec, n, m, p)
	}
	if m <= 0 {
		return nil, fmt.Errorf("%w: m must be positive, got %d", ErrCodec, m)
	}
	if p <= 255 {
		return nil, fmt.Errorf("%w: p must exceed 255 so raw byte values fit the encoding width, got %d", ErrCodec, p)
	}
	return &Codec{
		N:              n,
		M:              m,
		P:              p,
		encodingMatrix: constructEncodingMatrix(m, n, p),
	}, nil
}

// Fragment is one of the N shares produced by Encode: the values are the
// per-segment Vandermonde-row dot products for fragment Index (1..N), each
// in [0, P).
type Fragment struct {
	N      int
	M      int
	P      int64
	Index  int
	Values []int64
}

// Encode splits data into segments of length M (zero-padded to a multiple
// of M) and produces N fragments, one per Vandermonde row.
func (c *Codec) Encode(data []byte) ([]Fragment, error) {
	segments := splitToSegments(bytesToInts(data), c.M)

	fragments := make([]Fragment, c.N)
	for i := 0; i < c.N; i++ {
		values := make([]int64, len(segments))
		for s, segment := range segments {
			values[s] = innerProduct(c.encodingMatrix[i], segment, c.P)
		}
		fragments[i] = Fragment{N: c.N, M: c.M, P: c.P, Index: i + 1, Values: values}
	}
	return fragments, nil
}

// Decode reconstructs the original byte buffer from any M of the N
// fragments. Fragments beyond the first M supplied are ignored; the caller
// decides which M to hand in (e.g. the first M that answered a read).
func (c *Codec) Decode(frags []Fragment) ([]byte, error) {
	if len(frags) < c.M {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFragments, len(frags), c.M)
	}
	chosen := frags[:c.M]

	basis := make(Vector, c.M)
	encoded := make(Matrix, c.M)
	for i, f := range chosen {
		basis[i] = int64(f.Index)
		encoded[i] = Vector(f.Values)
	}

	invEncoding, err := vandermondeInverse(basis, c.P)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}

	output := matrixProduct(invEncoding, encoded, c.P)

	numCols := 0
	if len(output) > 0 {
		numCols = len(output[0])
	}
	segments := make(Matrix, numCols)
	for i := 0; i < numCols; i++ {
		col := make(Vector, len(output))
		for j := range output {
			col[j] = output[j][i]
		}
		segments[i] = col
	}

	segments = trimTrailingZeroSegments(segments)
	if len(segments) > 0 {
		segments[len(segments)-1] = trimTrailingZeros(segments[len(segments)-1])
	}

	return intsToBytes(flatten(segments)), nil
}

func splitToSegments(v Vector, m int) Matrix {
	var segments Matrix
	for i := 0; i < len(v); i += m {
		segment := make(Vector, m)
		end := i + m
		if end > len(v) {
			end = len(v)
		}
		copy(segment, v[i:end])
		segments = append(segments, segment)
	}
	if len(segments) == 0 {
		// An empty buffer still needs one all-zero segment so Encode/Decode
		// round-trips through an identical fragment shape.
		segments = Matrix{make(Vector, m)}
	}
	return segments
}

func allZero(v Vector) bool {
	for _, el := range v {
		if el != 0 {
			return false
		}
	}
	return true
}

func trimTrailingZeroSegments(segments Matrix) Matrix {
	for len(segments) > 1 && allZero(segments[len(segments)-1]) {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 1 && allZero(segments[0]) {
		return Matrix{}
	}
	return segments
}

func trimTrailingZeros(v Vector) Vector {
	for len(v) > 0 && v[len(v)-1] == 0 {
		v = v[:len(v)-1]
	}
	return v
}

func flatten(segments Matrix) Vector {
	var out Vector
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}

func bytesToInts(b []byte) Vector {
	v := make(Vector, len(b))
	for i, c := range b {
		v[i] = int64(c)
	}
	return v
}

func intsToBytes(v Vector) []byte {
	b := make([]byte, len(v))
	for i, el := range v {
		b[i] = byte(el)
	}
	return b
}
