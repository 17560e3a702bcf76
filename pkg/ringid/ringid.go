// Package ringid implements the 256-bit modular ring identifier used by the
// Chord overlay: hashing, hex (de)serialization, modular arithmetic, and the
// clockwise in_between predicate.
package ringid

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Bits is the width of the ring identifier space. The ring has 2^Bits points.
const Bits = 256

// HexDigits is the number of hex characters needed to print a full-width Key.
const HexDigits = Bits / 4

var (
	ringSize = new(big.Int).Lsh(big.NewInt(1), Bits)
	zero     = big.NewInt(0)
	one      = big.NewInt(1)
)

// ErrKeyParse is returned when a hex string cannot be parsed into a Key.
var ErrKeyParse = errors.New("ringid: malformed key")

// Key is a 256-bit unsigned integer in the Chord ring Z/2^Bits.
// The zero value is the ring origin (0); it is NOT "no key" — callers that
// need an optional Key should use a separate presence flag or a pointer.
type Key struct {
	v *big.Int
}

// Zero is the ring origin.
func Zero() Key { return Key{v: new(big.Int)} }

// Max is the largest representable ring identifier (2^Bits - 1).
func Max() Key { return Key{v: new(big.Int).Sub(ringSize, one)} }

// FromUint64 builds a Key from a pre-hashed numeric representation.
func FromUint64(n uint64) Key {
	return Key{v: new(big.Int).SetUint64(n)}
}

// FromBigInt builds a Key from an arbitrary big.Int, reducing it into the ring.
func FromBigInt(n *big.Int) Key {
	if n == nil {
		return Zero()
	}
	return Key{v: mod(n)}
}

// Hash derives a Key deterministically from an arbitrary plaintext string.
// All peers must agree on this function; it uses SHA-1 (the reference's
// choice of a fixed, deterministic hash) truncated/extended to Bits via
// big.Int interpretation of the digest, then reduced modulo the ring size.
func Hash(plaintext string) Key {
	sum := sha1.Sum([]byte(plaintext))
	return Key{v: mod(new(big.Int).SetBytes(sum[:]))}
}

// FromHex parses a lower- or upper-case hex string into a Key.
func FromHex(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("%w: empty string", ErrKeyParse)
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrKeyParse, s)
	}
	if n.Sign() < 0 {
		return Key{}, fmt.Errorf("%w: negative value %q", ErrKeyParse, s)
	}
	return Key{v: mod(n)}, nil
}

// Hex renders the key as a fixed-width, zero-padded, lower-case hex string.
func (k Key) Hex() string {
	v := k.value()
	raw := v.Text(16)
	if len(raw) >= HexDigits {
		return raw[len(raw)-HexDigits:]
	}
	return strings.Repeat("0", HexDigits-len(raw)) + raw
}

// String implements fmt.Stringer, printing a truncated hex form for logs.
func (k Key) String() string {
	h := k.Hex()
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

// BigInt returns the numeric value as a copy; callers may mutate freely.
func (k Key) BigInt() *big.Int {
	return new(big.Int).Set(k.value())
}

func (k Key) value() *big.Int {
	if k.v == nil {
		return zero
	}
	return k.v
}

// Equal reports whether two keys denote the same ring position.
func (k Key) Equal(other Key) bool {
	return k.value().Cmp(other.value()) == 0
}

// Less reports whether k sorts before other in the ring's total numeric order.
// This is a plain numeric order, distinct from the circular in_between notion.
func (k Key) Less(other Key) bool {
	return k.value().Cmp(other.value()) < 0
}

// Compare returns -1, 0 or 1 following the numeric (non-circular) order.
func (k Key) Compare(other Key) int {
	return k.value().Cmp(other.value())
}

// Add returns (k + n) mod 2^Bits.
func (k Key) Add(n *big.Int) Key {
	return Key{v: mod(new(big.Int).Add(k.value(), n))}
}

// AddUint64 returns (k + n) mod 2^Bits.
func (k Key) AddUint64(n uint64) Key {
	return k.Add(new(big.Int).SetUint64(n))
}

// AddPowerOfTwo returns (k + 2^exp) mod 2^Bits, used for finger-table starts.
func (k Key) AddPowerOfTwo(exp int) Key {
	return k.Add(PowerOfTwo(exp))
}

// Sub returns (k - n) mod 2^Bits.
func (k Key) Sub(n *big.Int) Key {
	return Key{v: mod(new(big.Int).Sub(k.value(), n))}
}

// SubUint64 returns (k - n) mod 2^Bits.
func (k Key) SubUint64(n uint64) Key {
	return k.Sub(new(big.Int).SetUint64(n))
}

// SubKey returns (k - other) mod 2^Bits, the clockwise distance from other to k.
func (k Key) SubKey(other Key) Key {
	return k.Sub(other.value())
}

// Next returns k+1 mod 2^Bits, wrapping explicitly: Max().Next() == Zero().
func (k Key) Next() Key {
	return k.AddUint64(1)
}

// Prev returns k-1 mod 2^Bits.
func (k Key) Prev() Key {
	return k.SubUint64(1)
}

// PowerOfTwo returns 2^exp as a *big.Int, for callers building finger ranges.
func PowerOfTwo(exp int) *big.Int {
	if exp < 0 {
		return new(big.Int)
	}
	return new(big.Int).Lsh(one, uint(exp))
}

// RingSize returns 2^Bits.
func RingSize() *big.Int {
	return new(big.Int).Set(ringSize)
}

// InBetween reports whether k lies on the clockwise arc from lo to hi.
//
// If inclusive is true the arc is [lo, hi]; if false the arc is (lo, hi).
// The degenerate case lo == hi is special-cased: only k == lo qualifies,
// regardless of inclusive, since a zero-length arc has no meaningful
// interior.
func InBetween(k, lo, hi Key, inclusive bool) bool {
	if lo.Equal(hi) {
		return k.Equal(lo)
	}

	kv, lov, hiv := k.value(), lo.value(), hi.value()

	if lov.Cmp(hiv) < 0 {
		if inclusive {
			return kv.Cmp(lov) >= 0 && kv.Cmp(hiv) <= 0
		}
		return kv.Cmp(lov) > 0 && kv.Cmp(hiv) < 0
	}

	// lov > hiv: arc wraps through zero.
	if inclusive {
		return kv.Cmp(lov) >= 0 || kv.Cmp(hiv) <= 0
	}
	return kv.Cmp(lov) > 0 || kv.Cmp(hiv) < 0
}

// InBetweenExclLo reports whether k lies on the open-at-lo, closed-at-hi arc
// (lo, hi]. This is the form the Chord core uses most (successor ownership).
func InBetweenExclLo(k, lo, hi Key) bool {
	if lo.Equal(hi) {
		return k.Equal(lo)
	}
	kv, lov, hiv := k.value(), lo.value(), hi.value()
	if lov.Cmp(hiv) < 0 {
		return kv.Cmp(lov) > 0 && kv.Cmp(hiv) <= 0
	}
	return kv.Cmp(lov) > 0 || kv.Cmp(hiv) <= 0
}

func mod(x *big.Int) *big.Int {
	r := new(big.Int).Mod(x, ringSize)
	if r.Sign() < 0 {
		r.Add(r, ringSize)
	}
	return r
}
