package idacodec

import (
	"encoding/json"
	"fmt"
	"math"
)

// wireAlphabet is the fixed 64-symbol digit set used to render fragment
// values as fixed-width positional numerals.
const wireAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var wireDigitValue = func() map[byte]int64 {
	m := make(map[byte]int64, len(wireAlphabet))
	for i := 0; i < len(wireAlphabet); i++ {
		m[wireAlphabet[i]] = int64(i)
	}
	return m
}()

// digitsPerValue returns ceil(log_64(p)), the number of base-64 digits
// needed to represent any value in [0, p).
func digitsPerValue(p int64) int {
	if p <= 1 {
		return 1
	}
	d := int(math.Ceil(math.Log(float64(p)) / math.Log(64)))
	if d < 1 {
		d = 1
	}
	return d
}

// encodeValuesBase64 renders values as a concatenation of fixed-width,
// left-padded base-64 digit groups.
func encodeValuesBase64(values []int64, p int64) (string, error) {
	width := digitsPerValue(p)
	buf := make([]byte, 0, width*len(values))
	for _, v := range values {
		if v < 0 || v >= p {
			return "", fmt.Errorf("%w: value %d out of range [0,%d)", ErrCodec, v, p)
		}
		digits := make([]byte, width)
		rem := v
		for i := width - 1; i >= 0; i-- {
			digits[i] = wireAlphabet[rem%64]
			rem /= 64
		}
		buf = append(buf, digits...)
	}
	return string(buf), nil
}

// decodeValuesBase64 parses a wire-format fragment string back into its
// per-segment values, given the expected prime modulus p.
func decodeValuesBase64(s string, p int64) ([]int64, error) {
	width := digitsPerValue(p)
	if width == 0 || len(s)%width != 0 {
		return nil, fmt.Errorf("%w: fragment string length %d not a multiple of digit width %d", ErrCodec, len(s), width)
	}
	count := len(s) / width
	values := make([]int64, count)
	for i := 0; i < count; i++ {
		var v int64
		for j := 0; j < width; j++ {
			c := s[i*width+j]
			digit, ok := wireDigitValue[c]
			if !ok {
				return nil, fmt.Errorf("%w: invalid digit %q in fragment string", ErrCodec, c)
			}
			v = v*64 + digit
		}
		if v >= p {
			return nil, fmt.Errorf("%w: decoded value %d exceeds modulus %d", ErrCodec, v, p)
		}
		values[i] = v
	}
	return values, nil
}

// wireFragment is the on-the-wire JSON shape: {N, M, P, INDEX, FRAGMENT}.
type wireFragment struct {
	N        int    `json:"N"`
	M        int    `json:"M"`
	P        int64  `json:"P"`
	Index    int    `json:"INDEX"`
	Fragment string `json:"FRAGMENT"`
}

// MarshalJSON renders the Fragment in its wire form.
func (f Fragment) MarshalJSON() ([]byte, error) {
	encoded, err := encodeValuesBase64(f.Values, f.P)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireFragment{N: f.N, M: f.M, P: f.P, Index: f.Index, Fragment: encoded})
}

// UnmarshalJSON parses a wire-form fragment back into a Fragment.
func (f *Fragment) UnmarshalJSON(data []byte) error {
	var w wireFragment
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	values, err := decodeValuesBase64(w.Fragment, w.P)
	if err != nil {
		return err
	}
	*f = Fragment{N: w.N, M: w.M, P: w.P, Index: w.Index, Values: values}
	return nil
}
