package idacodec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesParameters(t *testing.T) {
	tests := []struct {
		name    string
		n, m    int
		p       int64
		wantErr bool
	}{
		{"reference params", 14, 10, 257, false},
		{"n not greater than m", 10, 10, 257, true},
		{"p not greater than n", 14, 10, 13, true},
		{"p too small for byte domain", 14, 10, 250, true},
		{"m zero", 14, 0, 257, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.n, tt.m, tt.p)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c, err := New(14, 10, 257)
	require.NoError(t, err)

	inputs := [][]byte{
		[]byte("hello, chord ring"),
		[]byte(""),
		[]byte("a"),
		make([]byte, 1000),
		[]byte("exactly-ten"),
	}

	for _, in := range inputs {
		frags, err := c.Encode(in)
		require.NoError(t, err)
		require.Len(t, frags, 14)

		out, err := c.Decode(frags[:10])
		require.NoError(t, err)
		assert.Equal(t, trimTrailingZeros(bytesToInts(in)), trimTrailingZeros(bytesToInts(out)),
			"round trip should match after trailing-zero trim")
	}
}

func TestDecodeAnyMOfN(t *testing.T) {
	c, err := New(14, 10, 257)
	require.NoError(t, err)

	data := []byte("any M of the N fragments reconstruct")
	frags, err := c.Encode(data)
	require.NoError(t, err)

	subsets := [][]Fragment{
		{frags[0], frags[1], frags[2], frags[3], frags[4], frags[5], frags[6], frags[7], frags[8], frags[9]},
		{frags[4], frags[5], frags[6], frags[7], frags[8], frags[9], frags[10], frags[11], frags[12], frags[13]},
	}
	for _, subset := range subsets {
		out, err := c.Decode(subset)
		require.NoError(t, err)
		assert.Equal(t, string(data), string(intsToBytes(trimTrailingZeros(bytesToInts(out)))[:len(data)]))
	}
}

func TestDecodeInsufficientFragments(t *testing.T) {
	c, err := New(14, 10, 257)
	require.NoError(t, err)

	frags, err := c.Encode([]byte("short"))
	require.NoError(t, err)

	_, err = c.Decode(frags[:5])
	assert.ErrorIs(t, err, ErrInsufficientFragments)
}

func TestFragmentWireRoundTrip(t *testing.T) {
	c, err := New(14, 10, 257)
	require.NoError(t, err)

	frags, err := c.Encode([]byte("wire format round trip"))
	require.NoError(t, err)

	raw, err := json.Marshal(frags[3])
	require.NoError(t, err)

	var parsed Fragment
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, frags[3], parsed)
}

func TestFragmentWireDigitsPerValue(t *testing.T) {
	assert.Equal(t, 2, digitsPerValue(257))
	assert.Equal(t, 1, digitsPerValue(64))
	assert.Equal(t, 2, digitsPerValue(65))
}
