package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chordhash/chordhash/internal/chorderrors"
	"github.com/chordhash/chordhash/pkg/ringid"
)

func TestCreateAndGet(t *testing.T) {
	s := New[string]()
	k := ringid.FromUint64(1)

	require.NoError(t, s.Create(k, "hello"))
	v, err := s.Get(k)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestCreateDuplicateFails(t *testing.T) {
	s := New[string]()
	k := ringid.FromUint64(1)
	require.NoError(t, s.Create(k, "a"))

	err := s.Create(k, "b")
	assert.ErrorIs(t, err, chorderrors.ErrDuplicateKey)
}

func TestGetMissingFails(t *testing.T) {
	s := New[string]()
	_, err := s.Get(ringid.FromUint64(99))
	assert.ErrorIs(t, err, chorderrors.ErrNotFound)
}

func TestSetOverwrites(t *testing.T) {
	s := New[int]()
	k := ringid.FromUint64(5)
	s.Set(k, 1)
	s.Set(k, 2)

	v, err := s.Get(k)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestDeleteThenContains(t *testing.T) {
	s := New[int]()
	k := ringid.FromUint64(5)
	s.Set(k, 1)
	s.Delete(k)
	assert.False(t, s.Contains(k))
}

func TestInRangeExclLoInclHi(t *testing.T) {
	s := New[int]()
	s.Set(ringid.FromUint64(10), 1)
	s.Set(ringid.FromUint64(20), 2)
	s.Set(ringid.FromUint64(30), 3)

	got := s.InRange(ringid.FromUint64(10), ringid.FromUint64(20))
	assert.NotContains(t, got, ringid.FromUint64(10))
	assert.Contains(t, got, ringid.FromUint64(20))
	assert.NotContains(t, got, ringid.FromUint64(30))
}

func TestStatsTrackHitsAndMisses(t *testing.T) {
	s := New[int]()
	k := ringid.FromUint64(1)
	require.NoError(t, s.Create(k, 1))

	_, _ = s.Get(k)
	_, _ = s.Get(ringid.FromUint64(2))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
