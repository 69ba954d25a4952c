package kvstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetIfAbsent_FirstWriterWins(t *testing.T) {
	s := New(time.Hour)

	wrote := s.SetIfAbsent("K", "first")
	assert.True(t, wrote)

	wrote = s.SetIfAbsent("K", "second")
	assert.False(t, wrote)

	v, ok := s.Get("K")
	require.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestStore_Get_MissingKey(t *testing.T) {
	s := New(time.Hour)
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestStore_EntriesExpire(t *testing.T) {
	s := New(20 * time.Millisecond)
	require.True(t, s.SetIfAbsent("K", "v"))

	time.Sleep(50 * time.Millisecond)

	_, ok := s.Get("K")
	assert.False(t, ok, "entry must expire after ttl")
}

func TestNew_NonPositiveTTLFallsBackToDefault(t *testing.T) {
	s := New(0)
	require.True(t, s.SetIfAbsent("K", "v"))
	v, ok := s.Get("K")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}
