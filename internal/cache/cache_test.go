package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-speak/internal/session"
)

func artifact(b ...byte) *session.Artifact {
	return &session.Artifact{Bytes: b, MimeType: session.MimeTypeMPEG}
}

func TestLookupMissAndHit(t *testing.T) {
	c, err := New(4, true)
	require.NoError(t, err)

	_, ok := c.Lookup("k")
	assert.False(t, ok)

	c.Store("k", artifact(1, 2, 3))
	got, ok := c.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got.Bytes)
	assert.Equal(t, "audio/mpeg", got.MimeType)
}

func TestStoredValuesAreIsolated(t *testing.T) {
	c, err := New(4, true)
	require.NoError(t, err)

	original := artifact(1, 2, 3)
	c.Store("k", original)
	original.Bytes[0] = 9

	first, _ := c.Lookup("k")
	assert.Equal(t, byte(1), first.Bytes[0])

	first.Bytes[1] = 9
	second, _ := c.Lookup("k")
	assert.Equal(t, []byte{1, 2, 3}, second.Bytes)
}

func TestLastWriteWins(t *testing.T) {
	c, err := New(4, true)
	require.NoError(t, err)
	c.Store("k", artifact(1))
	c.Store("k", artifact(2))

	got, ok := c.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, []byte{2}, got.Bytes)
	assert.Equal(t, 1, c.Len())
}

func TestDisabledCacheIgnoresStores(t *testing.T) {
	c, err := New(4, false)
	require.NoError(t, err)
	c.Store("k", artifact(1))
	assert.Equal(t, 0, c.Len())

	_, ok := c.Lookup("k")
	assert.False(t, ok)
}

func TestSetEnabledFalseClears(t *testing.T) {
	c, err := New(4, true)
	require.NoError(t, err)
	c.Store("a", artifact(1))
	c.Store("b", artifact(2))

	c.SetEnabled(false)
	assert.False(t, c.Enabled())
	assert.Equal(t, 0, c.Len())

	c.SetEnabled(true)
	_, ok := c.Lookup("a")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c, err := New(4, true)
	require.NoError(t, err)
	c.Store("a", artifact(1))
	c.Store("b", artifact(2))

	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Enabled())
}

func TestEviction(t *testing.T) {
	c, err := New(2, true)
	require.NoError(t, err)
	c.Store("a", artifact(1))
	c.Store("b", artifact(2))
	_, _ = c.Lookup("a")
	c.Store("c", artifact(3))

	_, ok := c.Lookup("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Lookup("a")
	assert.True(t, ok)
}
