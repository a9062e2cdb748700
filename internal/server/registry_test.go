package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegisteredClient(t *testing.T, r *Registry) *Client {
	t.Helper()
	c := NewClient(nil, nil, "127.0.0.1:0")
	r.Add(c)
	return c
}

func TestRegistrySetName(t *testing.T) {
	r := NewRegistry(16)
	c := newRegisteredClient(t, r)

	name, err := r.SetName(c.ID(), "  alice  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.Equal(t, "alice", r.Name(c.ID()))
}

func TestRegistrySetNameRejectsInvalid(t *testing.T) {
	r := NewRegistry(16)
	c := newRegisteredClient(t, r)

	_, err := r.SetName(c.ID(), "alice")
	require.NoError(t, err)

	// Too long after trimming: prior name is retained.
	_, err = r.SetName(c.ID(), strings.Repeat("x", 17))
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, "alice", r.Name(c.ID()))

	// Whitespace-only trims to empty.
	_, err = r.SetName(c.ID(), "   ")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Equal(t, "alice", r.Name(c.ID()))

	// Exactly sixteen runes is accepted.
	name, err := r.SetName(c.ID(), strings.Repeat("y", 16))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("y", 16), name)
}

func TestRegistrySetNameUnregisteredPanics(t *testing.T) {
	r := NewRegistry(16)
	assert.Panics(t, func() {
		_, _ = r.SetName("no-such-connection", "alice")
	})
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry(16)
	c := newRegisteredClient(t, r)
	require.Equal(t, 1, r.Len())

	_, ok := r.Remove(c.ID())
	assert.True(t, ok)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Remove(c.ID())
	assert.False(t, ok)
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(16)
	a := newRegisteredClient(t, r)
	b := newRegisteredClient(t, r)

	_, err := r.SetName(a.ID(), "alice")
	require.NoError(t, err)

	names := r.Names([]string{a.ID(), b.ID()})
	assert.Equal(t, map[string]string{
		a.ID(): "alice",
		b.ID(): "",
	}, names)

	// Unknown identifiers resolve to the empty string, not a panic.
	assert.Equal(t, "", r.Name("gone"))
}

func TestRegistryUniqueIdentifiers(t *testing.T) {
	r := NewRegistry(16)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		c := newRegisteredClient(t, r)
		assert.False(t, seen[c.ID()], "connection identifier reused")
		seen[c.ID()] = true
	}
}
