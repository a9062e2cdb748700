// Package server provides the connection registry: the authoritative map
// from connection identifier to live client and its display name.
package server

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Registry owns every live connection. Like the room store it performs no
// locking; the hub goroutine serializes every access. Operating on an
// unregistered identifier through a must* method panics, since that can only
// happen through a bug in the dispatch layer.
type Registry struct {
	maxNameLength int
	conns         map[string]*Client
}

// NewRegistry creates an empty registry. maxNameLength bounds accepted
// display names, measured in runes after trimming.
func NewRegistry(maxNameLength int) *Registry {
	return &Registry{
		maxNameLength: maxNameLength,
		conns:         make(map[string]*Client),
	}
}

// Add registers a client under its connection identifier with no display
// name and no joined rooms.
func (r *Registry) Add(c *Client) {
	r.conns[c.id] = c
}

// Remove unregisters a connection. It reports whether the connection was
// registered, making repeated teardown idempotent.
func (r *Registry) Remove(id string) (*Client, bool) {
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

// Get returns the live client for an identifier, if registered.
func (r *Registry) Get(id string) (*Client, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// All returns a snapshot of every registered client.
func (r *Registry) All() []*Client {
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// SetName trims and validates a raw display name and stores it on the
// connection. Fails with ErrInvalidName if the trimmed name is empty or too
// long; the prior name is retained in that case.
func (r *Registry) SetName(id, rawName string) (string, error) {
	c := r.mustGet(id)

	name := strings.TrimSpace(rawName)
	if name == "" || utf8.RuneCountInString(name) > r.maxNameLength {
		return "", ErrInvalidName
	}

	c.name = name
	return name, nil
}

// Name returns the display name of a connection, or the empty string when
// none has been set or the connection is gone.
func (r *Registry) Name(id string) string {
	if c, ok := r.conns[id]; ok {
		return c.name
	}
	return ""
}

// Names maps each given identifier to its display name. Identifiers without
// a name map to the empty string.
func (r *Registry) Names(ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = r.Name(id)
	}
	return names
}

func (r *Registry) mustGet(id string) *Client {
	c, ok := r.conns[id]
	if !ok {
		panic(fmt.Sprintf("server: operation on unregistered connection %s", id))
	}
	return c
}
