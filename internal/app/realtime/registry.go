/*
Package realtime is the presence and messaging core: it tracks which identity owns which live
connection, which connections joined which conversation rooms, routes inbound events to the
right connections and broadcasts presence transitions.

This file defines the Registry, the identity to connection index.
*/
package realtime

import (
	"sort"
	"sync"

	"pulse/internal/pkg/errs"
)

// Registry maps a user identity to the id of its single live connection.
// State is split over independently locked shards keyed by identity.
type Registry struct {
	shards []*registryShard

	// strict refuses a second registration instead of replacing the first.
	strict bool
}

type registryShard struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewRegistry creates a registry with the given shard count.
// With strict set, Register fails with ErrAlreadyConnected instead of replacing.
func NewRegistry(shards int, strict bool) *Registry {
	if shards < 1 {
		shards = 1
	}

	r := &Registry{
		shards: make([]*registryShard, shards),
		strict: strict,
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{entries: make(map[string]string)}
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	return r.shards[shardFor(userID, len(r.shards))]
}

// Register binds userID to connID and returns the id of the connection it displaced, or "" if
// there was none. Registering the same pair twice displaces nothing.
func (r *Registry) Register(userID, connID string) (string, error) {
	return r.RegisterFunc(userID, connID, nil)
}

// RegisterFunc is Register that also runs announce, when the entry changed, before the
// identity's shard is unlocked. Announcements made this way for one identity follow the order
// of its registry changes. announce must not call back into the registry.
func (r *Registry) RegisterFunc(userID, connID string, announce func(prev string)) (string, error) {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.entries[userID]
	if exists && prev == connID {
		return "", nil
	}

	if exists && r.strict {
		return "", errs.NewError(errs.ErrAlreadyConnected)
	}

	s.entries[userID] = connID
	if announce != nil {
		announce(prev)
	}
	return prev, nil
}

// Lookup returns the connection currently registered for userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	connID, ok := s.entries[userID]
	return connID, ok
}

// Unregister removes the entry for userID only if it still points at connID, so a late
// disconnect of a replaced connection cannot remove its successor. It reports whether an
// entry was removed.
func (r *Registry) Unregister(userID, connID string) bool {
	return r.UnregisterFunc(userID, connID, nil)
}

// UnregisterFunc is Unregister that runs announce under the identity's shard lock when the
// entry was removed. See RegisterFunc.
func (r *Registry) UnregisterFunc(userID, connID string, announce func()) bool {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[userID]
	if !ok || current != connID {
		return false
	}

	delete(s.entries, userID)
	if announce != nil {
		announce()
	}
	return true
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Users returns the registered identities in lexical order.
func (r *Registry) Users() []string {
	users := make([]string, 0)
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.entries {
			users = append(users, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(users)
	return users
}
