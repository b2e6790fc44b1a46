package server

import (
	"sort"
	"strings"
	"sync"
)

// Players is the authoritative player cache, keyed by session id. Entries
// are mutated only on the world goroutine; the lock lets the HTTP side read
// counts and snapshots.
type Players struct {
	mu      sync.RWMutex
	entries map[string]*Player
}

// NewPlayers creates an empty cache
func NewPlayers() *Players {
	return &Players{entries: make(map[string]*Player)}
}

// Get returns the entry for a session, or nil
func (ps *Players) Get(id string) *Player {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.entries[id]
}

// Set stores an entry
func (ps *Players) Set(id string, p *Player) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.entries[id] = p
}

// Remove deletes an entry and reports whether it existed
func (ps *Players) Remove(id string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, ok := ps.entries[id]
	delete(ps.entries, id)
	return ok
}

// List returns every entry ordered by username
func (ps *Players) List() []*Player {
	ps.mu.RLock()
	out := make([]*Player, 0, len(ps.entries))
	for _, p := range ps.entries {
		out = append(out, p)
	}
	ps.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Clear drops every entry
func (ps *Players) Clear() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.entries = make(map[string]*Player)
}

// Len returns the number of entries
func (ps *Players) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.entries)
}

// ByUsername finds an entry by case-insensitive username
func (ps *Players) ByUsername(name string) *Player {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, p := range ps.entries {
		if strings.EqualFold(p.Username, name) {
			return p
		}
	}
	return nil
}

// ByUserID finds the entries of an account
func (ps *Players) ByUserID(id int64) []*Player {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	var out []*Player
	for _, p := range ps.entries {
		if p.UserID == id {
			out = append(out, p)
		}
	}
	return out
}

// OnMap returns the entries on a map
func (ps *Players) OnMap(name string) []*Player {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	var out []*Player
	for _, p := range ps.entries {
		if p.Location.Map == name {
			out = append(out, p)
		}
	}
	return out
}
