// Package presence keeps a tab's belief about who is online. It is a
// last-write-wins register per user id fed by gossip from the bus, not a
// source of truth: two tabs may disagree until the next update reaches them.
package presence

import (
	"sort"
	"sync"

	"github.com/nexus/chat-app/internal/model"
)

// Kind classifies a presence change.
type Kind int

const (
	Join Kind = iota
	Update
	Leave
)

func (k Kind) String() string {
	switch k {
	case Join:
		return "join"
	case Update:
		return "update"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

type entry struct {
	user   model.User
	ts     int64
	online bool
}

// Map is a concurrency-safe LWW presence map.
type Map struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{entries: make(map[string]entry)}
}

// Apply records a change observed at ts (unix ms). Older observations than the
// one already held are ignored; at equal timestamps a leave wins. It reports
// whether the map changed.
func (m *Map) Apply(u model.User, kind Kind, ts int64) bool {
	if u.ID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	online := kind != Leave
	if cur, ok := m.entries[u.ID]; ok {
		if ts < cur.ts {
			return false
		}
		if ts == cur.ts && online && !cur.online {
			return false
		}
	}

	u = u.Sanitized()
	u.IsOnline = online
	m.entries[u.ID] = entry{user: u, ts: ts, online: online}
	return true
}

// Patch replaces the record of a user already believed online, keeping the
// timestamp it was last observed at. It is for local edits that carry no clock
// of the peer that owns the entry. It reports whether the map changed.
func (m *Map) Patch(u model.User) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[u.ID]
	if !ok || !cur.online {
		return false
	}
	u = u.Sanitized()
	u.IsOnline = true
	cur.user = u
	m.entries[u.ID] = cur
	return true
}

// Reset forgets every entry.
func (m *Map) Reset() {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
}

// Get returns the user if believed online.
func (m *Map) Get(id string) (model.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok || !e.online {
		return model.User{}, false
	}
	return e.user, true
}

// Online returns the users believed online, sorted by name.
func (m *Map) Online() []model.User {
	m.mu.RLock()
	users := make([]model.User, 0, len(m.entries))
	for _, e := range m.entries {
		if e.online {
			users = append(users, e.user)
		}
	}
	m.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].Key() == users[j].Key() {
			return users[i].ID < users[j].ID
		}
		return users[i].Key() < users[j].Key()
	})
	return users
}

// Len returns the number of users believed online.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.online {
			n++
		}
	}
	return n
}
