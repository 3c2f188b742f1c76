package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Member is one registry entry as seen by Snapshot.
type Member struct {
	ID     SessionID
	Handle string
	Joined time.Time
}

// Registry is the shared source of truth for who is currently chatting.
// Entries are keyed by session id; handle uniqueness is not enforced, so
// two sessions may present the same handle at the same time.
type Registry struct {
	mu      sync.RWMutex
	members map[SessionID]Member
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[SessionID]Member)}
}

// Register records a session under the given handle. Re-registering an id
// replaces its previous entry.
func (r *Registry) Register(id SessionID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[id] = Member{ID: id, Handle: handle, Joined: time.Now()}
}

// Deregister removes a session. Safe to call for an id that was never
// registered or is already gone.
func (r *Registry) Deregister(id SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns the live membership ordered by join time.
func (r *Registry) Snapshot() []Member {
	r.mu.RLock()
	members := lo.Values(r.members)
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].Joined.Equal(members[j].Joined) {
			return members[i].ID < members[j].ID
		}
		return members[i].Joined.Before(members[j].Joined)
	})
	return members
}

// Handles lists the handles of everyone except the given session, feeding
// the peer list shown to a client on connect.
func (r *Registry) Handles(exclude SessionID) []string {
	return lo.FilterMap(r.Snapshot(), func(m Member, _ int) (string, bool) {
		return m.Handle, m.ID != exclude
	})
}
