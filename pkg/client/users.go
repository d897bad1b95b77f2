package client

import (
	"sort"
	"sync"

	"parlance/pkg/protocol"
)

// User is the client-side mirror of one joined user. The same *User is kept
// alive across full-list resyncs, so callers may compare pointers to tell
// "the user I was watching" from a newcomer that reuses the id.
type User struct {
	protocol.UserInfo

	// Ignored is a purely local flag; the server never sees it. It survives
	// a full-list resync as long as the user does.
	Ignored bool
}

// UserRegistry mirrors the server's joined-user table.
type UserRegistry struct {
	mu    sync.RWMutex
	users map[uint32]*User
}

func newUserRegistry() *UserRegistry {
	return &UserRegistry{users: make(map[uint32]*User)}
}

// Get returns the mirrored user, or nil.
func (r *UserRegistry) Get(userID uint32) *User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[userID]
}

// All returns every mirrored user sorted by id.
func (r *UserRegistry) All() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// InChannel returns the users currently in a channel, sorted by id.
func (r *UserRegistry) InChannel(channelID uint32) []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*User
	for _, u := range r.users {
		if u.ChannelID == channelID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SetIgnored flips the local ignore flag. Unknown users are a no-op.
func (r *UserRegistry) SetIgnored(userID uint32, ignored bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.Ignored = ignored
	}
}

// IsIgnored reports the local ignore flag for a user.
func (r *UserRegistry) IsIgnored(userID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	return ok && u.Ignored
}

// Count returns the number of mirrored users.
func (r *UserRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *UserRegistry) add(info protocol.UserInfo) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &User{UserInfo: info}
	r.users[info.UserID] = u
	return u
}

func (r *UserRegistry) remove(userID uint32) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[userID]
	delete(r.users, userID)
	return u
}

func (r *UserRegistry) patch(info protocol.UserInfo) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[info.UserID]
	if !ok {
		u = &User{UserInfo: info}
		r.users[info.UserID] = u
		return u
	}
	u.UserInfo = info
	return u
}

func (r *UserRegistry) setChannel(userID, channelID uint32) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	u.ChannelID = channelID
	return u
}

func (r *UserRegistry) setMuted(userID uint32, muted bool) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	u.Muted = muted
	return u
}

// replaceAll applies a full-list resync. Existing *User values are updated
// in place so pointer identity and the local ignore flag survive; users
// absent from the new list are dropped along with their overlay, so a later
// reappearance of the same id starts clean.
func (r *UserRegistry) replaceAll(users []protocol.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint32]struct{}, len(users))
	for _, info := range users {
		seen[info.UserID] = struct{}{}
		if u, ok := r.users[info.UserID]; ok {
			u.UserInfo = info
			continue
		}
		r.users[info.UserID] = &User{UserInfo: info}
	}
	for id := range r.users {
		if _, ok := seen[id]; !ok {
			delete(r.users, id)
		}
	}
}
