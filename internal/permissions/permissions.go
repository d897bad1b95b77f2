// Package permissions answers "may this user perform this action, optionally
// scoped to a channel". Grants are exact tuples: a channel-scoped grant never
// implies the global form and a global grant never implies the scoped form.
package permissions

import (
	"sort"
	"sync"

	"parlance/pkg/protocol"
)

// Provider is the pluggable permission backend consulted by every mutating
// server handler.
type Provider interface {
	// Can evaluates the tuple (user, permission, channel). ChannelID 0 asks
	// about the global form.
	Can(userID uint32, perm protocol.Permission, channelID uint32) bool
	// PermissionsFor returns the user's full grant set, for pushing to the
	// client on join and on change.
	PermissionsFor(userID uint32) []protocol.PermissionInfo
}

type grantKey struct {
	perm      protocol.Permission
	channelID uint32
}

// MemoryProvider keeps grants in memory. Users without explicit grants fall
// back to the default set every user starts with.
type MemoryProvider struct {
	mu       sync.RWMutex
	defaults map[grantKey]bool
	grants   map[uint32]map[grantKey]bool
}

// NewMemoryProvider builds a provider whose defaults apply to every user that
// has not been given an explicit grant for the same tuple.
func NewMemoryProvider(defaults ...protocol.PermissionInfo) *MemoryProvider {
	p := &MemoryProvider{
		defaults: make(map[grantKey]bool, len(defaults)),
		grants:   make(map[uint32]map[grantKey]bool),
	}
	for _, d := range defaults {
		p.defaults[grantKey{d.Name, d.ChannelID}] = d.Allowed
	}
	return p
}

// DefaultGuestPermissions is the grant set a plain guest starts with.
func DefaultGuestPermissions() []protocol.PermissionInfo {
	return []protocol.PermissionInfo{
		{Name: protocol.PermRequestChannelList, Allowed: true},
		{Name: protocol.PermRequestSource, Allowed: true},
		{Name: protocol.PermSendAudio, Allowed: true},
		{Name: protocol.PermMoveUser, Allowed: true},
	}
}

// Grant sets a single tuple for a user.
func (p *MemoryProvider) Grant(userID uint32, perm protocol.Permission, channelID uint32, allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.grants[userID]
	if !ok {
		g = make(map[grantKey]bool)
		p.grants[userID] = g
	}
	g[grantKey{perm, channelID}] = allowed
}

// SetPermissions replaces the user's explicit grant set wholesale.
func (p *MemoryProvider) SetPermissions(userID uint32, perms []protocol.PermissionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := make(map[grantKey]bool, len(perms))
	for _, pi := range perms {
		g[grantKey{pi.Name, pi.ChannelID}] = pi.Allowed
	}
	p.grants[userID] = g
}

// Forget drops a user's explicit grants, e.g. after disconnect.
func (p *MemoryProvider) Forget(userID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.grants, userID)
}

// Can looks up the exact tuple. Explicit user grants shadow defaults.
func (p *MemoryProvider) Can(userID uint32, perm protocol.Permission, channelID uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key := grantKey{perm, channelID}
	if g, ok := p.grants[userID]; ok {
		if allowed, ok := g[key]; ok {
			return allowed
		}
	}
	return p.defaults[key]
}

// PermissionsFor returns defaults overlaid with the user's explicit grants,
// sorted for stable wire output.
func (p *MemoryProvider) PermissionsFor(userID uint32) []protocol.PermissionInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	merged := make(map[grantKey]bool, len(p.defaults))
	for k, v := range p.defaults {
		merged[k] = v
	}
	for k, v := range p.grants[userID] {
		merged[k] = v
	}

	out := make([]protocol.PermissionInfo, 0, len(merged))
	for k, v := range merged {
		out = append(out, protocol.PermissionInfo{Name: k.perm, ChannelID: k.channelID, Allowed: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out
}

var _ Provider = (*MemoryProvider)(nil)
