package client

import (
	"sort"
	"sync"

	"parlance/pkg/protocol"
)

// Channel is the client-side mirror of one channel. Pointer identity is
// preserved across full-list resyncs, same contract as User.
type Channel struct {
	protocol.ChannelInfo
}

// ChannelRegistry mirrors the server's channel tree.
type ChannelRegistry struct {
	mu        sync.RWMutex
	channels  map[uint32]*Channel
	defaultID uint32
}

func newChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[uint32]*Channel)}
}

// Get returns the mirrored channel, or nil.
func (r *ChannelRegistry) Get(channelID uint32) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[channelID]
}

// All returns every mirrored channel sorted by id.
func (r *ChannelRegistry) All() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Children returns the direct children of a channel, sorted by id.
func (r *ChannelRegistry) Children(channelID uint32) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Channel
	for _, c := range r.channels {
		if c.ParentID == channelID && c.ChannelID != channelID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// DefaultID returns the server's default channel id, zero before the first
// channel list arrives.
func (r *ChannelRegistry) DefaultID() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// Count returns the number of mirrored channels.
func (r *ChannelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func (r *ChannelRegistry) replaceAll(channels []protocol.ChannelInfo, defaultID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint32]struct{}, len(channels))
	for _, info := range channels {
		seen[info.ChannelID] = struct{}{}
		if c, ok := r.channels[info.ChannelID]; ok {
			c.ChannelInfo = info
			continue
		}
		r.channels[info.ChannelID] = &Channel{ChannelInfo: info}
	}
	for id := range r.channels {
		if _, ok := seen[id]; !ok {
			delete(r.channels, id)
		}
	}
	r.defaultID = defaultID
}
