package state

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"parlance/pkg/protocol"
)

// ChannelTree is the authoritative channel hierarchy. The default channel is
// seeded at construction and can never be deleted, so the server always has
// at least one channel.
type ChannelTree struct {
	mu       sync.RWMutex
	channels map[uint32]*protocol.ChannelInfo
	nextID   uint32
	log      *zap.Logger
}

// NewChannelTree seeds the tree with the default channel.
func NewChannelTree(log *zap.Logger, defaultName string) *ChannelTree {
	if strings.TrimSpace(defaultName) == "" {
		defaultName = "Lobby"
	}
	t := &ChannelTree{
		channels: make(map[uint32]*protocol.ChannelInfo),
		nextID:   protocol.DefaultChannelID,
		log:      log.With(zap.String("component", "channel_tree")),
	}
	t.channels[protocol.DefaultChannelID] = &protocol.ChannelInfo{
		ChannelID: protocol.DefaultChannelID,
		Name:      defaultName,
	}
	return t
}

// Get returns a copy of a channel.
func (t *ChannelTree) Get(channelID uint32) (*protocol.ChannelInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.channels[channelID]
	if !ok {
		return nil, false
	}
	return ch.Clone(), true
}

// Exists reports whether a channel id resolves to a live entry.
func (t *ChannelTree) Exists(channelID uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.channels[channelID]
	return ok
}

// List returns copies of every channel, sorted by id for consistent ordering.
func (t *ChannelTree) List() []protocol.ChannelInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	channels := make([]protocol.ChannelInfo, 0, len(t.channels))
	for _, ch := range t.channels {
		channels = append(channels, *ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].ChannelID < channels[j].ChannelID
	})
	return channels
}

// Create adds a channel. The request must carry channel id 0; the assigned id
// is returned on success.
func (t *ChannelTree) Create(info protocol.ChannelInfo) (uint32, protocol.ChannelEditResultCode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if info.ChannelID != 0 || strings.TrimSpace(info.Name) == "" {
		return 0, protocol.ChannelEditFailedInvalid
	}
	if info.ParentID != 0 {
		if _, ok := t.channels[info.ParentID]; !ok {
			return 0, protocol.ChannelEditFailedUnknownChannel
		}
	}

	t.nextID++
	ch := info.Clone()
	ch.ChannelID = t.nextID
	t.channels[ch.ChannelID] = ch

	t.log.Info("channel created",
		zap.Uint32("channel_id", ch.ChannelID),
		zap.String("name", ch.Name))
	return ch.ChannelID, protocol.ChannelEditSucceeded
}

// Update replaces an existing channel's attributes in place.
func (t *ChannelTree) Update(info protocol.ChannelInfo) protocol.ChannelEditResultCode {
	t.mu.Lock()
	defer t.mu.Unlock()

	if info.ChannelID == 0 {
		return protocol.ChannelEditFailedInvalid
	}
	ch, ok := t.channels[info.ChannelID]
	if !ok {
		return protocol.ChannelEditFailedUnknownChannel
	}
	if strings.TrimSpace(info.Name) == "" {
		return protocol.ChannelEditFailedInvalid
	}
	if info.ParentID != 0 {
		if _, ok := t.channels[info.ParentID]; !ok {
			return protocol.ChannelEditFailedUnknownChannel
		}
	}

	ch.Name = info.Name
	ch.Description = info.Description
	ch.ReadOnly = info.ReadOnly
	ch.UserLimit = info.UserLimit
	ch.ParentID = info.ParentID
	return protocol.ChannelEditSucceeded
}

// Delete removes a channel. The default channel is never deletable. Children
// of the deleted channel are reparented to the default channel so the tree
// never dangles.
func (t *ChannelTree) Delete(channelID uint32) protocol.ChannelEditResultCode {
	t.mu.Lock()
	defer t.mu.Unlock()

	if channelID == protocol.DefaultChannelID {
		return protocol.ChannelEditFailedDefaultChannel
	}
	if channelID == 0 {
		return protocol.ChannelEditFailedInvalid
	}
	if _, ok := t.channels[channelID]; !ok {
		return protocol.ChannelEditFailedUnknownChannel
	}
	delete(t.channels, channelID)
	for _, ch := range t.channels {
		if ch.ParentID == channelID {
			ch.ParentID = protocol.DefaultChannelID
		}
	}

	t.log.Info("channel deleted", zap.Uint32("channel_id", channelID))
	return protocol.ChannelEditSucceeded
}

// Count reports the number of channels for the stats surface.
func (t *ChannelTree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}
