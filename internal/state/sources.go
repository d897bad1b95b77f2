package state

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"parlance/pkg/protocol"
)

// BitrateBounds are the server-side clamp applied to every requested source
// bitrate. A requested value of 0 means "use Default".
type BitrateBounds struct {
	Min     int
	Max     int
	Default int
}

// Clamp applies the bounds to a requested bitrate.
func (b BitrateBounds) Clamp(requested int) int {
	if requested == 0 {
		requested = b.Default
	}
	if requested < b.Min {
		return b.Min
	}
	if requested > b.Max {
		return b.Max
	}
	return requested
}

// SourceManager is the authoritative table of named audio sources. Source ids
// increase strictly and are never reused, even after deletion. Names are
// unique per owner only.
type SourceManager struct {
	mu      sync.RWMutex
	sources map[uint32]*protocol.SourceInfo
	byOwner map[uint32]map[string]uint32 // owner -> lowercased name -> source id
	nextID  uint32

	bitrate BitrateBounds
	log     *zap.Logger
}

// NewSourceManager builds an empty table with the given bitrate bounds.
func NewSourceManager(log *zap.Logger, bitrate BitrateBounds) *SourceManager {
	return &SourceManager{
		sources: make(map[uint32]*protocol.SourceInfo),
		byOwner: make(map[uint32]map[string]uint32),
		bitrate: bitrate,
		log:     log.With(zap.String("component", "source_manager")),
	}
}

// Create allocates a source for an owner. The duplicate-name check is scoped
// to the owner; two different owners may both have a source named "voice".
func (m *SourceManager) Create(ownerID uint32, name string, codec protocol.CodecArgs) (*protocol.SourceInfo, protocol.SourceResultCode) {
	name = strings.TrimSpace(name)
	if name == "" || ownerID == 0 {
		return nil, protocol.SourceFailedInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	names, ok := m.byOwner[ownerID]
	if !ok {
		names = make(map[string]uint32)
		m.byOwner[ownerID] = names
	}
	key := strings.ToLower(name)
	if _, exists := names[key]; exists {
		return nil, protocol.SourceFailedDuplicateName
	}

	codec.Bitrate = m.bitrate.Clamp(codec.Bitrate)

	m.nextID++
	src := &protocol.SourceInfo{
		SourceID: m.nextID,
		OwnerID:  ownerID,
		Name:     name,
		Codec:    codec,
	}
	m.sources[src.SourceID] = src
	names[key] = src.SourceID

	m.log.Info("source created",
		zap.Uint32("source_id", src.SourceID),
		zap.Uint32("owner_id", ownerID),
		zap.String("name", name),
		zap.Int("bitrate", codec.Bitrate))
	return src.Clone(), protocol.SourceSucceeded
}

// Get returns a copy of a source.
func (m *SourceManager) Get(sourceID uint32) (*protocol.SourceInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[sourceID]
	if !ok {
		return nil, false
	}
	return src.Clone(), true
}

// List returns copies of every source, sorted by id.
func (m *SourceManager) List() []protocol.SourceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := make([]protocol.SourceInfo, 0, len(m.sources))
	for _, src := range m.sources {
		sources = append(sources, *src)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SourceID < sources[j].SourceID
	})
	return sources
}

// RemoveByOwner drops every source an owner holds, returning the removed ids.
// Called when the owner disconnects or is purged.
func (m *SourceManager) RemoveByOwner(ownerID uint32) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []uint32
	for id, src := range m.sources {
		if src.OwnerID == ownerID {
			delete(m.sources, id)
			removed = append(removed, id)
		}
	}
	delete(m.byOwner, ownerID)
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// Remove drops a single source, e.g. an explicit release.
func (m *SourceManager) Remove(sourceID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[sourceID]
	if !ok {
		return false
	}
	delete(m.sources, sourceID)
	if names, ok := m.byOwner[src.OwnerID]; ok {
		delete(names, strings.ToLower(src.Name))
	}
	return true
}

// SetMuted flips a source's muted flag; false change when already there.
func (m *SourceManager) SetMuted(sourceID uint32, muted bool) (changed bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, exists := m.sources[sourceID]
	if !exists {
		return false, false
	}
	if src.Muted == muted {
		return false, true
	}
	src.Muted = muted
	return true, true
}

// Count reports the number of live sources for the stats surface.
func (m *SourceManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}
