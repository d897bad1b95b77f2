package client

import (
	"sort"
	"sync"

	"parlance/pkg/protocol"
)

// Source is the client-side mirror of one audio source.
type Source struct {
	protocol.SourceInfo

	// Talking tracks the most recent audio_state broadcast for the source.
	Talking bool
}

// SourceRegistry mirrors the server's source table, indexed by id and owner.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[uint32]*Source
	byOwner map[uint32]map[uint32]*Source
}

func newSourceRegistry() *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[uint32]*Source),
		byOwner: make(map[uint32]map[uint32]*Source),
	}
}

// Get returns the mirrored source, or nil.
func (r *SourceRegistry) Get(sourceID uint32) *Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceID]
}

// All returns every mirrored source sorted by id.
func (r *SourceRegistry) All() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// OwnedBy returns a user's sources sorted by id.
func (r *SourceRegistry) OwnedBy(ownerID uint32) []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, 0, len(r.byOwner[ownerID]))
	for _, s := range r.byOwner[ownerID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Count returns the number of mirrored sources.
func (r *SourceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

func (r *SourceRegistry) add(info protocol.SourceInfo) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(info)
}

func (r *SourceRegistry) addLocked(info protocol.SourceInfo) *Source {
	if s, ok := r.sources[info.SourceID]; ok {
		if s.OwnerID != info.OwnerID {
			r.dropOwnerIndexLocked(s)
			r.indexOwnerLocked(info.OwnerID, s)
		}
		s.SourceInfo = info
		return s
	}
	s := &Source{SourceInfo: info}
	r.sources[info.SourceID] = s
	r.indexOwnerLocked(info.OwnerID, s)
	return s
}

func (r *SourceRegistry) indexOwnerLocked(ownerID uint32, s *Source) {
	owned, ok := r.byOwner[ownerID]
	if !ok {
		owned = make(map[uint32]*Source)
		r.byOwner[ownerID] = owned
	}
	owned[s.SourceID] = s
}

func (r *SourceRegistry) dropOwnerIndexLocked(s *Source) {
	if owned, ok := r.byOwner[s.OwnerID]; ok {
		delete(owned, s.SourceID)
		if len(owned) == 0 {
			delete(r.byOwner, s.OwnerID)
		}
	}
}

func (r *SourceRegistry) remove(sourceIDs []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range sourceIDs {
		if s, ok := r.sources[id]; ok {
			r.dropOwnerIndexLocked(s)
			delete(r.sources, id)
		}
	}
}

func (r *SourceRegistry) setTalking(sourceID uint32, talking bool) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[sourceID]
	if !ok {
		return nil
	}
	s.Talking = talking
	return s
}

func (r *SourceRegistry) setMuted(sourceID uint32, muted bool) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[sourceID]
	if !ok {
		return nil
	}
	s.Muted = muted
	return s
}

func (r *SourceRegistry) replaceAll(sources []protocol.SourceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint32]struct{}, len(sources))
	for _, info := range sources {
		seen[info.SourceID] = struct{}{}
		r.addLocked(info)
	}
	for id, s := range r.sources {
		if _, ok := seen[id]; !ok {
			r.dropOwnerIndexLocked(s)
			delete(r.sources, id)
		}
	}
}
