package syncgroup

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lodgevision/signage/internal/errs"
	"github.com/lodgevision/signage/internal/model"
)

// Store holds sync group state. Implementations must serialize
// mutations per group id so concurrent playback verbs and the tick
// loop never interleave on the same group. Cross-group operations are
// independent.
type Store interface {
	Get(id uuid.UUID) (*model.SyncGroup, error)
	List() []*model.SyncGroup
	Put(g *model.SyncGroup)
	Delete(id uuid.UUID) bool
	// Mutate runs fn under the group's write lock and returns a copy of
	// the updated group. fn receives a working copy; the mutation is
	// committed only when fn returns nil.
	Mutate(id uuid.UUID, fn func(*model.SyncGroup) error) (*model.SyncGroup, error)
}

// MemoryStore is the in-memory Store. Sync group state is rebuildable
// from scratch, so nothing is persisted across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[uuid.UUID]*groupSlot
}

type groupSlot struct {
	mu    sync.Mutex
	group *model.SyncGroup
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[uuid.UUID]*groupSlot)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(id uuid.UUID) (*model.SyncGroup, error) {
	s.mu.RLock()
	slot, ok := s.groups[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrGroupNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.group.Clone(), nil
}

func (s *MemoryStore) List() []*model.SyncGroup {
	s.mu.RLock()
	slots := make([]*groupSlot, 0, len(s.groups))
	for _, slot := range s.groups {
		slots = append(slots, slot)
	}
	s.mu.RUnlock()

	out := make([]*model.SyncGroup, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		out = append(out, slot.group.Clone())
		slot.mu.Unlock()
	}
	return out
}

func (s *MemoryStore) Put(g *model.SyncGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = &groupSlot{group: g.Clone()}
}

func (s *MemoryStore) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return false
	}
	delete(s.groups, id)
	return true
}

func (s *MemoryStore) Mutate(id uuid.UUID, fn func(*model.SyncGroup) error) (*model.SyncGroup, error) {
	s.mu.RLock()
	slot, ok := s.groups[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrGroupNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	working := slot.group.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	slot.group = working
	return working.Clone(), nil
}
