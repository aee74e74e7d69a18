package dmroom

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carlosapgomes/eqmd-sub012/pkg/pagination"
)

// MemoryRepo keeps rooms in process memory.
type MemoryRepo struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*Room
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rooms: make(map[uuid.UUID]*Room)}
}

func (m *MemoryRepo) Get(_ context.Context, key uuid.UUID) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (m *MemoryRepo) Insert(_ context.Context, room *Room) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rooms[room.SurrogateKey]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *room
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.rooms[room.SurrogateKey] = &stored
	cp := stored
	return &cp, nil
}

func (m *MemoryRepo) List(_ context.Context, limit, offset int) ([]*Room, int, error) {
	m.mu.RLock()
	all := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		cp := *room
		all = append(all, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].SurrogateKey.String() < all[j].SurrogateKey.String()
	})
	return pagination.Page(all, limit, offset), len(all), nil
}
