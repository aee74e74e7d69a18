package binding

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carlosapgomes/eqmd-sub012/pkg/pagination"
)

// MemoryRepo is an in-process Repository used with STORE_DRIVER=memory
// and in tests. It enforces the same uniqueness rules as the SQL schema.
type MemoryRepo struct {
	mu     sync.RWMutex
	byUser map[string]*Binding
	now    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byUser: make(map[string]*Binding), now: time.Now}
}

func (m *MemoryRepo) GetByChatUser(_ context.Context, chatUserID string) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byUser[chatUserID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryRepo) GetActiveByKey(_ context.Context, key uuid.UUID) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.byUser {
		if b.SurrogateKey == key && b.Active {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) Upsert(_ context.Context, b *Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Active {
		for user, other := range m.byUser {
			if user != b.ChatUserID && other.Active && other.SurrogateKey == b.SurrogateKey {
				return ErrConflict
			}
		}
	}
	now := m.now().UTC()
	if existing, ok := m.byUser[b.ChatUserID]; ok {
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
	} else {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	cp := *b
	m.byUser[b.ChatUserID] = &cp
	return nil
}

func (m *MemoryRepo) SetVerified(_ context.Context, chatUserID string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byUser[chatUserID]
	if !ok {
		return ErrNotFound
	}
	b.Verified = verified
	b.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepo) SetActive(_ context.Context, chatUserID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byUser[chatUserID]
	if !ok {
		return ErrNotFound
	}
	if active {
		for user, other := range m.byUser {
			if user != chatUserID && other.Active && other.SurrogateKey == b.SurrogateKey {
				return ErrConflict
			}
		}
	}
	b.Active = active
	b.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepo) DeactivateKey(_ context.Context, key uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.byUser {
		if b.SurrogateKey == key && b.Active {
			b.Active = false
			b.UpdatedAt = m.now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepo) List(_ context.Context, limit, offset int) ([]*Binding, int, error) {
	m.mu.RLock()
	all := make([]*Binding, 0, len(m.byUser))
	for _, b := range m.byUser {
		cp := *b
		all = append(all, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return pagination.Page(all, limit, offset), len(all), nil
}
