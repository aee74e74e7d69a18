// Package conversation holds the per-room selection state and the state
// machine that turns parsed commands into replies.
package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carlosapgomes/eqmd-sub012/internal/platform/metrics"
)

// ErrNoPending means the room has no stored selection.
var ErrNoPending = errors.New("conversation: no pending selection")

// PendingSelection is the ranked list a room may currently pick from.
type PendingSelection struct {
	RoomID     string
	Identity   uuid.UUID
	Candidates []uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ValidAt reports whether a reply at now may still use the selection.
func (p *PendingSelection) ValidAt(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// Store keeps at most one PendingSelection per room.
type Store interface {
	Get(ctx context.Context, roomID string) (*PendingSelection, error)
	Put(ctx context.Context, sel *PendingSelection) error
	Delete(ctx context.Context, roomID string) error
	// Sweep deletes the room's selection only if it has expired at now,
	// and reports whether it did.
	Sweep(ctx context.Context, roomID string, now time.Time) (bool, error)
	// Expired lists rooms whose selection has expired at now.
	Expired(ctx context.Context, now time.Time) ([]string, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*PendingSelection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*PendingSelection)}
}

func (s *MemoryStore) Get(_ context.Context, roomID string) (*PendingSelection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNoPending
	}
	cp := *sel
	cp.Candidates = append([]uuid.UUID(nil), sel.Candidates...)
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, sel *PendingSelection) error {
	cp := *sel
	cp.Candidates = append([]uuid.UUID(nil), sel.Candidates...)

	s.mu.Lock()
	s.rooms[sel.RoomID] = &cp
	n := len(s.rooms)
	s.mu.Unlock()

	metrics.PendingSelections.Set(float64(n))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	delete(s.rooms, roomID)
	n := len(s.rooms)
	s.mu.Unlock()

	metrics.PendingSelections.Set(float64(n))
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, roomID string, now time.Time) (bool, error) {
	s.mu.Lock()
	sel, ok := s.rooms[roomID]
	swept := ok && !sel.ValidAt(now)
	if swept {
		delete(s.rooms, roomID)
	}
	n := len(s.rooms)
	s.mu.Unlock()

	metrics.PendingSelections.Set(float64(n))
	return swept, nil
}

func (s *MemoryStore) Expired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	var out []string
	for room, sel := range s.rooms {
		if !sel.ValidAt(now) {
			out = append(out, room)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored selections.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
