package dmroom

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/binding"
)

// BindingLookup finds the verified chat user for a directory identity.
type BindingLookup interface {
	GetBySurrogate(ctx context.Context, key uuid.UUID) (*binding.Binding, error)
}

// RoomCreator opens a private room on the chat transport.
type RoomCreator interface {
	CreateDirectRoom(ctx context.Context, invitee, name string) (string, error)
}

// Registry provisions and checks DM rooms.
type Registry struct {
	repo     Repository
	bindings BindingLookup
	creator  RoomCreator
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewRegistry(repo Repository, bindings BindingLookup, creator RoomCreator, logger zerolog.Logger) *Registry {
	return &Registry{
		repo:     repo,
		bindings: bindings,
		creator:  creator,
		logger:   logger.With().Str("component", "dmroom").Logger(),
		locks:    make(map[uuid.UUID]*keyLock),
	}
}

// Provision returns the identity's room, creating it on first use.
// Concurrent calls for the same key create at most one room.
func (r *Registry) Provision(ctx context.Context, key uuid.UUID) (*Room, error) {
	unlock := r.lock(key)
	defer unlock()

	room, err := r.repo.Get(ctx, key)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup room: %w", err)
	}

	b, err := r.bindings.GetBySurrogate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("provision room for %s: %w", key, err)
	}

	roomID, err := r.creator.CreateDirectRoom(ctx, b.ChatUserID, "EQMD")
	if err != nil {
		return nil, fmt.Errorf("create direct room: %w", err)
	}

	stored, err := r.repo.Insert(ctx, &Room{SurrogateKey: key, RoomID: roomID})
	if err != nil {
		return nil, err
	}
	if stored.RoomID != roomID {
		r.logger.Warn().Str("surrogate_key", key.String()).Str("orphan_room_id", roomID).
			Msg("room already provisioned by another process")
	} else {
		r.logger.Info().Str("surrogate_key", key.String()).Str("room_id", roomID).Msg("dm room provisioned")
	}
	return stored, nil
}

// IsUsersRoom reports whether roomID is the room provisioned for key.
func (r *Registry) IsUsersRoom(ctx context.Context, roomID string, key uuid.UUID) (bool, error) {
	room, err := r.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return room.RoomID == roomID, nil
}

func (r *Registry) RoomFor(ctx context.Context, key uuid.UUID) (*Room, error) {
	return r.repo.Get(ctx, key)
}

func (r *Registry) List(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	return r.repo.List(ctx, limit, offset)
}

func (r *Registry) lock(key uuid.UUID) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}
