package dmroom

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Get(ctx context.Context, key uuid.UUID) (*Room, error)
	// Insert stores the room unless the key already has one, and returns
	// whichever row is stored afterwards.
	Insert(ctx context.Context, room *Room) (*Room, error)
	List(ctx context.Context, limit, offset int) ([]*Room, int, error)
}
