package binding

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists bindings. Lookups return ErrNotFound when no row
// matches; writes that would bind one surrogate key to two active chat
// users return ErrConflict.
type Repository interface {
	GetByChatUser(ctx context.Context, chatUserID string) (*Binding, error)
	GetActiveByKey(ctx context.Context, key uuid.UUID) (*Binding, error)
	Upsert(ctx context.Context, b *Binding) error
	SetVerified(ctx context.Context, chatUserID string, verified bool) error
	SetActive(ctx context.Context, chatUserID string, active bool) error
	DeactivateKey(ctx context.Context, key uuid.UUID) (int, error)
	List(ctx context.Context, limit, offset int) ([]*Binding, int, error)
}
