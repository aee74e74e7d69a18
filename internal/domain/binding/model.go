// Package binding maps chat-platform users to directory identities.
// Bindings are created by administrators only; the bot never creates one
// on its own.
package binding

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnbound means the chat user has no verified binding.
	ErrUnbound = errors.New("binding: chat user is not bound")
	// ErrNotFound means no binding row exists for the lookup.
	ErrNotFound = errors.New("binding: not found")
	// ErrConflict means the surrogate key is already actively bound to
	// another chat user.
	ErrConflict = errors.New("binding: surrogate key already bound")
)

// Binding is the admin-approved mapping from a chat user to a directory
// identity. There is at most one row per chat user.
type Binding struct {
	ID           uuid.UUID `json:"id"`
	ChatUserID   string    `json:"chat_user_id"`
	SurrogateKey uuid.UUID `json:"surrogate_key"`
	Verified     bool      `json:"verified"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Usable reports whether the binding may authorize commands.
func (b *Binding) Usable() bool {
	return b != nil && b.Verified && b.Active
}

// Resolution is the outcome of resolving a verified binding.
type Resolution struct {
	Key    uuid.UUID
	Active bool
}

// ValidateChatUserID checks the Matrix user id shape "@localpart:server".
func ValidateChatUserID(id string) error {
	if !strings.HasPrefix(id, "@") {
		return fmt.Errorf("chat user id %q must start with @", id)
	}
	local, server, ok := strings.Cut(id[1:], ":")
	if !ok || local == "" || server == "" {
		return fmt.Errorf("chat user id %q must look like @user:server", id)
	}
	if len(id) > 255 {
		return fmt.Errorf("chat user id is too long")
	}
	return nil
}
