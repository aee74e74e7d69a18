// Package dmroom tracks the private room between the bot and each
// directory identity.
package dmroom

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("dmroom: not found")

// Room is the 1:1 channel provisioned for one surrogate key.
type Room struct {
	SurrogateKey uuid.UUID `json:"surrogate_key"`
	RoomID       string    `json:"room_id"`
	CreatedAt    time.Time `json:"created_at"`
}
