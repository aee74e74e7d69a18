package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// SendText posts a plain-text m.room.message to roomID and returns the
// event id.
func (c *Client) SendText(ctx context.Context, roomID, text string) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID),
		url.PathEscape(newTransactionID()),
	)
	body, err := c.doRequest(ctx, http.MethodPut, path, messageContent{MsgType: "m.text", Body: text}, nil)
	if err != nil {
		return "", fmt.Errorf("matrix: send to %s failed: %w", roomID, err)
	}
	var response sendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("matrix: parse send response: %w", err)
	}
	return response.EventID, nil
}

// CreateDirectRoom creates a private 1:1 room with invitee and returns its id.
func (c *Client) CreateDirectRoom(ctx context.Context, invitee, name string) (string, error) {
	req := createRoomRequest{
		Preset:   "trusted_private_chat",
		Invite:   []string{invitee},
		IsDirect: true,
		Name:     name,
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", req, nil)
	if err != nil {
		return "", fmt.Errorf("matrix: create room failed: %w", err)
	}
	var response createRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("matrix: parse createRoom response: %w", err)
	}
	c.logger.Info().Str("room_id", response.RoomID).Str("invitee", invitee).Msg("direct room created")
	return response.RoomID, nil
}
