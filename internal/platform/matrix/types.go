package matrix

import "time"

// Event is a raw timeline event.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
}

// SyncResponse is the subset of /sync the bot reads.
type SyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]JoinedRoom `json:"join"`
	} `json:"rooms"`
}

// JoinedRoom holds new timeline events for one joined room.
type JoinedRoom struct {
	Timeline struct {
		Events []Event `json:"events"`
	} `json:"timeline"`
}

// Message is a text message delivered to the bot.
type Message struct {
	EventID   string
	RoomID    string
	Sender    string
	Body      string
	Timestamp time.Time
}

// messageContent is the body of an m.room.message event.
type messageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

type sendEventResponse struct {
	EventID string `json:"event_id"`
}

// createRoomRequest is the body of POST /createRoom.
type createRoomRequest struct {
	Preset   string   `json:"preset,omitempty"`
	Invite   []string `json:"invite,omitempty"`
	IsDirect bool     `json:"is_direct,omitempty"`
	Name     string   `json:"name,omitempty"`
	Topic    string   `json:"topic,omitempty"`
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

// messages extracts text messages from a sync response, skipping the bot's
// own events and anything that is not m.text.
func (r *SyncResponse) messages(self string) []Message {
	var out []Message
	for roomID, room := range r.Rooms.Join {
		for _, ev := range room.Timeline.Events {
			if ev.Type != "m.room.message" || ev.Sender == self {
				continue
			}
			if msgType, _ := ev.Content["msgtype"].(string); msgType != "m.text" {
				continue
			}
			body, _ := ev.Content["body"].(string)
			out = append(out, Message{
				EventID:   ev.EventID,
				RoomID:    roomID,
				Sender:    ev.Sender,
				Body:      body,
				Timestamp: time.UnixMilli(ev.OriginServerTS),
			})
		}
	}
	return out
}
