package audit

import (
	"encoding/json"
	"time"
)

// Direction of a chat message relative to the bot.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// UnboundUser is recorded when the sender has no verified identity binding.
const UnboundUser = "unbound"

// Entry is one processed chat message. Entries are immutable once recorded.
type Entry struct {
	TS            time.Time
	RoomID        string
	User          string
	Direction     Direction
	Action        string
	Text          string
	InteractionID string
}

// record is the on-disk line format.
type record struct {
	TS            string    `json:"ts"`
	RoomID        string    `json:"room_id"`
	User          string    `json:"user"`
	Direction     Direction `json:"direction"`
	Action        string    `json:"action"`
	Text          string    `json:"text"`
	InteractionID string    `json:"interaction_id,omitempty"`
}

func (e Entry) marshal(loc *time.Location) ([]byte, error) {
	user := e.User
	if user == "" {
		user = UnboundUser
	}
	b, err := json.Marshal(record{
		TS:            e.TS.In(loc).Format(time.RFC3339Nano),
		RoomID:        e.RoomID,
		User:          user,
		Direction:     e.Direction,
		Action:        e.Action,
		Text:          e.Text,
		InteractionID: e.InteractionID,
	})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ParseLine decodes one segment line back into an Entry.
func ParseLine(line []byte) (Entry, error) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return Entry{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, r.TS)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		TS:            ts,
		RoomID:        r.RoomID,
		User:          r.User,
		Direction:     r.Direction,
		Action:        r.Action,
		Text:          r.Text,
		InteractionID: r.InteractionID,
	}, nil
}
