// ABOUTME: Websocket frame format for the change feed and presence channels
// ABOUTME: Frames are JSON envelopes multiplexed over one connection by topic and ref

package chat

import "encoding/json"

// Frame events.
const (
	EventJoin          = "join"
	EventLeave         = "leave"
	EventReply         = "reply"
	EventInsert        = "insert"
	EventPresenceJoin  = "presence_join"
	EventPresenceLeave = "presence_leave"
)

// ChangeTypeInsert is the only change type the feed emits.
const ChangeTypeInsert = "INSERT"

// Frame is one websocket message. Ref correlates a join with its reply and
// tags every event delivered to that subscription.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload is sent by a client joining a topic.
type JoinPayload struct {
	// User is announced on presence topics.
	User string `json:"user,omitempty"`
}

// ReplyPayload answers a join.
type ReplyPayload struct {
	Status string `json:"status"` // "ok" or "error"
	Reason string `json:"reason,omitempty"`
}

// ChangePayload describes one row change on a table.
type ChangePayload struct {
	Schema string          `json:"schema"`
	Table  string          `json:"table"`
	Type   string          `json:"type"`
	New    json.RawMessage `json:"new"`
}

// PresencePayload carries the user a presence event is about.
type PresencePayload struct {
	User string `json:"user"`
}

// NewFrame builds a frame with a JSON-encoded payload.
func NewFrame(topic, event, ref string, payload any) (*Frame, error) {
	f := &Frame{Topic: topic, Event: event, Ref: ref}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = data
	}
	return f, nil
}

// InsertFrame builds the change-feed frame announcing m.
func InsertFrame(m Message) (*Frame, error) {
	rec, err := EncodeRecord(m)
	if err != nil {
		return nil, err
	}
	return NewFrame(BroadcastTopic(m.Collection), EventInsert, "", ChangePayload{
		Schema: Schema,
		Table:  string(m.Collection),
		Type:   ChangeTypeInsert,
		New:    rec,
	})
}
