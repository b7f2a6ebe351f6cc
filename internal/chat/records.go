// ABOUTME: Table record encodings for messages and direct_messages rows
// ABOUTME: Keeps the column names the database and change feed use on the wire

package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRecord is a row of the messages table.
type MessageRecord struct {
	ID         int64     `json:"id,omitempty"`
	Username   string    `json:"username"`
	Message    string    `json:"message"`
	ProfilePic string    `json:"profile_pic,omitempty"`
	Role       string    `json:"role,omitempty"`
	Status     string    `json:"status,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// DirectMessageRecord is a row of the direct_messages table.
type DirectMessageRecord struct {
	ID        int64     `json:"id,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// EncodeRecord marshals m as a row of its collection.
func EncodeRecord(m Message) (json.RawMessage, error) {
	switch m.Collection {
	case CollectionMessages:
		return json.Marshal(MessageRecord{
			ID:         m.ID,
			Username:   m.Author,
			Message:    m.Body,
			ProfilePic: m.AvatarURL,
			Role:       m.Role,
			Status:     m.Status,
			ClientID:   m.ClientID,
			CreatedAt:  m.CreatedAt,
		})
	case CollectionDirectMessages:
		return json.Marshal(DirectMessageRecord{
			ID:        m.ID,
			Sender:    m.Author,
			Recipient: m.Recipient,
			Message:   m.Body,
			ClientID:  m.ClientID,
			CreatedAt: m.CreatedAt,
		})
	default:
		return nil, fmt.Errorf("unknown collection %q", m.Collection)
	}
}

// DecodeRecord unmarshals a row of collection c into a Message.
func DecodeRecord(c Collection, data []byte) (Message, error) {
	switch c {
	case CollectionMessages:
		var r MessageRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return Message{}, fmt.Errorf("decoding messages row: %w", err)
		}
		return Message{
			ID:         r.ID,
			Collection: c,
			Author:     r.Username,
			Body:       r.Message,
			AvatarURL:  r.ProfilePic,
			Role:       r.Role,
			Status:     r.Status,
			ClientID:   r.ClientID,
			CreatedAt:  r.CreatedAt,
		}, nil
	case CollectionDirectMessages:
		var r DirectMessageRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return Message{}, fmt.Errorf("decoding direct_messages row: %w", err)
		}
		return Message{
			ID:         r.ID,
			Collection: c,
			Author:     r.Sender,
			Recipient:  r.Recipient,
			Body:       r.Message,
			ClientID:   r.ClientID,
			CreatedAt:  r.CreatedAt,
		}, nil
	default:
		return Message{}, fmt.Errorf("unknown collection %q", c)
	}
}

// DecodeRows unmarshals a JSON array of rows of collection c.
func DecodeRows(c Collection, data []byte) ([]Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding rows: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		m, err := DecodeRecord(c, r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
