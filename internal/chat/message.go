// ABOUTME: Message model shared by the realtime client core and the backend
// ABOUTME: Defines collections, topics, table records and the canonical view ordering

package chat

import (
	"strconv"
	"strings"
	"time"
)

// Collection names a table exposed by the realtime database.
type Collection string

const (
	CollectionMessages       Collection = "messages"
	CollectionDirectMessages Collection = "direct_messages"
)

// Schema is the database schema every collection lives in.
const Schema = "public"

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	return c == CollectionMessages || c == CollectionDirectMessages
}

// Message is a single immutable chat entry. Room messages and direct messages
// share this shape; Recipient is only set for direct messages.
type Message struct {
	ID         int64
	Collection Collection
	Author     string
	Body       string
	Recipient  string
	AvatarURL  string
	Role       string
	Status     string

	// ClientID is the idempotency token supplied by the sending client.
	// It lets a sender recognise the server echo of its own optimistic insert.
	ClientID string

	CreatedAt time.Time
}

// Provisional reports whether m is a local echo that the server has not
// assigned an identity to yet.
func (m Message) Provisional() bool {
	return m.ID == 0
}

// Key returns the identity m is stored under in a view.
func (m Message) Key() string {
	if m.ID == 0 {
		return "local:" + m.ClientID
	}
	return strconv.FormatInt(m.ID, 10)
}

// Involves reports whether user is the sender or recipient of a direct message.
func (m Message) Involves(user string) bool {
	return m.Author == user || m.Recipient == user
}

// Less orders messages by CreatedAt ascending, then ID, then client token.
// Views are kept sorted by this relation.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.ClientID < b.ClientID
}

// Topic identifies one logical subscription: a collection plus an optional
// participant filter (direct messages are only delivered to their participants).
type Topic struct {
	Collection  Collection
	Participant string
}

// String renders the topic in its wire form, e.g. "realtime:public:messages".
func (t Topic) String() string {
	s := "realtime:" + Schema + ":" + string(t.Collection)
	if t.Participant != "" {
		s += ":" + t.Participant
	}
	return s
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(s string) (Topic, bool) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 3 || parts[0] != "realtime" || parts[1] != Schema {
		return Topic{}, false
	}
	t := Topic{Collection: Collection(parts[2])}
	if !t.Collection.Valid() {
		return Topic{}, false
	}
	if len(parts) == 4 {
		t.Participant = parts[3]
	}
	return t, true
}

// BroadcastTopic is the topic the backend publishes inserts of a collection on,
// before per-subscriber participant filtering.
func BroadcastTopic(c Collection) string {
	return Topic{Collection: c}.String()
}

// PresenceTopic is the topic of the presence channel for a room.
func PresenceTopic(room string) string {
	return "presence:" + room
}
