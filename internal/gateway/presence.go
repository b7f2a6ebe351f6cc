// ABOUTME: Presence hub tracking which users are joined to each room
// ABOUTME: Announces a user on their first connection and retracts them after their last

package gateway

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

type presenceMember struct {
	user string
	ref  string
}

type presenceRoom struct {
	counts  map[string]int              // user -> joined connections
	members map[*wsConn]presenceMember // connection -> who it announced
}

type presenceHub struct {
	mu      sync.Mutex
	rooms   map[string]*presenceRoom
	metrics *metrics
	logger  *slog.Logger
}

func newPresenceHub(m *metrics, logger *slog.Logger) *presenceHub {
	return &presenceHub{
		rooms:   make(map[string]*presenceRoom),
		metrics: m,
		logger:  logger.With("component", "presence"),
	}
}

func presenceFrame(room, event, ref, user string) *chat.Frame {
	f, _ := chat.NewFrame(chat.PresenceTopic(room), event, ref, chat.PresencePayload{User: user})
	return f
}

// join records that c announced user in room. The joiner receives the full
// member list (itself included); the rest of the room hears about user only
// if this is the user's first connection.
func (h *presenceHub) join(room, user, ref string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[room]
	if !ok {
		r = &presenceRoom{
			counts:  make(map[string]int),
			members: make(map[*wsConn]presenceMember),
		}
		h.rooms[room] = r
	}

	if prev, ok := r.members[c]; ok {
		if prev.user == user {
			r.members[c] = presenceMember{user: user, ref: ref}
			h.sendMembers(r, room, ref, c)
			return
		}
		h.removeLocked(room, r, c)
	}

	r.members[c] = presenceMember{user: user, ref: ref}
	r.counts[user]++
	first := r.counts[user] == 1

	h.sendMembers(r, room, ref, c)

	if first {
		h.metrics.presenceMembers.Inc()
		h.logger.Debug("user joined", "room", room, "user", user)
		for other, m := range r.members {
			if other != c {
				other.enqueue(presenceFrame(room, chat.EventPresenceJoin, m.ref, user))
			}
		}
	}
}

func (h *presenceHub) sendMembers(r *presenceRoom, room, ref string, c *wsConn) {
	users := make([]string, 0, len(r.counts))
	for u := range r.counts {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		c.enqueue(presenceFrame(room, chat.EventPresenceJoin, ref, u))
	}
}

// leave removes c from room.
func (h *presenceHub) leave(room string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[room]
	if !ok {
		return
	}
	h.removeLocked(room, r, c)
}

func (h *presenceHub) removeLocked(room string, r *presenceRoom, c *wsConn) {
	m, ok := r.members[c]
	if !ok {
		return
	}
	delete(r.members, c)

	r.counts[m.user]--
	if r.counts[m.user] <= 0 {
		delete(r.counts, m.user)
		h.metrics.presenceMembers.Dec()
		h.logger.Debug("user left", "room", room, "user", m.user)
		for other, om := range r.members {
			other.enqueue(presenceFrame(room, chat.EventPresenceLeave, om.ref, m.user))
		}
	}

	if len(r.members) == 0 {
		delete(h.rooms, room)
	}
}

// members returns the users present in room, sorted.
func (h *presenceHub) members(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[room]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(r.counts))
	for u := range r.counts {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
