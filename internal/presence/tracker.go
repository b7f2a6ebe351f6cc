// ABOUTME: Online-user set derived from presence channel join and leave events
// ABOUTME: Owned by one goroutine; there is no snapshot step for presence

package presence

import "sort"

// Tracker is the set of users currently present in a room. Each user is
// either absent or present; every user starts absent.
//
// A Tracker is not safe for concurrent use. The session mutates it only
// from its owner goroutine.
type Tracker struct {
	members map[string]struct{}
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{members: make(map[string]struct{})}
}

// Join marks user present and reports whether the set changed.
func (t *Tracker) Join(user string) bool {
	if user == "" {
		return false
	}
	if _, ok := t.members[user]; ok {
		return false
	}
	t.members[user] = struct{}{}
	return true
}

// Leave marks user absent and reports whether the set changed.
func (t *Tracker) Leave(user string) bool {
	if _, ok := t.members[user]; !ok {
		return false
	}
	delete(t.members, user)
	return true
}

// Present reports whether user is in the set.
func (t *Tracker) Present(user string) bool {
	_, ok := t.members[user]
	return ok
}

// Len returns the number of present users.
func (t *Tracker) Len() int {
	return len(t.members)
}

// Members returns the present users in sorted order.
func (t *Tracker) Members() []string {
	out := make([]string, 0, len(t.members))
	for u := range t.members {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Reset marks every user absent and reports whether the set changed.
// Called at teardown and before the server replays members after a
// reconnect.
func (t *Tracker) Reset() bool {
	if len(t.members) == 0 {
		return false
	}
	clear(t.members)
	return true
}
