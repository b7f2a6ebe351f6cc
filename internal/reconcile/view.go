// ABOUTME: Ordered, identity-keyed message view with idempotent insert
// ABOUTME: Entries stay sorted by created_at, then id, then client token

package reconcile

import (
	"sort"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// View is the reconciled sequence of one collection. No two entries share a
// key, and entries are always in chat.Less order.
//
// A View is not safe for concurrent use.
type View struct {
	msgs []chat.Message
	keys map[string]struct{}
}

// NewView creates an empty View.
func NewView() *View {
	return &View{keys: make(map[string]struct{})}
}

// Insert adds m at its sorted position. It returns false, leaving the view
// unchanged, if an entry with the same key is already present.
func (v *View) Insert(m chat.Message) bool {
	k := m.Key()
	if _, ok := v.keys[k]; ok {
		return false
	}

	i := sort.Search(len(v.msgs), func(i int) bool { return chat.Less(m, v.msgs[i]) })
	v.msgs = append(v.msgs, chat.Message{})
	copy(v.msgs[i+1:], v.msgs[i:])
	v.msgs[i] = m
	v.keys[k] = struct{}{}
	return true
}

// Remove deletes the entry with key k.
func (v *View) Remove(k string) bool {
	if _, ok := v.keys[k]; !ok {
		return false
	}
	delete(v.keys, k)
	for i := range v.msgs {
		if v.msgs[i].Key() == k {
			v.msgs = append(v.msgs[:i], v.msgs[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether an entry with key k is present.
func (v *View) Has(k string) bool {
	_, ok := v.keys[k]
	return ok
}

// Find returns the first entry, in view order, for which match is true.
func (v *View) Find(match func(chat.Message) bool) (chat.Message, bool) {
	for _, m := range v.msgs {
		if match(m) {
			return m, true
		}
	}
	return chat.Message{}, false
}

// Len returns the number of entries.
func (v *View) Len() int {
	return len(v.msgs)
}

// Messages returns a copy of the entries in order.
func (v *View) Messages() []chat.Message {
	return append([]chat.Message(nil), v.msgs...)
}

// Reset removes every entry.
func (v *View) Reset() {
	v.msgs = nil
	clear(v.keys)
}

// merge returns the union of batches, sorted and with one entry per key.
// Earlier copies of a key win.
func merge(batches ...[]chat.Message) []chat.Message {
	v := NewView()
	for _, b := range batches {
		for _, m := range b {
			v.Insert(m)
		}
	}
	return v.msgs
}
