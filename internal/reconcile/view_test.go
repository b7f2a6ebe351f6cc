// ABOUTME: Tests for View ordering and idempotent insert
// ABOUTME: Includes an exhaustive permutation check of delivery order

package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

func at(id int64, ts int) chat.Message {
	return chat.Message{
		ID:         id,
		Collection: chat.CollectionMessages,
		Author:     "alice",
		Body:       "m",
		CreatedAt:  time.Unix(int64(ts), 0).UTC(),
	}
}

func ids(msgs []chat.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestView_InsertSortsAndDedupes(t *testing.T) {
	v := NewView()

	assert.True(t, v.Insert(at(2, 20)))
	assert.True(t, v.Insert(at(1, 10)))
	assert.False(t, v.Insert(at(2, 20)), "duplicate identity")
	assert.True(t, v.Insert(at(3, 15)))

	assert.Equal(t, []int64{1, 3, 2}, ids(v.Messages()))
	assert.Equal(t, 3, v.Len())
}

func TestView_IdentityTiebreak(t *testing.T) {
	v := NewView()
	v.Insert(at(9, 10))
	v.Insert(at(4, 10))
	v.Insert(at(7, 10))

	assert.Equal(t, []int64{4, 7, 9}, ids(v.Messages()))
}

func TestView_DuplicateKeepsFirstCopy(t *testing.T) {
	v := NewView()
	first := at(1, 10)
	first.Body = "original"
	v.Insert(first)

	dup := at(1, 10)
	dup.Body = "replayed"
	v.Insert(dup)

	require.Equal(t, 1, v.Len())
	assert.Equal(t, "original", v.Messages()[0].Body)
}

func TestView_ProvisionalEntries(t *testing.T) {
	v := NewView()
	local := chat.Message{Collection: chat.CollectionMessages, Author: "me", Body: "hi", ClientID: "tok", CreatedAt: time.Unix(30, 0)}

	require.True(t, v.Insert(at(1, 10)))
	require.True(t, v.Insert(local))
	assert.True(t, v.Has("local:tok"))

	found, ok := v.Find(func(m chat.Message) bool { return m.ClientID == "tok" })
	require.True(t, ok)
	assert.True(t, found.Provisional())

	assert.True(t, v.Remove("local:tok"))
	assert.False(t, v.Remove("local:tok"))
	assert.False(t, v.Has("local:tok"))
	assert.Equal(t, []int64{1}, ids(v.Messages()))
}

func TestView_MessagesIsACopy(t *testing.T) {
	v := NewView()
	v.Insert(at(1, 10))

	out := v.Messages()
	out[0].Body = "mutated"
	assert.Equal(t, "m", v.Messages()[0].Body)
}

func TestView_Reset(t *testing.T) {
	v := NewView()
	v.Insert(at(1, 10))
	v.Reset()
	assert.Zero(t, v.Len())
	assert.True(t, v.Insert(at(1, 10)))
}

// permute calls fn with every ordering of msgs.
func permute(msgs []chat.Message, fn func([]chat.Message)) {
	var rec func(int)
	rec = func(k int) {
		if k == len(msgs) {
			fn(msgs)
			return
		}
		for i := k; i < len(msgs); i++ {
			msgs[k], msgs[i] = msgs[i], msgs[k]
			rec(k + 1)
			msgs[k], msgs[i] = msgs[i], msgs[k]
		}
	}
	rec(0)
}

func TestView_AnyDeliveryOrderConverges(t *testing.T) {
	events := []chat.Message{at(1, 10), at(2, 20), at(3, 15), at(4, 20), at(2, 20), at(5, 5)}
	want := []int64{5, 1, 3, 2, 4}

	n := 0
	permute(events, func(order []chat.Message) {
		v := NewView()
		for _, m := range order {
			v.Insert(m)
		}
		n++
		require.Equal(t, want, ids(v.Messages()), "order %v", ids(order))
	})
	assert.Equal(t, 720, n)
}

func TestMerge(t *testing.T) {
	got := merge([]chat.Message{at(1, 10), at(2, 20)}, []chat.Message{at(2, 20), at(3, 15)})
	assert.Equal(t, []int64{1, 3, 2}, ids(got))
	assert.Empty(t, merge())
}
