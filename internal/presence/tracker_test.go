// ABOUTME: Tests for the presence Tracker state machine
// ABOUTME: Covers idempotent joins and leaves, ordering and reset

package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_JoinLeave(t *testing.T) {
	tr := New()
	assert.False(t, tr.Present("alice"))

	assert.True(t, tr.Join("alice"))
	assert.False(t, tr.Join("alice"), "second join is not a change")
	assert.True(t, tr.Present("alice"))

	assert.True(t, tr.Join("bob"))
	assert.Equal(t, 2, tr.Len())

	assert.True(t, tr.Leave("alice"))
	assert.False(t, tr.Leave("alice"), "leave of an absent user is not a change")
	assert.False(t, tr.Leave("carol"))

	assert.Equal(t, []string{"bob"}, tr.Members())
}

func TestTracker_EmptyUserIgnored(t *testing.T) {
	tr := New()
	assert.False(t, tr.Join(""))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_MembersSorted(t *testing.T) {
	tr := New()
	for _, u := range []string{"zoe", "alice", "mallory", "bob"} {
		tr.Join(u)
	}
	assert.Equal(t, []string{"alice", "bob", "mallory", "zoe"}, tr.Members())
}

func TestTracker_Reset(t *testing.T) {
	tr := New()
	assert.False(t, tr.Reset(), "reset of an empty set is not a change")

	tr.Join("alice")
	tr.Join("bob")
	assert.True(t, tr.Reset())
	assert.Empty(t, tr.Members())

	assert.True(t, tr.Join("alice"), "users can rejoin after reset")
}
