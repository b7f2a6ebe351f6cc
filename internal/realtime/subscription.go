// ABOUTME: One logical subscription on the shared change-feed connection
// ABOUTME: Callbacks run under the subscription lock so Close can guarantee none follow it

package realtime

import (
	"sync"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// State is the lifecycle state of a Subscription.
type State int

const (
	// StatePending means a join was sent (or will be once connected) and
	// the server has not confirmed it on the current connection.
	StatePending State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives a subscription's events. Every field is optional.
// Handlers run on the client's read goroutine and must not block or call
// Close on their own subscription.
type Handler struct {
	// OnInsert is called once per change notification, in delivery order.
	OnInsert func(chat.Message)

	// OnJoin and OnLeave report presence changes on presence topics.
	OnJoin  func(user string)
	OnLeave func(user string)

	// OnActive is called each time the server confirms the join. resumed
	// is true after a reconnect; events sent while disconnected are lost.
	OnActive func(resumed bool)

	// OnError is called once when the subscription ends without Close
	// being called. The error wraps chat.ErrConnectionLost.
	OnError func(error)
}

// Subscription is one joined topic.
type Subscription struct {
	client  *Client
	topic   string
	ref     string
	payload any
	handler Handler

	mu         sync.Mutex
	state      State
	epoch      uint64 // connection the current activation belongs to
	everActive bool
}

// Topic returns the wire topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close leaves the topic. When Close returns no handler of this
// subscription is running and none will run again.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.client.remove(s)
}

func (s *Subscription) activate(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if s.state == StateActive && s.epoch == epoch {
		return
	}
	resumed := s.everActive
	s.state = StateActive
	s.epoch = epoch
	s.everActive = true

	if s.handler.OnActive != nil {
		s.handler.OnActive(resumed)
	}
}

// suspend moves an active subscription back to pending when its
// connection drops.
func (s *Subscription) suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = StatePending
	}
}

// fail closes the subscription and reports err, unless it was already closed.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
}

// deliver runs fn with the handler if the subscription is active on epoch.
func (s *Subscription) deliver(epoch uint64, fn func(h *Handler)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive || s.epoch != epoch {
		return
	}
	fn(&s.handler)
}
