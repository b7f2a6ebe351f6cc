// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping its ordering and uniqueness rules

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	rows     map[chat.Collection][]chat.Message
	clientID map[string]int64 // keyed by "collection:clientID"
	nextID   map[chat.Collection]int64
	now      func() time.Time

	// ListErr, when set, is returned by ListMessages.
	ListErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		rows:     make(map[chat.Collection][]chat.Message),
		clientID: make(map[string]int64),
		nextID:   make(map[chat.Collection]int64),
		now:      time.Now,
	}
}

// InsertMessage stores a copy of msg and fills in ID and CreatedAt.
func (m *MockStore) InsertMessage(ctx context.Context, msg *chat.Message) error {
	if !msg.Collection.Valid() {
		return fmt.Errorf("unknown collection %q", msg.Collection)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ClientID != "" {
		if _, ok := m.clientID[string(msg.Collection)+":"+msg.ClientID]; ok {
			return ErrDuplicateClientID
		}
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	m.nextID[msg.Collection]++
	msg.ID = m.nextID[msg.Collection]

	m.rows[msg.Collection] = append(m.rows[msg.Collection], *msg)
	if msg.ClientID != "" {
		m.clientID[string(msg.Collection)+":"+msg.ClientID] = msg.ID
	}
	return nil
}

// ListMessages returns a page in canonical order.
func (m *MockStore) ListMessages(ctx context.Context, q Query) (*Page, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if !q.Collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", q.Collection)
	}
	q = q.normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []chat.Message
	for _, msg := range m.rows[q.Collection] {
		if q.Collection == chat.CollectionDirectMessages && q.Participant != "" && !msg.Involves(q.Participant) {
			continue
		}
		matched = append(matched, msg)
	}
	sort.SliceStable(matched, func(i, j int) bool { return chat.Less(matched[i], matched[j]) })

	page := &Page{Total: len(matched)}
	if q.Offset >= len(matched) {
		return page, nil
	}
	end := min(q.Offset+q.Limit, len(matched))
	page.Messages = append([]chat.Message(nil), matched[q.Offset:end]...)
	return page, nil
}

// GetMessageByClientID finds the row inserted with clientID.
func (m *MockStore) GetMessageByClientID(ctx context.Context, c chat.Collection, clientID string) (*chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.clientID[string(c)+":"+clientID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, msg := range m.rows[c] {
		if msg.ID == id {
			result := msg
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// compile-time check
var _ Store = (*MockStore)(nil)
