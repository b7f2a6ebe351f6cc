// ABOUTME: Store interface and query types for chatroom persistence
// ABOUTME: Rows of the messages and direct_messages tables are exchanged as chat.Message values

package store

import (
	"context"
	"errors"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateClientID is returned when a row with the same client token
// already exists in the collection
var ErrDuplicateClientID = errors.New("client_id already exists")

// DefaultPageSize caps a page when the caller does not set a limit
const DefaultPageSize = 100

// MaxPageSize is the largest page a single query may return
const MaxPageSize = 1000

// Query selects a page of a collection in canonical order
// (created_at ascending, id ascending).
type Query struct {
	Collection chat.Collection

	// Participant restricts direct messages to those sent or received by
	// this user. Ignored for the messages collection.
	Participant string

	Limit  int
	Offset int
}

// normalize clamps the page bounds.
func (q Query) normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Page is one slice of a collection plus the collection's total row count
// for the same filter.
type Page struct {
	Messages []chat.Message
	Total    int
}

// Store defines the interface for message persistence
type Store interface {
	// InsertMessage appends a row. ID is assigned by the store; CreatedAt is
	// set to now when zero. Returns ErrDuplicateClientID when the client
	// token was already used in the collection.
	InsertMessage(ctx context.Context, msg *chat.Message) error

	// ListMessages returns a page in canonical order.
	ListMessages(ctx context.Context, q Query) (*Page, error)

	// GetMessageByClientID finds the row inserted with a client token.
	GetMessageByClientID(ctx context.Context, c chat.Collection, clientID string) (*chat.Message, error)

	Close() error
}
