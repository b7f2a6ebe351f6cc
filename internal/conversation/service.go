// ABOUTME: Service is the central layer for message persistence and fan-out
// ABOUTME: Every insert is recorded in the store before it is published on the change feed

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/dedupe"
	"github.com/Danieldaguy/Chatroom-Testing/internal/store"
)

// MessageStore defines what the service needs from storage
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *chat.Message) error
	ListMessages(ctx context.Context, q store.Query) (*store.Page, error)
	GetMessageByClientID(ctx context.Context, c chat.Collection, clientID string) (*chat.Message, error)
}

// Default dedupe window for client tokens.
const (
	DefaultDedupeTTL  = 5 * time.Minute
	DefaultDedupeSize = 10000
)

// Options tunes a Service. Zero values select defaults.
type Options struct {
	DedupeTTL  time.Duration
	DedupeSize int
}

// Service is the conversation layer that ensures every message is persisted
// before any subscriber hears about it.
type Service struct {
	store       MessageStore
	broadcaster *EventBroadcaster
	recent      *dedupe.Cache[chat.Message]
	logger      *slog.Logger
}

// New creates a new Service
func New(s MessageStore, broadcaster *EventBroadcaster, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = DefaultDedupeTTL
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = DefaultDedupeSize
	}
	return &Service{
		store:       s,
		broadcaster: broadcaster,
		recent:      dedupe.New[chat.Message](opts.DedupeTTL, opts.DedupeSize),
		logger:      logger.With("component", "conversation"),
	}
}

// PostResult is the outcome of Post.
type PostResult struct {
	Message chat.Message

	// Created is false when the client token had already been accepted and
	// Message is the row stored the first time.
	Created bool
}

// Post records msg and publishes it on the change feed.
//
// Key principle: record first, then act. The row is in the store before any
// subscriber sees the insert, so a snapshot taken after the event always
// contains it.
func (s *Service) Post(ctx context.Context, msg chat.Message) (*PostResult, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}

	if msg.ClientID != "" {
		if prev, ok := s.recent.Get(dedupeKey(msg.Collection, msg.ClientID)); ok {
			s.logger.Debug("duplicate post answered from cache",
				"collection", msg.Collection,
				"client_id", msg.ClientID,
				"id", prev.ID)
			return &PostResult{Message: prev}, nil
		}
	}

	// The store stamps the commit time; a client supplied time is ignored.
	msg.ID = 0
	msg.CreatedAt = time.Time{}

	err := s.store.InsertMessage(ctx, &msg)
	if errors.Is(err, store.ErrDuplicateClientID) {
		prev, lookupErr := s.store.GetMessageByClientID(ctx, msg.Collection, msg.ClientID)
		if lookupErr != nil {
			return nil, fmt.Errorf("looking up duplicate client_id: %w", lookupErr)
		}
		s.recent.Put(dedupeKey(msg.Collection, msg.ClientID), *prev)
		return &PostResult{Message: *prev}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	if msg.ClientID != "" {
		s.recent.Put(dedupeKey(msg.Collection, msg.ClientID), msg)
	}

	s.logger.Debug("message recorded",
		"collection", msg.Collection,
		"id", msg.ID,
		"author", msg.Author)

	if s.broadcaster != nil {
		s.broadcaster.Publish(msg)
	}

	return &PostResult{Message: msg, Created: true}, nil
}

// History returns one page of a collection in canonical order.
func (s *Service) History(ctx context.Context, q store.Query) (*store.Page, error) {
	if !q.Collection.Valid() {
		return nil, fmt.Errorf("%w: unknown collection %q", chat.ErrValidation, q.Collection)
	}
	return s.store.ListMessages(ctx, q)
}

// Close releases the dedupe cache.
func (s *Service) Close() {
	s.recent.Close()
}

func validate(msg chat.Message) error {
	if !msg.Collection.Valid() {
		return fmt.Errorf("%w: unknown collection %q", chat.ErrValidation, msg.Collection)
	}
	if err := chat.ValidateDraft(msg.Author, msg.Body); err != nil {
		return err
	}
	if msg.Collection == chat.CollectionDirectMessages && strings.TrimSpace(msg.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", chat.ErrValidation)
	}
	return nil
}

func dedupeKey(c chat.Collection, clientID string) string {
	return string(c) + ":" + clientID
}
