// ABOUTME: In-memory fan-out broadcaster for committed message inserts
// ABOUTME: Publishes persisted messages to every subscriber of a collection

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventBroadcaster provides in-memory pub/sub for persisted messages.
// Subscribers register for a collection and receive every insert committed
// to it, in commit order.
//
// A subscriber that falls subscriberBufferSize events behind is dropped and
// its channel closed. Losing an event silently would leave that client's
// view wrong forever, while a closed feed makes it reconnect and re-read the
// snapshot.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[chat.Collection]map[string]chan chat.Message // collection -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[chat.Collection]map[string]chan chat.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for inserts into the given collection.
// Returns a channel that receives messages and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, c chat.Collection) (<-chan chat.Message, string) {
	subID := uuid.New().String()
	ch := make(chan chat.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[c]; !ok {
		b.subscribers[c] = make(map[string]chan chat.Message)
	}
	b.subscribers[c][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"collection", c,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(c, subID)
	}()

	return ch, subID
}

// Publish sends msg to all subscribers of its collection.
// Non-blocking: subscribers whose channels are full are dropped.
func (b *EventBroadcaster) Publish(msg chat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[msg.Collection]
	if !ok {
		return
	}

	for id, ch := range subs {
		select {
		case ch <- msg:
		default:
			delete(subs, id)
			close(ch)
			b.logger.Warn("dropped slow subscriber",
				"collection", msg.Collection,
				"sub_id", id,
				"message_id", msg.ID)
		}
	}

	if len(subs) == 0 {
		delete(b.subscribers, msg.Collection)
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(c chat.Collection, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[c]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, c)
	}

	b.logger.Debug("subscriber removed",
		"collection", c,
		"sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions on a collection.
func (b *EventBroadcaster) SubscriberCount(c chat.Collection) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[c])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, c)
	}

	b.logger.Debug("broadcaster closed")
}
