// ABOUTME: Tests for EventBroadcaster fan-out pub/sub system
// ABOUTME: Covers subscribe, publish, slow subscriber eviction, context cancellation, concurrency

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

func makeMessage(id int64, c chat.Collection) chat.Message {
	return chat.Message{
		ID:         id,
		Collection: c,
		Author:     "test-user",
		Body:       "hello",
		CreatedAt:  time.Now(),
	}
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), chat.CollectionMessages)

	b.Publish(makeMessage(1, chat.CollectionMessages))

	select {
	case received := <-ch:
		assert.Equal(t, int64(1), received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, chat.CollectionMessages)
	ch2, _ := b.Subscribe(ctx, chat.CollectionMessages)
	ch3, _ := b.Subscribe(ctx, chat.CollectionMessages)

	b.Publish(makeMessage(2, chat.CollectionMessages))

	for i, ch := range []<-chan chat.Message{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, int64(2), received.ID, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_CollectionsAreIsolated(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	room, _ := b.Subscribe(ctx, chat.CollectionMessages)
	dms, _ := b.Subscribe(ctx, chat.CollectionDirectMessages)

	b.Publish(makeMessage(1, chat.CollectionDirectMessages))

	select {
	case received := <-dms:
		assert.Equal(t, chat.CollectionDirectMessages, received.Collection)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for direct message")
	}

	select {
	case <-room:
		t.Fatal("room subscriber should not see direct messages")
	default:
	}
}

func TestBroadcaster_PreservesPublishOrder(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), chat.CollectionMessages)
	for i := int64(1); i <= 10; i++ {
		b.Publish(makeMessage(i, chat.CollectionMessages))
	}

	for i := int64(1); i <= 10; i++ {
		received := <-ch
		assert.Equal(t, i, received.ID)
	}
}

func TestBroadcaster_SlowSubscriberIsDropped(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	slow, _ := b.Subscribe(t.Context(), chat.CollectionMessages)

	done := make(chan struct{})
	go func() {
		for i := range subscriberBufferSize + 1 {
			b.Publish(makeMessage(int64(i+1), chat.CollectionMessages))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	count := 0
	for range slow {
		count++
	}
	assert.Equal(t, subscriberBufferSize, count, "buffered events are delivered before the channel closes")
	assert.Equal(t, 0, b.SubscriberCount(chat.CollectionMessages))
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, chat.CollectionMessages)
	require.Equal(t, 1, b.SubscriberCount(chat.CollectionMessages))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancellation")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after context cancellation")
	}
	assert.Equal(t, 0, b.SubscriberCount(chat.CollectionMessages))
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), chat.CollectionMessages)
	b.Unsubscribe(chat.CollectionMessages, subID)

	_, ok := <-ch
	assert.False(t, ok)

	// second unsubscribe is a no-op
	b.Unsubscribe(chat.CollectionMessages, subID)
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewEventBroadcaster(nil)

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, chat.CollectionMessages)
	ch2, _ := b.Subscribe(ctx, chat.CollectionDirectMessages)

	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, _ := b.Subscribe(ctx, chat.CollectionMessages)
			for range ch {
			}
		}()
	}
	for i := range 20 {
		b.Publish(makeMessage(int64(i+1), chat.CollectionMessages))
	}

	cancel()
	wg.Wait()
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	b.Publish(makeMessage(1, chat.CollectionMessages))
	assert.Equal(t, 0, b.SubscriberCount(chat.CollectionMessages))
}
