// Package realtime is the client side of the websocket change feed.
//
// # Overview
//
// A Client holds one websocket connection and multiplexes any number of
// Subscriptions over it, one per joined topic. Table topics deliver row
// inserts; presence topics deliver member joins and leaves.
//
//	rt := realtime.New(backend.RealtimeURL(), realtime.Options{Logger: logger})
//	defer rt.Close()
//
//	sub, err := rt.SubscribeTable(chat.Topic{Collection: chat.CollectionMessages}, realtime.Handler{
//	    OnInsert: func(m chat.Message) { ... },
//	    OnActive: func(resumed bool) { ... },
//	    OnError:  func(err error) { ... },
//	})
//
// # Lifecycle
//
// Subscriptions move pending -> active -> closed. A dropped connection puts
// active subscriptions back to pending while the client redials with
// jittered exponential backoff. After a reconnect every subscription is
// joined again and OnActive(true) tells it that events may have been
// missed; the feed has no resumable cursor.
//
// When ReconnectAttempts dials in a row fail, every subscription receives
// OnError with an error wrapping chat.ErrConnectionLost and is closed. The
// Client itself stays usable.
//
// # Callback Guarantees
//
// Handlers run on the read goroutine while holding the subscription's lock.
// Subscription.Close takes the same lock, so once Close returns no handler
// of that subscription is running or will run. Closing one subscription
// sends a leave for its ref only; siblings on the same connection are not
// disturbed.
package realtime
