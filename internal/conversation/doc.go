// Package conversation provides the backend's message write path.
//
// # Service
//
// The Service sits between the HTTP handlers and the store:
//
//	svc := conversation.New(store, broadcaster, conversation.Options{}, logger)
//
// Key operations:
//
//   - Post(ctx, msg): validate, persist, then publish an insert
//   - History(ctx, query): read one page of a collection in canonical order
//
// Posts carrying a client token are idempotent. A retried post returns the
// row stored the first time and publishes nothing. Recent tokens are answered
// from an in-memory cache; older ones fall back to the store's unique index.
//
// # Event Broadcasting
//
// EventBroadcaster fans committed inserts out to websocket connections:
//
//	ch, subID := broadcaster.Subscribe(ctx, chat.CollectionMessages)
//
// Each subscriber sees inserts in commit order. A subscriber that cannot
// keep up is dropped and its channel closed; the connection serving it then
// closes, and the client recovers by reconnecting and reading a fresh
// snapshot.
package conversation
