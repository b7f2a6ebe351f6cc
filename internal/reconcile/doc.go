// Package reconcile merges a snapshot read with a live change feed into one
// ordered, duplicate-free view per collection.
//
// # Overview
//
// A Reconciler owns one feed subscription and issues snapshot reads for a
// single topic. It never touches a View itself; it hands Deltas to the
// Apply callback, which inserts them with View.Insert. Insert is keyed by
// message identity, so replays and overlaps between snapshot rows and feed
// events collapse to one entry, and positions come from chat.Less rather
// than from arrival order.
//
// # Ordering of Snapshot and Feed
//
//  1. Start subscribes and requests a snapshot without waiting for either.
//  2. Events delivered before the first snapshot resolves are buffered.
//  3. The snapshot rows and the buffer are merged into one Delta.
//  4. Every later event becomes its own Delta.
//
// Each confirmed join, first or resumed, triggers another snapshot read.
// The feed has no cursor, so rows committed while a join was in flight or
// while the connection was down are recovered this way.
//
// # Failure Handling
//
// Snapshot reads that fail with chat.ErrTransientFetch are retried with
// jittered exponential backoff. When the attempts run out the Reconciler
// reports StatusDegraded and shows live events only. A feed that fails
// with chat.ErrConnectionLost is resubscribed after a backoff delay; when
// the resubscription budget is spent the status becomes StatusOffline and
// the view keeps what it already has.
//
// # Threading
//
// Every method, and every call into Apply, runs on the owner goroutine
// supplied through Config.Post. Feed callbacks and snapshot completions are
// posted there; callbacks from a replaced subscription or a closed
// Reconciler are dropped.
package reconcile
