// Package session holds everything a chat client shows and does for one user.
//
// A Session owns a View per collection (room messages and direct messages),
// the presence Tracker of its room, the draft text and the user's identity.
// All of it is mutated on a single owner goroutine: feed events, snapshot
// results, send confirmations and commands are queued to it in order, and
// the presentation callbacks in Config run there too.
//
//	api := client.New(baseURL)
//	s, err := session.New(session.Config{
//	    Backend:       api,
//	    Transport:     realtime.New(api.RealtimeURL(), realtime.Options{}),
//	    Username:      "alice",
//	    OnViewChanged: render,
//	})
//	defer s.Close()
//
//	err = s.SendMessage(ctx, "hello")
//
// # Sends
//
// A send is validated locally, shown at once as a provisional entry with a
// fresh client token, then inserted. The stored row, from the insert
// response or from the feed, replaces the provisional entry, so each send
// is shown once. A failed send removes the provisional entry and keeps the
// text as the draft unless the user has typed something else meanwhile.
// Resending the same text reuses the failed send's client token, so a send
// that was stored even though its response was lost is not stored twice.
//
// # Teardown
//
// Close stops the owner goroutine before closing subscriptions and the
// transport. Events still in flight at that point are dropped, and no
// callback runs after Close returns. Close must not be called from a
// callback.
package session
