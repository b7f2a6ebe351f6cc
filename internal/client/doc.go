// Package client is the HTTP client for the chatroom backend.
//
// # Overview
//
// Client wraps the backend's REST table API and object storage endpoints.
// The realtime change feed is a websocket and lives in package realtime;
// RealtimeURL gives its address.
//
// # Methods
//
//   - Select: One page of a table in created_at order, plus the total row
//     count parsed from Content-Range
//   - Insert: Store one row and return it as stored
//   - Upload: Store an object and return its public URL
//
// # Errors
//
// Non-2xx responses are returned as *StatusError carrying the HTTP status
// and the server's {"error": "..."} message. Transport failures are
// returned wrapped. Callers above this package translate both into the
// chat error taxonomy.
package client
