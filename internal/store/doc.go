// Package store provides persistent storage for the chatroom backend using SQLite.
//
// # Architecture
//
// Store is the single interface the backend depends on. SQLiteStore
// implements it on database/sql with either the pure-Go modernc driver
// ("sqlite") or the cgo mattn driver ("sqlite3"); MockStore implements it in
// memory for tests.
//
// # Data Models
//
// Two tables are kept, both exchanged as chat.Message values:
//
//   - messages: public room messages (username, message, profile_pic, role, status)
//   - direct_messages: private messages (sender, recipient, message)
//
// Every row has a store-assigned integer id, a created_at timestamp and an
// optional client_id. The client_id is unique per table so a retried insert
// can be answered with the original row.
//
// # Ordering
//
// Queries return rows ordered by created_at ascending, then id ascending.
// Pages are addressed by limit and offset, and every page reports the total
// row count for its filter so readers can detect an incomplete scan.
package store
