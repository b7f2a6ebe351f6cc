// Package gateway serves the chatroom backend over HTTP.
//
// # Overview
//
// The Gateway owns the message store, the blob store, the conversation
// service and its change-feed broadcaster. It exposes them through one
// gorilla/mux router wrapped in CORS and Prometheus request metrics.
//
// # Endpoints
//
//   - GET  /health - Liveness check
//   - GET  /rest/v1/{table} - Page of rows in created_at, id order
//   - POST /rest/v1/{table} - Insert one row
//   - GET  /realtime/v1/websocket - Change feed and presence
//   - GET  /storage/v1/object/public/{bucket}/{key} - Read an object
//   - POST /storage/v1/object/{bucket}/{key} - Upload an object
//   - GET  /metrics - Prometheus metrics, when enabled
//
// Tables are "messages" and "direct_messages". Select accepts limit, offset,
// order=created_at.asc and, for direct messages, participant. The response
// carries Content-Range: first-last/total so clients can page until they
// have read total rows.
//
// Inserts carry an optional client_id. Re-sending a row with a client_id the
// collection already holds returns the stored row with status 200 instead
// of creating a second one.
//
// # Change Feed
//
// A websocket connection multiplexes topics with JSON frames:
//
//	{"topic":"realtime:public:messages","event":"join","ref":"1"}
//	{"topic":"realtime:public:messages","event":"reply","ref":"1","payload":{"status":"ok"}}
//	{"topic":"realtime:public:messages","event":"insert","ref":"1","payload":{"schema":"public","table":"messages","type":"INSERT","new":{...}}}
//
// Every join carries a ref that tags the events of that subscription; a
// leave frame names the ref it ends, so one connection may hold several
// subscriptions to the same topic.
//
// Direct message topics name a participant
// (realtime:public:direct_messages:alice) and only deliver rows that user
// sent or received.
//
// Inserts are published after the row is committed, so a snapshot read
// after an event is observed always contains it. A connection that falls
// sendBufferSize frames behind is closed rather than silently skipping rows.
//
// # Presence
//
// Topics named presence:<room> track who is online. Joining with
// {"user":"alice"} returns presence_join for every current member, and the
// rest of the room receives presence_join for alice if this is her first
// connection. presence_leave follows her last connection closing.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is cancelled
//
// Shutdown stops the HTTP server, closes websocket connections, and
// releases the store. It is safe to call more than once.
package gateway
