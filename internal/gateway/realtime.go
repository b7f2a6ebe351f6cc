// ABOUTME: Websocket change feed: clients join table topics and receive committed inserts
// ABOUTME: One connection multiplexes many topics; presence topics are delegated to presenceHub

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
)

const (
	// sendBufferSize is the per-connection outbound frame queue.
	sendBufferSize = 256

	// maxFrameSize bounds a single inbound frame.
	maxFrameSize = 64 << 10

	presencePrefix = "presence:"
)

// newUpgrader accepts origins listed in allowed. An empty list, or a request
// without an Origin header, is accepted.
func newUpgrader(allowed []string) websocket.Upgrader {
	allowedMap := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowedMap) == 0 || origin == "" {
				return true
			}
			return allowedMap[origin]
		},
	}
}

// wsConn is one client connection.
type wsConn struct {
	gw   *Gateway
	conn *websocket.Conn
	send chan *chat.Frame

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     map[string]context.CancelFunc // join ref -> cancel
	presence map[string]bool               // joined presence rooms
}

// handleWebSocket serves GET /realtime/v1/websocket.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(g.config.Server.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(g.connCtx)
	c := &wsConn{
		gw:       g,
		conn:     conn,
		send:     make(chan *chat.Frame, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[string]context.CancelFunc),
		presence: make(map[string]bool),
	}

	g.trackConn(c, true)
	g.metrics.connections.Inc()
	g.logger.Debug("websocket connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.readPump()

	c.cancel()
	<-done
	c.cleanup()
	g.trackConn(c, false)
	g.metrics.connections.Dec()
	g.logger.Debug("websocket disconnected", "remote", r.RemoteAddr)
}

func (g *Gateway) trackConn(c *wsConn, add bool) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	if add {
		g.conns[c] = struct{}{}
	} else {
		delete(g.conns, c)
	}
}

// DropConnections closes every open websocket connection. New connections
// are still accepted; clients are expected to reconnect.
func (g *Gateway) DropConnections() {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	for c := range g.conns {
		c.cancel()
	}
}

// enqueue queues f for the writer. A connection whose queue is full is
// closed; the client reconnects and re-reads its snapshot.
func (c *wsConn) enqueue(f *chat.Frame) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- f:
		return true
	default:
		c.gw.metrics.slowConsumers.Inc()
		c.gw.logger.Warn("closing slow websocket consumer", "topic", f.Topic)
		c.cancel()
		return false
	}
}

func (c *wsConn) reply(topic, ref, status, reason string) {
	f, err := chat.NewFrame(topic, chat.EventReply, ref, chat.ReplyPayload{Status: status, Reason: reason})
	if err != nil {
		return
	}
	c.enqueue(f)
}

func (c *wsConn) readPump() {
	pongTimeout := c.gw.config.Realtime.PongTimeout

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var f chat.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.gw.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		c.handleFrame(&f)
	}
}

func (c *wsConn) writePump() {
	rt := c.gw.config.Realtime
	ticker := time.NewTicker(rt.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(rt.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(rt.WriteTimeout))
			if err := c.conn.WriteJSON(f); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(rt.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *wsConn) handleFrame(f *chat.Frame) {
	switch {
	case strings.HasPrefix(f.Topic, presencePrefix):
		c.handlePresence(f)
	case f.Event == chat.EventJoin:
		c.join(f)
	case f.Event == chat.EventLeave:
		c.leave(f)
	default:
		c.reply(f.Topic, f.Ref, "error", "unsupported event")
	}
}

// join subscribes the connection to a table topic under the frame's ref.
// The broadcaster subscription is registered before the reply is queued, so
// every insert committed after the client sees "ok" is delivered.
func (c *wsConn) join(f *chat.Frame) {
	topic, ok := chat.ParseTopic(f.Topic)
	if !ok {
		c.reply(f.Topic, f.Ref, "error", "unknown topic")
		return
	}
	if topic.Collection == chat.CollectionDirectMessages && topic.Participant == "" {
		c.reply(f.Topic, f.Ref, "error", "direct_messages requires a participant")
		return
	}
	if f.Ref == "" {
		c.reply(f.Topic, f.Ref, "error", "ref is required")
		return
	}

	subCtx, cancel := context.WithCancel(c.ctx)
	ch, _ := c.gw.broadcaster.Subscribe(subCtx, topic.Collection)

	c.mu.Lock()
	prev, rejoin := c.subs[f.Ref]
	c.subs[f.Ref] = cancel
	c.mu.Unlock()

	if rejoin {
		prev()
	} else {
		c.gw.metrics.subscriptions.Inc()
	}

	c.reply(f.Topic, f.Ref, "ok", "")
	go c.forward(subCtx, f.Topic, f.Ref, topic, ch)
}

func (c *wsConn) forward(ctx context.Context, wire, ref string, topic chat.Topic, ch <-chan chat.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				// dropped by the broadcaster while still joined
				if ctx.Err() == nil {
					c.cancel()
				}
				return
			}
			if topic.Collection == chat.CollectionDirectMessages && !m.Involves(topic.Participant) {
				continue
			}
			frame, err := chat.InsertFrame(m)
			if err != nil {
				c.gw.logger.Error("encoding insert frame", "id", m.ID, "error", err)
				continue
			}
			frame.Topic = wire
			frame.Ref = ref
			if !c.enqueue(frame) {
				return
			}
		}
	}
}

// leave ends the subscription joined under the frame's ref.
func (c *wsConn) leave(f *chat.Frame) {
	c.mu.Lock()
	cancel, ok := c.subs[f.Ref]
	delete(c.subs, f.Ref)
	c.mu.Unlock()

	if ok {
		cancel()
		c.gw.metrics.subscriptions.Dec()
	}
	c.reply(f.Topic, f.Ref, "ok", "")
}

func (c *wsConn) handlePresence(f *chat.Frame) {
	room := strings.TrimPrefix(f.Topic, presencePrefix)
	if room == "" {
		c.reply(f.Topic, f.Ref, "error", "room is required")
		return
	}

	switch f.Event {
	case chat.EventJoin:
		var p chat.JoinPayload
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				c.reply(f.Topic, f.Ref, "error", "invalid payload")
				return
			}
		}
		if strings.TrimSpace(p.User) == "" {
			c.reply(f.Topic, f.Ref, "error", "user is required")
			return
		}
		c.mu.Lock()
		c.presence[room] = true
		c.mu.Unlock()

		c.reply(f.Topic, f.Ref, "ok", "")
		c.gw.presence.join(room, p.User, f.Ref, c)
	case chat.EventLeave:
		c.mu.Lock()
		delete(c.presence, room)
		c.mu.Unlock()

		c.gw.presence.leave(room, c)
		c.reply(f.Topic, f.Ref, "ok", "")
	default:
		c.reply(f.Topic, f.Ref, "error", "unsupported event")
	}
}

// cleanup releases subscriptions and presence once both pumps have stopped.
func (c *wsConn) cleanup() {
	c.mu.Lock()
	subs := c.subs
	rooms := c.presence
	c.subs = make(map[string]context.CancelFunc)
	c.presence = make(map[string]bool)
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
		c.gw.metrics.subscriptions.Dec()
	}
	for room := range rooms {
		c.gw.presence.leave(room, c)
	}
}
